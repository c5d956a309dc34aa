package sourcesync

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"lectern/internal/config"
	"lectern/internal/services"
)

// HTTPLister reads the source system's recording listing:
// GET {endpoint}/recordings returns a JSON array of finished recordings.
type HTTPLister struct {
	endpoint string
	token    string
	client   *http.Client
}

func NewHTTPLister(cfg config.Source) *HTTPLister {
	return &HTTPLister{
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
		token:    cfg.Token,
		client:   &http.Client{Timeout: time.Minute},
	}
}

func (l *HTTPLister) ListRecordings(ctx context.Context) ([]Recording, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.endpoint+"/recordings", nil)
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "sync", "build request", "invalid listing request", err)
	}
	if l.token != "" {
		req.Header.Set("Authorization", "Bearer "+l.token)
	}

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "sync", "list recordings",
			"source system is unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, services.Wrap(services.ErrFatalAuth, "sync", "list recordings",
			"source system rejected the configured token", nil)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, services.Wrap(services.ErrTransient, "sync", "list recordings",
			fmt.Sprintf("source system returned status %d", resp.StatusCode), nil)
	}

	var payload []struct {
		ID              string  `json:"id"`
		TenantID        string  `json:"tenant_id"`
		Title           string  `json:"title"`
		DurationSeconds float64 `json:"duration_seconds"`
		SizeBytes       int64   `json:"size_bytes"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, services.Wrap(services.ErrExternalTool, "sync", "list recordings",
			"source listing is unreadable", err)
	}

	recordings := make([]Recording, 0, len(payload))
	for _, entry := range payload {
		recordings = append(recordings, Recording{
			SourceID:        entry.ID,
			TenantID:        entry.TenantID,
			Title:           entry.Title,
			DurationSeconds: entry.DurationSeconds,
			SizeBytes:       entry.SizeBytes,
		})
	}
	return recordings, nil
}
