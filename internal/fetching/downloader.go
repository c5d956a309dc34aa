package fetching

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"lectern/internal/config"
	"lectern/internal/services"
)

// HTTPDownloader pulls recordings from the source system's media
// endpoint: GET {endpoint}/recordings/{id}/media with a bearer token.
type HTTPDownloader struct {
	endpoint string
	token    string
	client   *http.Client
}

func NewHTTPDownloader(cfg config.Source) *HTTPDownloader {
	return &HTTPDownloader{
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
		token:    cfg.Token,
		client:   &http.Client{Timeout: 30 * time.Minute},
	}
}

func (d *HTTPDownloader) Download(ctx context.Context, sourceID, destPath string) (int64, error) {
	mediaURL := fmt.Sprintf("%s/recordings/%s/media", d.endpoint, url.PathEscape(sourceID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, mediaURL, nil)
	if err != nil {
		return 0, services.Wrap(services.ErrValidation, "fetch", "build request", "invalid media request", err)
	}
	if d.token != "" {
		req.Header.Set("Authorization", "Bearer "+d.token)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, services.Wrap(services.ErrTransient, "fetch", "download",
			"source system is unreachable", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound:
		return 0, services.Wrap(services.ErrNotFound, "fetch", "download",
			fmt.Sprintf("recording %s no longer exists at the source", sourceID), nil)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return 0, services.Wrap(services.ErrFatalAuth, "fetch", "download",
			"source system rejected the configured token", nil)
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return 0, services.Wrap(services.ErrTransient, "fetch", "download",
			fmt.Sprintf("source system returned status %d", resp.StatusCode), nil)
	default:
		return 0, services.Wrap(services.ErrExternalTool, "fetch", "download",
			fmt.Sprintf("unexpected source status %d", resp.StatusCode), nil)
	}

	file, err := os.Create(destPath)
	if err != nil {
		return 0, services.Wrap(services.ErrConfiguration, "fetch", "download",
			"cannot write to staging directory", err)
	}
	written, err := io.Copy(file, resp.Body)
	if err != nil {
		file.Close()
		os.Remove(destPath)
		return 0, services.Wrap(services.ErrTransient, "fetch", "download",
			"download interrupted", err)
	}
	if err := file.Close(); err != nil {
		return 0, err
	}
	return written, nil
}

func (d *HTTPDownloader) Ping(ctx context.Context) error {
	if d.endpoint == "" {
		return fmt.Errorf("source endpoint not configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.endpoint+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("source health status %d", resp.StatusCode)
	}
	return nil
}
