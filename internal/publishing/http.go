package publishing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"lectern/internal/config"
	"lectern/internal/services"
)

const defaultRequestTimeout = 5 * time.Minute

// HTTPClient publishes recordings to a platform's upload endpoint with a
// multipart POST carrying the media file, optional subtitle track, and a
// metadata JSON part.
type HTTPClient struct {
	name     string
	endpoint string
	tokens   TokenSource
	client   *http.Client
}

// NewHTTPClient builds a platform client from daemon configuration.
func NewHTTPClient(name string, cfg config.Platform) *HTTPClient {
	timeout := time.Duration(cfg.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	return &HTTPClient{
		name:     name,
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
		tokens:   NewRefreshingTokenSource(cfg),
		client:   &http.Client{Timeout: timeout},
	}
}

func (c *HTTPClient) Name() string { return c.name }

func (c *HTTPClient) Upload(ctx context.Context, req Request) (string, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return "", services.Wrap(services.ErrFatalAuth, "publish", "acquire token",
			fmt.Sprintf("platform %s has no usable credential", c.name), err)
	}

	body, contentType, err := buildUploadBody(req)
	if err != nil {
		return "", services.Wrap(services.ErrValidation, "publish", "build upload",
			fmt.Sprintf("platform %s upload payload could not be assembled", c.name), err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/uploads", body)
	if err != nil {
		return "", services.Wrap(services.ErrValidation, "publish", "build request", "invalid upload request", err)
	}
	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", services.Wrap(services.ErrTransient, "publish", "upload",
			fmt.Sprintf("platform %s is unreachable", c.name), err)
	}
	defer resp.Body.Close()

	return c.decodeUploadResponse(resp)
}

func (c *HTTPClient) decodeUploadResponse(resp *http.Response) (string, error) {
	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated:
		var payload struct {
			ID string `json:"id"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
			return "", services.Wrap(services.ErrExternalTool, "publish", "decode response",
				fmt.Sprintf("platform %s returned an unreadable upload response", c.name), err)
		}
		if payload.ID == "" {
			return "", services.Wrap(services.ErrExternalTool, "publish", "decode response",
				fmt.Sprintf("platform %s accepted the upload but returned no id", c.name), nil)
		}
		return payload.ID, nil
	case resp.StatusCode == http.StatusUnauthorized:
		return "", services.Wrap(services.ErrAuthExpired, "publish", "upload",
			fmt.Sprintf("platform %s rejected the access token", c.name), nil)
	case resp.StatusCode == http.StatusForbidden:
		return "", services.Wrap(services.ErrFatalAuth, "publish", "upload",
			fmt.Sprintf("platform %s denied access for this credential", c.name), nil)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return "", services.Wrap(services.ErrTransient, "publish", "upload",
			fmt.Sprintf("platform %s returned status %d", c.name, resp.StatusCode), nil)
	default:
		return "", services.Wrap(services.ErrValidation, "publish", "upload",
			fmt.Sprintf("platform %s rejected the upload with status %d", c.name, resp.StatusCode), nil)
	}
}

// RefreshAuth exchanges the platform credential for a fresh token after
// an upload reported expiry.
func (c *HTTPClient) RefreshAuth(ctx context.Context) error {
	_, err := c.tokens.Refresh(ctx)
	return err
}

func (c *HTTPClient) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("platform %s health status %d", c.name, resp.StatusCode)
	}
	return nil
}

func buildUploadBody(req Request) (io.Reader, string, error) {
	buf := &bytes.Buffer{}
	writer := multipart.NewWriter(buf)

	metadata, err := json.Marshal(req.Metadata)
	if err != nil {
		return nil, "", err
	}
	if err := writer.WriteField("metadata", string(metadata)); err != nil {
		return nil, "", err
	}
	if err := attachFile(writer, "media", req.MediaPath); err != nil {
		return nil, "", err
	}
	if req.SubtitlePath != "" {
		if err := attachFile(writer, "subtitles", req.SubtitlePath); err != nil {
			return nil, "", err
		}
	}
	if err := writer.Close(); err != nil {
		return nil, "", err
	}
	return buf, writer.FormDataContentType(), nil
}

func attachFile(writer *multipart.Writer, field, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	part, err := writer.CreateFormFile(field, filepath.Base(path))
	if err != nil {
		return err
	}
	_, err = io.Copy(part, file)
	return err
}

// RefreshingTokenSource holds the current bearer token and exchanges the
// long-lived credential for a fresh one at the platform's refresh URL.
type RefreshingTokenSource struct {
	mu         sync.Mutex
	current    string
	credential string
	refreshURL string
	client     *http.Client
}

func NewRefreshingTokenSource(cfg config.Platform) *RefreshingTokenSource {
	return &RefreshingTokenSource{
		current:    cfg.Credential,
		credential: cfg.Credential,
		refreshURL: cfg.RefreshURL,
		client:     &http.Client{Timeout: 30 * time.Second},
	}
}

func (t *RefreshingTokenSource) Token(ctx context.Context) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.current == "" {
		return "", fmt.Errorf("no credential configured")
	}
	return t.current, nil
}

// Refresh exchanges the configured credential for a new access token.
// Platforms without a refresh URL cannot recover from expiry.
func (t *RefreshingTokenSource) Refresh(ctx context.Context) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.refreshURL == "" {
		return "", services.Wrap(services.ErrFatalAuth, "publish", "refresh token",
			"platform has no token refresh endpoint", nil)
	}

	payload, err := json.Marshal(map[string]string{"credential": t.credential})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.refreshURL, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return "", services.Wrap(services.ErrTransient, "publish", "refresh token",
			"token refresh endpoint unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", services.Wrap(services.ErrFatalAuth, "publish", "refresh token",
			fmt.Sprintf("token refresh failed with status %d", resp.StatusCode), nil)
	}
	var body struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || body.Token == "" {
		return "", services.Wrap(services.ErrFatalAuth, "publish", "refresh token",
			"token refresh response missing token", err)
	}
	t.current = body.Token
	return t.current, nil
}
