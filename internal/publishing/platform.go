// Package publishing uploads finished recordings to external platforms
// and aggregates per-target results into a single item outcome.
package publishing

import (
	"context"

	"lectern/internal/resolve"
)

// Request carries everything a platform needs to publish one recording.
type Request struct {
	TenantID     string
	SourceID     string
	MediaPath    string
	SubtitlePath string
	Metadata     resolve.Metadata
}

// Client publishes to one external platform. Upload returns the
// platform's identifier for the published recording. Auth failures are
// reported with services.ErrAuthExpired when a token refresh may help
// and services.ErrFatalAuth when it cannot.
type Client interface {
	Name() string
	Upload(ctx context.Context, req Request) (externalRef string, err error)
	HealthCheck(ctx context.Context) error
}

// TokenSource supplies and refreshes platform credentials. Refresh is
// called at most once per upload attempt sequence.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
	Refresh(ctx context.Context) (string, error)
}
