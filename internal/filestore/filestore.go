// Package filestore stores working artifacts (fetched recordings,
// transcripts, rendered subtitles) behind a small blob interface with a
// local-disk backend and an S3 backend. Artifacts are addressed by refs
// of the form "local:key" or "s3:key" so items can record where their
// files live independently of the configured backend.
package filestore

import (
	"context"
	"fmt"
	"strings"

	"lectern/internal/config"
)

// Store is the blob contract the stages use.
type Store interface {
	// Save uploads the file at path under key and returns the ref.
	Save(ctx context.Context, key, path string) (string, error)
	// Fetch downloads the blob behind ref to the local path.
	Fetch(ctx context.Context, ref, path string) error
	// Delete removes the blob behind ref. Deleting a missing blob is
	// not an error.
	Delete(ctx context.Context, ref string) error
	// Size reports the stored size in bytes.
	Size(ctx context.Context, ref string) (int64, error)
}

// New builds the backend named by the configuration.
func New(cfg *config.Config) (Store, error) {
	switch cfg.Storage.Backend {
	case "", "local":
		return NewLocal(cfg.Paths.DataDir)
	case "s3":
		return NewS3(context.Background(), cfg.Storage)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}

// SplitRef separates a ref into backend scheme and key.
func SplitRef(ref string) (scheme, key string, err error) {
	scheme, key, ok := strings.Cut(ref, ":")
	if !ok || scheme == "" || key == "" {
		return "", "", fmt.Errorf("malformed artifact ref %q", ref)
	}
	return scheme, key, nil
}
