package filestore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"lectern/internal/fileutil"
)

// Local stores blobs under a root directory on the daemon host.
type Local struct {
	root string
}

func NewLocal(root string) (*Local, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("local store root is required")
	}
	blobRoot := filepath.Join(root, "blobs")
	if err := os.MkdirAll(blobRoot, 0o755); err != nil {
		return nil, fmt.Errorf("create blob root: %w", err)
	}
	return &Local{root: blobRoot}, nil
}

func (l *Local) Save(ctx context.Context, key, path string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	dest, err := l.resolve(key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", fmt.Errorf("create blob dir: %w", err)
	}
	if err := fileutil.CopyFileVerified(path, dest); err != nil {
		return "", fmt.Errorf("store %s: %w", key, err)
	}
	return "local:" + key, nil
}

func (l *Local) Fetch(ctx context.Context, ref, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key, err := l.key(ref)
	if err != nil {
		return err
	}
	src, err := l.resolve(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create fetch dir: %w", err)
	}
	if err := fileutil.CopyFile(src, path); err != nil {
		return fmt.Errorf("fetch %s: %w", ref, err)
	}
	return nil
}

func (l *Local) Delete(ctx context.Context, ref string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key, err := l.key(ref)
	if err != nil {
		return err
	}
	target, err := l.resolve(key)
	if err != nil {
		return err
	}
	if err := os.Remove(target); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete %s: %w", ref, err)
	}
	return nil
}

func (l *Local) Size(ctx context.Context, ref string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	key, err := l.key(ref)
	if err != nil {
		return 0, err
	}
	target, err := l.resolve(key)
	if err != nil {
		return 0, err
	}
	info, err := os.Stat(target)
	if err != nil {
		return 0, fmt.Errorf("stat %s: %w", ref, err)
	}
	return info.Size(), nil
}

func (l *Local) key(ref string) (string, error) {
	scheme, key, err := SplitRef(ref)
	if err != nil {
		return "", err
	}
	if scheme != "local" {
		return "", fmt.Errorf("ref %q is not a local artifact", ref)
	}
	return key, nil
}

// resolve maps a key to a path under the blob root, rejecting keys that
// would escape it.
func (l *Local) resolve(key string) (string, error) {
	cleaned := filepath.Clean(filepath.FromSlash(key))
	if cleaned == "." || strings.HasPrefix(cleaned, "..") || filepath.IsAbs(cleaned) {
		return "", fmt.Errorf("invalid blob key %q", key)
	}
	return filepath.Join(l.root, cleaned), nil
}
