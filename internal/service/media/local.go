package media

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// LocalStore writes blobs to a directory served by the API under /media/.
// It is the zero-configuration default for development deployments.
type LocalStore struct {
	dir     string
	baseURL string
}

// NewLocalStore prepares the storage directory.
func NewLocalStore(dir, baseURL string) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create media directory: %w", err)
	}
	return &LocalStore{
		dir:     dir,
		baseURL: strings.TrimSuffix(baseURL, "/"),
	}, nil
}

// Dir exposes the root directory for static file serving.
func (s *LocalStore) Dir() string {
	return s.dir
}

// Put writes the blob and returns its public URL. Keys may contain
// slashes; anything escaping the storage root is rejected.
func (s *LocalStore) Put(_ context.Context, key, _ string, data []byte) (string, error) {
	cleaned := filepath.Clean(key)
	if cleaned == "." || strings.HasPrefix(cleaned, "..") || filepath.IsAbs(cleaned) {
		return "", fmt.Errorf("invalid media key: %q", key)
	}

	target := filepath.Join(s.dir, cleaned)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return "", fmt.Errorf("create media subdirectory: %w", err)
	}
	if err := os.WriteFile(target, data, 0o644); err != nil {
		return "", fmt.Errorf("write media blob: %w", err)
	}

	return s.baseURL + "/media/" + filepath.ToSlash(cleaned), nil
}
