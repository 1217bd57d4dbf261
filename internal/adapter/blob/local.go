package blob

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"myroom/config"
)

// LocalStore writes assets below a directory and serves them from BaseURL.
type LocalStore struct {
	dir     string
	baseURL string
}

func NewLocalStore(cfg config.LocalBlobConfig) (*LocalStore, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("blob.local.dir must be set")
	}
	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create asset directory: %w", err)
	}
	return &LocalStore{dir: cfg.Dir, baseURL: strings.TrimRight(cfg.BaseURL, "/")}, nil
}

func (s *LocalStore) Dir() string { return s.dir }

func (s *LocalStore) Put(ctx context.Context, key string, data []byte, _ string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if key == "" {
		return "", fmt.Errorf("key cannot be empty")
	}
	clean := filepath.Clean(filepath.FromSlash(key))
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid asset key: %s", key)
	}

	dst := filepath.Join(s.dir, clean)
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return "", fmt.Errorf("failed to create asset directory: %w", err)
	}

	tmp := dst + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write asset: %w", err)
	}
	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("failed to move asset into place: %w", err)
	}

	return s.baseURL + "/" + filepath.ToSlash(clean), nil
}
