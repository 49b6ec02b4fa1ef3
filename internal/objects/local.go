package objects

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"azeuqer/internal/game"
)

// LocalStorage writes photos under a directory that the API serves at /media/.
type LocalStorage struct {
	dir        string
	publicBase string
}

var (
	_ game.PhotoStore = (*LocalStorage)(nil)
	_ game.PhotoStore = (*SupabaseStorage)(nil)
)

func NewLocalStorage(dir, publicBaseURL string) (*LocalStorage, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("storage dir is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	return &LocalStorage{dir: dir, publicBase: strings.TrimRight(publicBaseURL, "/")}, nil
}

func (s *LocalStorage) Dir() string { return s.dir }

func (s *LocalStorage) PutPhoto(ctx context.Context, key string, body []byte, _ string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	clean := filepath.Clean("/" + key)
	if clean == "/" {
		return "", fmt.Errorf("object key is required")
	}
	path := filepath.Join(s.dir, clean)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create object dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, body, 0o644); err != nil {
		return "", fmt.Errorf("write object: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("commit object: %w", err)
	}
	return s.publicBase + "/media" + filepath.ToSlash(clean), nil
}
