package media

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// LocalStorage keeps uploaded profile photos on disk under a single
// directory and serves them from a fixed URL prefix.
type LocalStorage struct {
	dir     string
	urlBase string
}

var extensionByType = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

func NewLocalStorage(dir, urlBase string) (*LocalStorage, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, fmt.Errorf("storage directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create storage directory: %w", err)
	}

	urlBase = strings.TrimSpace(urlBase)
	if urlBase == "" {
		urlBase = "/storage"
	}

	return &LocalStorage{dir: dir, urlBase: strings.TrimRight(urlBase, "/")}, nil
}

// Save writes the image under a random name and returns its serving path.
// The name never derives from user input.
func (s *LocalStorage) Save(_ context.Context, contentType string, data []byte) (string, error) {
	ext, ok := extensionByType[contentType]
	if !ok {
		ext = ".bin"
	}

	name := uuid.NewString() + ext
	if err := os.WriteFile(filepath.Join(s.dir, name), data, 0o644); err != nil {
		return "", fmt.Errorf("write photo file: %w", err)
	}

	return s.urlBase + "/" + name, nil
}

// Dir exposes the storage directory so the server can mount a file handler
// on it.
func (s *LocalStorage) Dir() string {
	return s.dir
}
