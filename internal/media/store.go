package media

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TempStore hands out collision-free artifact paths under one directory.
type TempStore struct {
	dir string
}

// NewTempStore creates dir if needed.
func NewTempStore(dir string) (*TempStore, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, fmt.Errorf("media: empty temp dir")
	}
	if errMkdir := os.MkdirAll(dir, 0o755); errMkdir != nil {
		return nil, fmt.Errorf("media: create temp dir: %w", errMkdir)
	}
	return &TempStore{dir: dir}, nil
}

// Dir returns the managed directory.
func (s *TempStore) Dir() string {
	if s == nil {
		return ""
	}
	return s.dir
}

// NewPath returns a fresh path with the given extension. Nothing is created.
func (s *TempStore) NewPath(ext string) string {
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	name := fmt.Sprintf("%d-%s%s", time.Now().UnixMilli(), uuid.NewString(), ext)
	return filepath.Join(s.dir, name)
}

// Remove deletes path. A file that never got created is not an error.
func (s *TempStore) Remove(path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	if errRemove := os.Remove(path); errRemove != nil && !errors.Is(errRemove, fs.ErrNotExist) {
		return errRemove
	}
	return nil
}
