// Package audit keeps local copies of uploaded images. Copies are retained
// indefinitely and never read back by the pipeline.
package audit

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"skin-api/internal/naming"
)

type Dir struct {
	path string
	now  func() time.Time
}

func NewDir(path string) (*Dir, error) {
	if path == "" {
		return nil, errors.New("audit dir is required")
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create audit dir: %w", err)
	}
	return &Dir{path: path, now: time.Now}, nil
}

func (d *Dir) Path() string { return d.path }

// Save writes data under a fresh collision resistant name and returns that
// name and the full path. Existing files are never overwritten.
func (d *Dir) Save(originalName string, data []byte) (string, string, error) {
	name := naming.AuditName(d.now(), originalName)
	full := filepath.Join(d.path, name)
	f, err := os.OpenFile(full, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", "", fmt.Errorf("create audit copy: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return "", "", fmt.Errorf("write audit copy: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", "", fmt.Errorf("close audit copy: %w", err)
	}
	return name, full, nil
}
