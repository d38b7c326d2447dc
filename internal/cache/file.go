package cache

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

var _ Store = (*FileStore)(nil)

// FileStore keeps one JSON document per slot at <dir>/<slot>.json. Saves are
// written to a temporary file and renamed into place.
type FileStore struct {
	dir string
}

// NewFileStore returns a store rooted at dir, creating it if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("cache: file store: directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cache: file store: create directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) path(slot string) (string, error) {
	if slot == "" || strings.ContainsAny(slot, `/\`) || slot == "." || slot == ".." {
		return "", fmt.Errorf("cache: file store: invalid slot %q", slot)
	}
	return filepath.Join(s.dir, slot+".json"), nil
}

// Load implements Store.
func (s *FileStore) Load(_ context.Context, slot string) (Snapshot, error) {
	p, err := s.path(slot)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return Snapshot{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cache: file store: read %s: %w", slot, err)
	}
	return decodeSnapshot(data)
}

// Save implements Store.
func (s *FileStore) Save(_ context.Context, slot string, snap Snapshot) error {
	p, err := s.path(slot)
	if err != nil {
		return err
	}
	data, err := encodeSnapshot(snap)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(s.dir, slot+".*.tmp")
	if err != nil {
		return fmt.Errorf("cache: file store: create temp: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("cache: file store: write %s: %w", slot, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("cache: file store: sync %s: %w", slot, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("cache: file store: close %s: %w", slot, err)
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		return fmt.Errorf("cache: file store: rename %s: %w", slot, err)
	}
	return nil
}

// Close implements Store. It is a no-op.
func (s *FileStore) Close() error { return nil }
