package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// JSONFileStore keeps the IDs as one sorted JSON array in a file.
type JSONFileStore struct {
	path string
}

func NewJSONFileStore(path string) *JSONFileStore {
	if path == "" {
		path = "sent_papers.json"
	}
	return &JSONFileStore{path: path}
}

// Load treats a missing file as empty state. Undecodable content also
// yields an empty set, with an ErrCorrupt error for the caller to log.
func (s *JSONFileStore) Load(_ context.Context) (Set, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return NewSet(), nil
	}
	if err != nil {
		return NewSet(), fmt.Errorf("store: failed to read %s: %w", s.path, err)
	}

	var ids Set
	if err := json.Unmarshal(data, &ids); err != nil {
		return NewSet(), fmt.Errorf("%w: %s: %v", ErrCorrupt, s.path, err)
	}
	if ids == nil {
		ids = NewSet()
	}
	return ids, nil
}

// Save overwrites the whole file through a temp file and rename.
func (s *JSONFileStore) Save(_ context.Context, ids Set) error {
	if ids == nil {
		ids = NewSet()
	}
	data, err := json.MarshalIndent(ids, "", "  ")
	if err != nil {
		return fmt.Errorf("store: failed to encode ids: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("store: failed to create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("store: failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return fmt.Errorf("store: failed to write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("store: failed to close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("store: failed to replace %s: %w", s.path, err)
	}
	return nil
}

func (s *JSONFileStore) Close() error { return nil }
