// Package cache durably stores a single named byte blob (the serialized
// database image) across sessions. It has no knowledge of SQL structure;
// validity of the blob is the caller's concern.
package cache

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

// Store holds one blob at a fixed path on an afero filesystem.
type Store struct {
	fs   afero.Fs
	path string
}

// New returns a blob store writing to path on fs.
func New(fs afero.Fs, path string) *Store {
	return &Store{fs: fs, path: path}
}

// Get returns the stored blob, or nil if none has ever been put.
func (s *Store) Get() ([]byte, error) {
	blob, err := afero.ReadFile(s.fs, s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read cache blob: %w", err)
	}
	return blob, nil
}

// Put overwrites the stored blob. The write goes to a temp file first and
// is renamed into place, so a reader never observes a partial blob.
func (s *Store) Put(blob []byte) error {
	if err := s.fs.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := afero.WriteFile(s.fs, tmp, blob, 0o644); err != nil {
		return fmt.Errorf("write cache blob: %w", err)
	}
	if err := s.fs.Rename(tmp, s.path); err != nil {
		s.fs.Remove(tmp)
		return fmt.Errorf("commit cache blob: %w", err)
	}
	return nil
}

// Clear removes the stored blob. Clearing an empty cache is not an error.
func (s *Store) Clear() error {
	err := s.fs.Remove(s.path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("clear cache blob: %w", err)
	}
	return nil
}
