// Package blobstore keeps chunk payloads on local disk, one file per chunk
// named {chunk_id}.chunk.
package blobstore

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/dmitrijs2005/firebox/internal/filex"
)

const suffix = ".chunk"

// Store is a flat directory of chunk blobs.
type Store struct {
	dir string
}

// New creates dir if needed.
func New(dir string) (*Store, error) {
	abs, err := filex.EnsureDir(dir)
	if err != nil {
		return nil, err
	}
	return &Store{dir: abs}, nil
}

func (s *Store) Dir() string { return s.dir }

func (s *Store) Path(chunkID string) string {
	return filepath.Join(s.dir, chunkID+suffix)
}

func (s *Store) Put(chunkID string, data []byte) error {
	return filex.WriteFileAtomic(s.Path(chunkID), data, 0o640)
}

func (s *Store) Get(chunkID string) ([]byte, error) {
	b, err := os.ReadFile(s.Path(chunkID))
	if err != nil {
		return nil, fmt.Errorf("read chunk %s: %w", chunkID, err)
	}
	return b, nil
}

// Delete removes the blob. A missing blob is not an error.
func (s *Store) Delete(chunkID string) error {
	err := os.Remove(s.Path(chunkID))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete chunk %s: %w", chunkID, err)
	}
	return nil
}

// Sweep deletes every blob whose id is not in keep and returns the removed ids.
func (s *Store) Sweep(keep map[string]struct{}) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("list chunk dir: %w", err)
	}
	var removed []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, suffix) {
			continue
		}
		id := strings.TrimSuffix(name, suffix)
		if _, ok := keep[id]; ok {
			continue
		}
		if err := s.Delete(id); err != nil {
			return removed, err
		}
		removed = append(removed, id)
	}
	return removed, nil
}
