package chart

import (
	"os"
	"sync"
)

// Store is a single-slot holder for the most recent chart. Writers do not
// coordinate beyond last-write-wins; runs address their own artifact through
// the scratch dir, not through this slot.
type Store interface {
	Put(png []byte) error
	Latest() ([]byte, error)
}

// FileStore keeps the latest chart at a fixed path.
type FileStore struct {
	mu   sync.Mutex
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Put(png []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return os.WriteFile(s.path, png, 0o644)
}

func (s *FileStore) Latest() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return os.ReadFile(s.path)
}
