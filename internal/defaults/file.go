package defaults

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FileStore persists Values as a JSON file with owner-only permissions.
type FileStore struct {
	mu   sync.Mutex
	path string
}

// NewFileStore creates a file-backed store at path. The parent directory
// is created if missing.
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, fmt.Errorf("defaults path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create defaults directory: %w", err)
	}
	return &FileStore{path: path}, nil
}

func (s *FileStore) Load() (Values, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	content, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return Values{}, nil
	}
	if err != nil {
		return Values{}, fmt.Errorf("failed to read defaults: %w", err)
	}

	var v Values
	if err := json.Unmarshal(content, &v); err != nil {
		return Values{}, fmt.Errorf("failed to decode defaults: %w", err)
	}
	return v, nil
}

func (s *FileStore) Save(v Values) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	content, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode defaults: %w", err)
	}

	// Write to a sibling temp file first so a crash never leaves a
	// half-written defaults file behind.
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, content, 0o600); err != nil {
		return fmt.Errorf("failed to write defaults: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace defaults: %w", err)
	}
	return nil
}

func (s *FileStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to clear defaults: %w", err)
	}
	return nil
}
