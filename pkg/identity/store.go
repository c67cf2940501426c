package identity

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Persister saves and loads an identity record. The host platform may supply
// its own; Store is the file-backed default.
type Persister interface {
	Load() (*Record, error)
	Save(rec *Record) error
}

// Store persists one identity record as a JSON file.
type Store struct {
	mu   sync.Mutex
	path string
}

// NewStore creates a store backed by path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the backing file path.
func (s *Store) Path() string {
	return s.path
}

// Save writes rec to disk, stamping SavedAt.
func (s *Store) Save(rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	if rec.Version == 0 {
		rec.Version = RecordVersion
	}
	rec.SavedAt = time.Now()

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(s.path, data, 0644)
}

// Load reads the record from disk.
// Returns nil, nil if the file doesn't exist.
func (s *Store) Load() (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	rec := &Record{}
	if err := json.Unmarshal(data, rec); err != nil {
		return nil, err
	}
	if rec.Version == 0 {
		rec.Version = RecordVersionIPOnly
	}

	return rec, nil
}

// Clear removes the record file.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

var _ Persister = (*Store)(nil)
