package defaults

import (
	"sync"
	"time"
)

// Values holds the externally durable session fields.
type Values struct {
	InfectionStatus string     `json:"infection_status,omitempty"`
	LastSync        *time.Time `json:"last_sync,omitempty"`
}

// Store is the persisted-defaults port. Implementations must be safe for
// concurrent use.
type Store interface {
	// Load returns the persisted values. A fresh store returns zero Values.
	Load() (Values, error)

	// Save replaces the persisted values.
	Save(v Values) error

	// Clear resets the store to zero Values.
	Clear() error
}

// MemoryStore is an in-memory Store, used in tests and as a fallback when
// no durable path is configured.
type MemoryStore struct {
	mu sync.Mutex
	v  Values
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Load() (Values, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.v, nil
}

func (s *MemoryStore) Save(v Values) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.v = v
	return nil
}

func (s *MemoryStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.v = Values{}
	return nil
}
