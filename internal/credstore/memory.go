package credstore

import (
	"sync"

	"github.com/Mukasa-Matthew/HMS-frontend-sub000/internal/auth"
)

// MemoryStore keeps the serialised identity in memory.
type MemoryStore struct {
	mu   sync.Mutex
	data []byte
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Load implements Store.
func (s *MemoryStore) Load() (*auth.Identity, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.data == nil {
		return nil, false
	}
	ident, err := decode(s.data)
	if err != nil {
		s.data = nil
		return nil, false
	}
	return ident, true
}

// Save implements Store.
func (s *MemoryStore) Save(ident auth.Identity) error {
	data, err := encode(ident)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.data = data
	s.mu.Unlock()
	return nil
}

// Clear implements Store.
func (s *MemoryStore) Clear() error {
	s.mu.Lock()
	s.data = nil
	s.mu.Unlock()
	return nil
}

// Raw returns a copy of the stored bytes, or nil.
func (s *MemoryStore) Raw() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data == nil {
		return nil
	}
	return append([]byte(nil), s.data...)
}

// SetRaw replaces the stored bytes without validation, as another writer might.
func (s *MemoryStore) SetRaw(data []byte) {
	s.mu.Lock()
	s.data = append([]byte(nil), data...)
	s.mu.Unlock()
}
