package store

import "sync"

// MemoryStore is a thread-safe in-memory Backend, used in tests and as the
// keyring fallback of last resort when no state database is available.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]string
	name string

	// FailWrites makes Set/Delete return ErrWriteFailed, for exercising
	// partial-failure paths in tests.
	FailWrites bool
}

var _ Backend = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(name string) *MemoryStore {
	if name == "" {
		name = "memory"
	}
	return &MemoryStore{data: make(map[string]string), name: name}
}

func (s *MemoryStore) Name() string { return s.name }

func (s *MemoryStore) Get(key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	if !ok || v == "" {
		return "", false, nil
	}
	return v, true, nil
}

func (s *MemoryStore) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWrites {
		return ErrWriteFailed
	}
	s.data[key] = value
	return nil
}

func (s *MemoryStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWrites {
		return ErrWriteFailed
	}
	delete(s.data, key)
	return nil
}
