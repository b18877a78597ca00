// Package storage defines the key-value store boundary the vault persists
// through, plus the in-process implementations.
package storage

import "sync"

// Store is the durable key-value boundary. Implementations must be
// crash-consistent at single-key granularity.
type Store interface {
	// Get returns the stored value, or (nil, nil) when the key is absent.
	Get(key string) ([]byte, error)
	Set(key string, value []byte) error
	Remove(key string) error
}

// MemoryStore is a map-backed Store. Used in tests and as the backing of
// the transient session store.
type MemoryStore struct {
	mu sync.Mutex
	m  map[string][]byte
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{m: make(map[string][]byte)}
}

// Get implements Store.
func (s *MemoryStore) Get(key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.m[key]
	if !ok {
		return nil, nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

// Set implements Store.
func (s *MemoryStore) Set(key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := make([]byte, len(value))
	copy(v, value)
	s.m[key] = v
	return nil
}

// Remove implements Store.
func (s *MemoryStore) Remove(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, key)
	return nil
}

// SessionStore holds short-lived staged secrets and in-flight broadcast
// payloads. Its contents die with the process; the vault record never goes
// through it.
type SessionStore struct {
	MemoryStore
}

// NewSessionStore creates an empty SessionStore.
func NewSessionStore() *SessionStore {
	return &SessionStore{MemoryStore{m: make(map[string][]byte)}}
}

// Clear drops everything held in the session.
func (s *SessionStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range s.m {
		clear(v)
		delete(s.m, k)
	}
}
