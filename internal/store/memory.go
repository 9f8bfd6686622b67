package store

import (
	"context"
	"sync"
	"time"

	"github.com/stemsi/kontrol-backend/internal/model"
)

// MemoryStore keeps encoded attempts in process memory.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string][]byte
	now  func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte), now: time.Now}
}

// Load returns a fresh copy of the stored attempt.
func (s *MemoryStore) Load(_ context.Context, key string) (*model.Attempt, error) {
	s.mu.RLock()
	raw, ok := s.data[key]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return Decode(raw)
}

// Save stores an encoded copy so later mutations of a are not observed.
func (s *MemoryStore) Save(_ context.Context, key string, a *model.Attempt) error {
	stamp(a, s.now)
	raw, err := Encode(a)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.data[key] = raw
	s.mu.Unlock()
	return nil
}

// Delete removes the attempt. Missing keys are not an error.
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.data, key)
	s.mu.Unlock()
	return nil
}

// Len reports the number of stored attempts.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}
