package storage

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory Store. Records are lost on restart.
type MemoryStore struct {
	mu       sync.RWMutex
	attempts map[string]*DownloadAttempt
	order    []string // insertion order of attempt IDs
	closed   bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		attempts: make(map[string]*DownloadAttempt),
	}
}

func (s *MemoryStore) SaveAttempt(ctx context.Context, attempt *DownloadAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	cp := *attempt
	if _, exists := s.attempts[attempt.ID]; !exists {
		s.order = append(s.order, attempt.ID)
	}
	s.attempts[attempt.ID] = &cp
	return nil
}

func (s *MemoryStore) UpdateAttempt(ctx context.Context, attempt *DownloadAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if _, exists := s.attempts[attempt.ID]; !exists {
		return ErrNotFound
	}

	cp := *attempt
	s.attempts[attempt.ID] = &cp
	return nil
}

func (s *MemoryStore) GetAttempt(ctx context.Context, id string) (*DownloadAttempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}

	attempt, exists := s.attempts[id]
	if !exists {
		return nil, ErrNotFound
	}

	cp := *attempt
	return &cp, nil
}

func (s *MemoryStore) ListAttempts(ctx context.Context, limit int) ([]*DownloadAttempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}

	// Newest first
	result := make([]*DownloadAttempt, 0, len(s.order))
	for i := len(s.order) - 1; i >= 0; i-- {
		if limit > 0 && len(result) >= limit {
			break
		}
		cp := *s.attempts[s.order[i]]
		result = append(result, &cp)
	}
	return result, nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	s.attempts = make(map[string]*DownloadAttempt)
	s.order = nil
	return nil
}
