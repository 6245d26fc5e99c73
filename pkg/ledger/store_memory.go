package ledger

import (
	"context"
	"sync"
)

// MemoryStore is an in-process Store for tests and single-node deployments.
type MemoryStore struct {
	mu      sync.RWMutex
	entries []*Entry
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make([]*Entry, 0)}
}

func (s *MemoryStore) Append(_ context.Context, e *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, e)
	return nil
}

func (s *MemoryStore) Head(_ context.Context) (uint64, string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.entries) == 0 {
		return 0, GenesisHash, nil
	}
	last := s.entries[len(s.entries)-1]
	return last.Sequence, last.EntryHash, nil
}

func (s *MemoryStore) All(_ context.Context) ([]*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Entry, len(s.entries))
	copy(out, s.entries)
	return out, nil
}

func (s *MemoryStore) BySubject(_ context.Context, subjectID string) ([]*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Entry, 0)
	for _, e := range s.entries {
		if e.SubjectID == subjectID {
			out = append(out, e)
		}
	}
	return out, nil
}
