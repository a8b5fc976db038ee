package ledger

import (
	"context"
	"sort"
	"sync"
)

type memoryStore struct {
	max int

	mu     sync.Mutex
	recs   map[string][]Record
	closed bool
}

// NewMemory returns a process-local store keeping max records per component.
func NewMemory(max int) Store {
	if max <= 0 {
		max = DefaultMaxRecords
	}
	return &memoryStore{max: max, recs: map[string][]Record{}}
}

func (s *memoryStore) Append(_ context.Context, component string, r Record) error {
	if err := validComponent(component); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	recs := append(s.recs[component], r)
	if len(recs) > s.max {
		recs = append([]Record(nil), recs[len(recs)-s.max:]...)
	}
	s.recs[component] = recs
	return nil
}

func (s *memoryStore) Records(_ context.Context, component string, limit int) ([]Record, error) {
	if err := validComponent(component); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	return append([]Record(nil), tail(s.recs[component], limit)...), nil
}

func (s *memoryStore) Components(context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.recs))
	for c := range s.recs {
		out = append(out, c)
	}
	sort.Strings(out)
	return out, nil
}

func (s *memoryStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
