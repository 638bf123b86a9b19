package licensestore

import (
	"context"
	"sort"
	"sync"
)

type MemStore struct {
	mu      sync.RWMutex
	records map[string]Record
}

var _ Store = (*MemStore)(nil)

func NewMemStore() *MemStore {
	return &MemStore{
		records: make(map[string]Record),
	}
}

func (s *MemStore) Get(ctx context.Context, key string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[key]
	if !ok {
		return nil, ErrKeyNotFound
	}
	return &rec, nil
}

func (s *MemStore) Put(ctx context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.Key] = *rec
	return nil
}

func (s *MemStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, key)
	return nil
}

// sorted by issue time, then key
func (s *MemStore) List(ctx context.Context) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Record, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].IssuedAt.Equal(out[j].IssuedAt) {
			return out[i].Key < out[j].Key
		}
		return out[i].IssuedAt.Before(out[j].IssuedAt)
	})
	return out, nil
}

func (s *MemStore) ByTenant(ctx context.Context, tenantID string) ([]Record, error) {
	all, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	out := []Record{}
	for _, rec := range all {
		if rec.TenantID == tenantID {
			out = append(out, rec)
		}
	}
	return out, nil
}
