package policystore

import (
	"context"
	"sort"
	"sync"
)

// In-process policy store. Writes are copy-on-write: readers never observe a policy while an update is being applied.
type MemStore struct {
	mu       sync.Mutex
	policies map[string]*TenantPolicy
}

var _ Store = (*MemStore)(nil)

func NewMemStore() *MemStore {
	return &MemStore{
		policies: make(map[string]*TenantPolicy),
	}
}

func (s *MemStore) Get(ctx context.Context, tenantID string) (*TenantPolicy, error) {
	s.mu.Lock()
	p, ok := s.policies[tenantID]
	s.mu.Unlock()
	if !ok {
		return DefaultPolicy(), nil
	}
	return p.Clone(), nil
}

func (s *MemStore) Update(ctx context.Context, tenantID string, fn func(p *TenantPolicy) error) (*TenantPolicy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var next *TenantPolicy
	if cur, ok := s.policies[tenantID]; ok {
		next = cur.Clone()
	} else {
		next = DefaultPolicy()
	}
	if err := fn(next); err != nil {
		return nil, err
	}
	next.normalize()
	s.policies[tenantID] = next
	return next.Clone(), nil
}

func (s *MemStore) Tenants(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.policies))
	for id := range s.policies {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}
