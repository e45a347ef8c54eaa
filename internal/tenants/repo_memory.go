package tenants

import (
	"context"
	"sync"
)

// MemoryRepo is an in-memory Repository for tests.
type MemoryRepo struct {
	mu      sync.RWMutex
	byID    map[string]Tenant
	ordered []string
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{byID: make(map[string]Tenant)}
}

func (m *MemoryRepo) Create(_ context.Context, t Tenant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byID[t.ID]; !ok {
		m.ordered = append(m.ordered, t.ID)
	}
	m.byID[t.ID] = t
	return nil
}

func (m *MemoryRepo) GetByID(_ context.Context, id string) (Tenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.byID[id]
	if !ok {
		return Tenant{}, ErrNotFound
	}
	return t, nil
}

func (m *MemoryRepo) GetByInboundNumber(_ context.Context, number string) (Tenant, error) {
	return m.find(func(t Tenant) bool { return t.InboundNumber == number })
}

func (m *MemoryRepo) GetByOperatorNumber(_ context.Context, number string) (Tenant, error) {
	return m.find(func(t Tenant) bool { return t.OperatorNumber == number })
}

func (m *MemoryRepo) List(_ context.Context) ([]Tenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Tenant, 0, len(m.ordered))
	for _, id := range m.ordered {
		out = append(out, m.byID[id])
	}
	return out, nil
}

func (m *MemoryRepo) SetAIActive(_ context.Context, id string, active bool) error {
	return m.mutate(id, func(t *Tenant) { t.AIActive = active })
}

func (m *MemoryRepo) SetEmergencyMode(_ context.Context, id string, on bool) error {
	return m.mutate(id, func(t *Tenant) { t.EmergencyMode = on })
}

func (m *MemoryRepo) find(match func(Tenant) bool) (Tenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, id := range m.ordered {
		if t := m.byID[id]; match(t) {
			return t, nil
		}
	}
	return Tenant{}, ErrNotFound
}

func (m *MemoryRepo) mutate(id string, fn func(*Tenant)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.byID[id]
	if !ok {
		return ErrNotFound
	}
	fn(&t)
	m.byID[id] = t
	return nil
}
