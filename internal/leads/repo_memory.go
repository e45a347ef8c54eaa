package leads

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepo is an in-memory Repository for tests.
type MemoryRepo struct {
	mu      sync.Mutex
	byID    map[string]Lead
	ordered []string
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{byID: make(map[string]Lead)}
}

func (m *MemoryRepo) Upsert(_ context.Context, tenantID, phone string, now time.Time) (Lead, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range m.ordered {
		l := m.byID[id]
		if l.TenantID == tenantID && l.Phone == phone {
			l.LastContactAt = now
			m.byID[id] = l
			return l, nil
		}
	}
	l := Lead{
		ID:            uuid.NewString(),
		TenantID:      tenantID,
		Phone:         phone,
		Status:        StatusNew,
		CreatedAt:     now,
		LastContactAt: now,
	}
	m.byID[l.ID] = l
	m.ordered = append(m.ordered, l.ID)
	return l, nil
}

func (m *MemoryRepo) GetByPhone(_ context.Context, tenantID, phone string) (Lead, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range m.ordered {
		l := m.byID[id]
		if l.TenantID == tenantID && l.Phone == phone {
			return l, nil
		}
	}
	return Lead{}, ErrNotFound
}

func (m *MemoryRepo) SetStatus(_ context.Context, id string, status Status, byAdmin bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.byID[id]
	if !ok {
		return ErrNotFound
	}
	if l.Status == StatusBooked && status != StatusBooked && !byAdmin {
		return ErrStatusLocked
	}
	l.Status = status
	m.byID[id] = l
	return nil
}

func (m *MemoryRepo) SetIntent(_ context.Context, id string, intent Intent) error {
	return m.mutate(id, func(l *Lead) { l.Intent = intent })
}

func (m *MemoryRepo) SetName(_ context.Context, id, name string) error {
	return m.mutate(id, func(l *Lead) { l.Name = name })
}

func (m *MemoryRepo) MarkOptOut(_ context.Context, tenantID, phone string) error {
	return m.mutateByPhone(tenantID, phone, func(l *Lead) { l.OptOut = true })
}

func (m *MemoryRepo) ClearOptOut(_ context.Context, tenantID, phone string) error {
	return m.mutateByPhone(tenantID, phone, func(l *Lead) { l.OptOut = false })
}

func (m *MemoryRepo) IsOptedOut(_ context.Context, phone string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range m.byID {
		if l.Phone == phone && l.OptOut {
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryRepo) ListByTenant(_ context.Context, tenantID string, limit int) ([]Lead, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit <= 0 {
		limit = 50
	}
	var out []Lead
	for i := len(m.ordered) - 1; i >= 0 && len(out) < limit; i-- {
		if l := m.byID[m.ordered[i]]; l.TenantID == tenantID {
			out = append(out, l)
		}
	}
	return out, nil
}

func (m *MemoryRepo) CountByStatus(_ context.Context, tenantID string) (map[Status]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[Status]int)
	for _, l := range m.byID {
		if l.TenantID == tenantID {
			out[l.Status]++
		}
	}
	return out, nil
}

func (m *MemoryRepo) CountEmergencies(_ context.Context, tenantID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, l := range m.byID {
		if l.TenantID == tenantID && l.Intent == IntentEmergency {
			n++
		}
	}
	return n, nil
}

func (m *MemoryRepo) mutate(id string, fn func(*Lead)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.byID[id]
	if !ok {
		return ErrNotFound
	}
	fn(&l)
	m.byID[id] = l
	return nil
}

func (m *MemoryRepo) mutateByPhone(tenantID, phone string, fn func(*Lead)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range m.ordered {
		l := m.byID[id]
		if l.TenantID == tenantID && l.Phone == phone {
			fn(&l)
			m.byID[id] = l
			return nil
		}
	}
	return ErrNotFound
}
