package webhooks

import (
	"context"
	"errors"
	"sync"
)

// MemoryRepo is an in-memory Repository for tests. Set Fail to simulate a
// store outage.
type MemoryRepo struct {
	mu     sync.Mutex
	events map[string]Event
	Fail   bool
}

var errStoreDown = errors.New("webhooks: store unavailable")

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{events: make(map[string]Event)}
}

func (m *MemoryRepo) Insert(_ context.Context, e Event) (bool, Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail {
		return false, Event{}, errStoreDown
	}
	if prior, ok := m.events[e.ProviderID]; ok {
		return false, prior, nil
	}
	m.events[e.ProviderID] = e
	return true, Event{}, nil
}

func (m *MemoryRepo) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}
