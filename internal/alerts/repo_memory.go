package alerts

import (
	"context"
	"strings"
	"sync"
	"time"
)

type bufferKey struct {
	tenantID string
	phone    string
}

// MemoryRepo is an in-memory Repository for tests.
type MemoryRepo struct {
	mu      sync.Mutex
	buffers map[bufferKey]Buffer
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{buffers: make(map[bufferKey]Buffer)}
}

func (m *MemoryRepo) Bump(_ context.Context, tenantID, customerPhone, operatorPhone, text string, now, sendAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := bufferKey{tenantID, customerPhone}
	b, ok := m.buffers[k]
	if !ok {
		m.buffers[k] = Buffer{
			TenantID:      tenantID,
			CustomerPhone: customerPhone,
			OperatorPhone: operatorPhone,
			CoalescedText: text,
			Count:         1,
			SendAt:        sendAt,
			CreatedAt:     now,
		}
		return nil
	}
	b.CoalescedText += "\n" + text
	b.Count++
	b.SendAt = sendAt
	b.OperatorPhone = operatorPhone
	m.buffers[k] = b
	return nil
}

func (m *MemoryRepo) Due(_ context.Context, now time.Time) ([]Buffer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Buffer
	for _, b := range m.buffers {
		if !b.SendAt.After(now) {
			out = append(out, b)
		}
	}
	return out, nil
}

func (m *MemoryRepo) ClearFlushed(_ context.Context, flushed Buffer) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := bufferKey{flushed.TenantID, flushed.CustomerPhone}
	b, ok := m.buffers[k]
	if !ok {
		return true, nil
	}
	if b.SendAt.Equal(flushed.SendAt) {
		delete(m.buffers, k)
		return true, nil
	}
	rest := strings.TrimPrefix(b.CoalescedText, flushed.CoalescedText+"\n")
	if rest == b.CoalescedText {
		return false, nil
	}
	b.CoalescedText = rest
	b.Count -= flushed.Count
	if b.Count < 1 {
		b.Count = 1
	}
	m.buffers[k] = b
	return false, nil
}

func (m *MemoryRepo) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.buffers)
}
