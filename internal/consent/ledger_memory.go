package consent

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryLedger is an in-memory Ledger for tests.
type MemoryLedger struct {
	mu      sync.Mutex
	records []Record
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{}
}

func (m *MemoryLedger) RecordImplied(_ context.Context, tenantID, leadID, phone string, source Source, now time.Time) (Record, error) {
	exp := now.Add(ImpliedTTL)
	return m.append(Record{
		TenantID:    tenantID,
		LeadID:      leadID,
		Phone:       phone,
		Kind:        KindImplied,
		Source:      source,
		ConsentedAt: now,
		ExpiresAt:   &exp,
	}), nil
}

func (m *MemoryLedger) RecordExpress(_ context.Context, tenantID, leadID, phone string, source Source, now time.Time) (Record, error) {
	return m.append(Record{
		TenantID:    tenantID,
		LeadID:      leadID,
		Phone:       phone,
		Kind:        KindExpress,
		Source:      source,
		ConsentedAt: now,
	}), nil
}

func (m *MemoryLedger) append(r Record) Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	r.ID = uuid.NewString()
	m.records = append(m.records, r)
	return r
}

func (m *MemoryLedger) RevokeAll(_ context.Context, phone, reason string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.records {
		if m.records[i].Phone == phone && m.records[i].RevokedAt == nil {
			t := now
			m.records[i].RevokedAt = &t
			m.records[i].RevocationReason = reason
		}
	}
	return nil
}

func (m *MemoryLedger) HasConsent(_ context.Context, phone string, t time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.records {
		if r.Phone == phone && r.Valid(t) {
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryLedger) ListByPhone(_ context.Context, phone string) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Record
	for _, r := range m.records {
		if r.Phone == phone {
			out = append(out, r)
		}
	}
	return out, nil
}
