package outbound

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepo implements Repository in memory with the same claim semantics as
// the SQL repo. Used by dispatcher tests, including contention tests.
type MemoryRepo struct {
	mu   sync.Mutex
	rows map[string]*Message
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{rows: make(map[string]*Message)}
}

func (m *MemoryRepo) Insert(_ context.Context, msg Message) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if msg.ExternalID != "" {
		for _, row := range m.rows {
			if row.ExternalID == msg.ExternalID {
				return false, nil
			}
		}
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	msg.Status = StatusPending
	msg.Attempts = 0
	m.rows[msg.ID] = &msg
	return true, nil
}

func (m *MemoryRepo) Claim(_ context.Context, limit int, now time.Time, stuckTimeout time.Duration) ([]Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit <= 0 {
		limit = 10
	}

	var eligible []*Message
	for _, row := range m.rows {
		switch row.Status {
		case StatusPending:
			if row.ScheduledFor != nil && row.ScheduledFor.After(now) {
				continue
			}
			if !DueByBackoff(row.Attempts, row.LastAttemptAt, now) {
				continue
			}
			eligible = append(eligible, row)
		case StatusProcessing:
			if row.LockedAt == nil || !row.LockedAt.After(now.Add(-stuckTimeout)) {
				eligible = append(eligible, row)
			}
		}
	}
	sort.Slice(eligible, func(i, j int) bool {
		if eligible[i].CreatedAt.Equal(eligible[j].CreatedAt) {
			return eligible[i].ID < eligible[j].ID
		}
		return eligible[i].CreatedAt.Before(eligible[j].CreatedAt)
	})
	if len(eligible) > limit {
		eligible = eligible[:limit]
	}

	out := make([]Message, 0, len(eligible))
	for _, row := range eligible {
		row.Status = StatusProcessing
		t := now
		row.LockedAt = &t
		out = append(out, *row)
	}
	return out, nil
}

func (m *MemoryRepo) MarkSent(_ context.Context, id, providerMessageID string, now time.Time) error {
	return m.mutate(id, func(row *Message) {
		row.Status = StatusSent
		row.ProviderMessageID = providerMessageID
		t := now
		row.SentAt = &t
		row.LockedAt = nil
	})
}

func (m *MemoryRepo) Retry(_ context.Context, id string, now time.Time) error {
	return m.mutate(id, func(row *Message) {
		row.Status = StatusPending
		row.Attempts++
		t := now
		row.LastAttemptAt = &t
		row.LockedAt = nil
	})
}

func (m *MemoryRepo) Defer(_ context.Context, id string, now time.Time) error {
	return m.mutate(id, func(row *Message) {
		row.Status = StatusPending
		t := now
		row.LastAttemptAt = &t
		row.LockedAt = nil
	})
}

func (m *MemoryRepo) Fail(_ context.Context, id string, status Status, now time.Time) error {
	return m.mutate(id, func(row *Message) {
		row.Status = status
		t := now
		row.LastAttemptAt = &t
		row.LockedAt = nil
	})
}

func (m *MemoryRepo) CancelByPattern(_ context.Context, pattern string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, row := range m.rows {
		if row.Status != StatusPending && row.Status != StatusProcessing {
			continue
		}
		if likeMatch(pattern, row.ExternalID) {
			row.Status = StatusCancelled
			n++
		}
	}
	return n, nil
}

func (m *MemoryRepo) SetProviderStatus(_ context.Context, providerMessageID string, status Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, row := range m.rows {
		if row.ProviderMessageID == providerMessageID && row.Status == StatusSent {
			row.Status = status
		}
	}
	return nil
}

func (m *MemoryRepo) GetByExternalID(_ context.Context, externalID string) (Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, row := range m.rows {
		if row.ExternalID == externalID {
			return *row, nil
		}
	}
	return Message{}, ErrNotFound
}

func (m *MemoryRepo) CountByStatus(_ context.Context, tenantID string) (map[Status]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[Status]int)
	for _, row := range m.rows {
		if row.TenantID == tenantID {
			out[row.Status]++
		}
	}
	return out, nil
}

func (m *MemoryRepo) ArchiveOldMessages(_ context.Context, olderThan time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, row := range m.rows {
		if row.Status.Terminal() && row.CreatedAt.Before(olderThan) {
			delete(m.rows, id)
			n++
		}
	}
	return n, nil
}

// All returns a snapshot of every row, ordered by created_at.
func (m *MemoryRepo) All() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Message, 0, len(m.rows))
	for _, row := range m.rows {
		out = append(out, *row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (m *MemoryRepo) mutate(id string, fn func(*Message)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	if !ok {
		return ErrNotFound
	}
	fn(row)
	return nil
}

// likeMatch supports the single trailing/leading % forms the queue uses.
func likeMatch(pattern, s string) bool {
	if s == "" {
		return false
	}
	switch {
	case strings.HasPrefix(pattern, "%") && strings.HasSuffix(pattern, "%"):
		return strings.Contains(s, strings.Trim(pattern, "%"))
	case strings.HasSuffix(pattern, "%"):
		return strings.HasPrefix(s, strings.TrimSuffix(pattern, "%"))
	case strings.HasPrefix(pattern, "%"):
		return strings.HasSuffix(s, strings.TrimPrefix(pattern, "%"))
	default:
		return s == pattern
	}
}
