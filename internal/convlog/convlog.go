// Package convlog is the append-only per-lead conversation log.
//
// Invariants:
// - Entries are never updated or deleted.
// - tenant_id is required; lead_id is best-effort (calls from unknown numbers
//   may log before a lead exists).
// - Logging is best-effort: callers must not block message handling on a
//   convlog failure.
package convlog

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

type Direction string

const (
	DirectionIn  Direction = "in"
	DirectionOut Direction = "out"
)

type Entry struct {
	ID         string    `json:"id"`
	TenantID   string    `json:"tenant_id"`
	LeadID     string    `json:"lead_id,omitempty"`
	Phone      string    `json:"phone"`
	Direction  Direction `json:"direction"`
	Body       string    `json:"body"`
	ExternalID string    `json:"external_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Repository is the persistence contract. It is append-only; no Update or
// Delete is provided.
type Repository interface {
	Append(ctx context.Context, e Entry) error
	RecentByTenant(ctx context.Context, tenantID string, limit int) ([]Entry, error)
}

var ErrInvalidEntry = errors.New("convlog: invalid entry")

// Service stamps ids and timestamps before appending.
type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

func (s *Service) Append(ctx context.Context, e Entry) error {
	if s.repo == nil {
		return errors.New("convlog: repository not configured")
	}
	if e.TenantID == "" || e.Phone == "" {
		return ErrInvalidEntry
	}
	if e.Direction != DirectionIn && e.Direction != DirectionOut {
		return ErrInvalidEntry
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.clock().UTC()
	}
	return s.repo.Append(ctx, e)
}

// LogInbound records a message the customer sent.
func (s *Service) LogInbound(ctx context.Context, tenantID, leadID, phone, body, externalID string) error {
	return s.Append(ctx, Entry{
		TenantID:   tenantID,
		LeadID:     leadID,
		Phone:      phone,
		Direction:  DirectionIn,
		Body:       body,
		ExternalID: externalID,
	})
}

// LogOutbound records a message delivered to the customer or operator.
func (s *Service) LogOutbound(ctx context.Context, tenantID, leadID, phone, body, externalID string) error {
	return s.Append(ctx, Entry{
		TenantID:   tenantID,
		LeadID:     leadID,
		Phone:      phone,
		Direction:  DirectionOut,
		Body:       body,
		ExternalID: externalID,
	})
}

func (s *Service) RecentByTenant(ctx context.Context, tenantID string, limit int) ([]Entry, error) {
	if s.repo == nil {
		return nil, errors.New("convlog: repository not configured")
	}
	return s.repo.RecentByTenant(ctx, tenantID, limit)
}
