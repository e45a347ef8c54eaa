package outbound

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"leadline/internal/safety"
	"leadline/pkg/logger"
)

type EnqueueOutcome string

const (
	OutcomeQueued       EnqueueOutcome = "queued"
	OutcomeDeduplicated EnqueueOutcome = "deduplicated"
	OutcomeRejected     EnqueueOutcome = "rejected"
)

type EnqueueRequest struct {
	TenantID     string
	To           string
	Body         string
	ExternalID   string
	ScheduledFor *time.Time
	Internal     bool
	Emergency    bool
}

type EnqueueResult struct {
	Outcome   EnqueueOutcome
	Reason    safety.RejectReason
	MessageID string
}

// Queue fronts the repository with the safety gate: nothing enters the table
// without an authorization decision.
type Queue struct {
	repo  Repository
	gate  *safety.Gate
	clock func() time.Time
	log   *slog.Logger
}

func NewQueue(repo Repository, gate *safety.Gate, log *slog.Logger) *Queue {
	if log == nil {
		log = slog.Default()
	}
	return &Queue{repo: repo, gate: gate, clock: time.Now, log: log}
}

func (q *Queue) Enqueue(ctx context.Context, req EnqueueRequest) (EnqueueResult, error) {
	dec := q.gate.Authorize(ctx, safety.Draft{
		TenantID:          req.TenantID,
		To:                req.To,
		Body:              req.Body,
		Internal:          req.Internal,
		EmergencyResponse: req.Emergency,
	})
	if !dec.Allowed {
		q.log.Info("outbound rejected at enqueue",
			slog.String("tenant_id", req.TenantID),
			slog.String("to", logger.MaskPhone(req.To)),
			slog.String("reason", string(dec.Reason)))
		return EnqueueResult{Outcome: OutcomeRejected, Reason: dec.Reason}, nil
	}

	m := Message{
		ID:           uuid.NewString(),
		TenantID:     req.TenantID,
		To:           req.To,
		Body:         dec.Body,
		ExternalID:   externalID(req),
		ScheduledFor: req.ScheduledFor,
		CreatedAt:    q.clock().UTC(),
	}
	inserted, err := q.repo.Insert(ctx, m)
	if err != nil {
		return EnqueueResult{}, err
	}
	if !inserted {
		return EnqueueResult{Outcome: OutcomeDeduplicated}, nil
	}
	return EnqueueResult{Outcome: OutcomeQueued, MessageID: m.ID}, nil
}

// Cancel cancels open rows whose external id matches the LIKE pattern.
func (q *Queue) Cancel(ctx context.Context, pattern string) (int64, error) {
	return q.repo.CancelByPattern(ctx, pattern)
}

// Emergency drafts carry a marker prefix in their external id so dispatch can
// re-apply the quiet-hours exemption after the original context is gone.
const emergencyIDPrefix = "emergency_"

func externalID(req EnqueueRequest) string {
	if !req.Emergency {
		return req.ExternalID
	}
	if req.ExternalID == "" {
		return emergencyIDPrefix + uuid.NewString()
	}
	if isEmergencyID(req.ExternalID) {
		return req.ExternalID
	}
	return emergencyIDPrefix + req.ExternalID
}

func isEmergencyID(externalID string) bool {
	return strings.HasPrefix(externalID, emergencyIDPrefix)
}
