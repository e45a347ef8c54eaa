// Package nudge schedules the single follow-up text a caller receives when
// they missed the operator and have not replied. A reply cancels the pending
// nudge; the outbound queue's unique external id prevents double-scheduling.
package nudge

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"leadline/internal/outbound"
	"leadline/internal/tenants"
	"leadline/pkg/logger"
)

// Delay is how long after the missed-call text the nudge fires, absent a reply.
const Delay = 120 * time.Second

const followUpTemplate = "Hi again from %s — just checking in. Reply here and we'll get you scheduled right away."

type Scheduler struct {
	queue *outbound.Queue
	clock func() time.Time
	log   *slog.Logger
}

func NewScheduler(queue *outbound.Queue, log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{queue: queue, clock: time.Now, log: log}
}

// Key returns the outbound external id for a caller's pending nudge.
func Key(phone string) string {
	return "nudge_" + phone
}

// Schedule queues the follow-up for delivery after Delay. Scheduling twice for
// the same caller dedupes on the external id.
func (s *Scheduler) Schedule(ctx context.Context, tenant tenants.Tenant, caller string) error {
	at := s.clock().UTC().Add(Delay)
	res, err := s.queue.Enqueue(ctx, outbound.EnqueueRequest{
		TenantID:     tenant.ID,
		To:           caller,
		Body:         fmt.Sprintf(followUpTemplate, tenant.DisplayName),
		ExternalID:   Key(caller),
		ScheduledFor: &at,
	})
	if err != nil {
		return err
	}
	switch res.Outcome {
	case outbound.OutcomeDeduplicated:
		s.log.Debug("nudge already scheduled",
			slog.String("tenant_id", tenant.ID),
			slog.String("caller", logger.MaskPhone(caller)))
	case outbound.OutcomeRejected:
		s.log.Info("nudge rejected by safety gate",
			slog.String("tenant_id", tenant.ID),
			slog.String("reason", string(res.Reason)))
	}
	return nil
}

// Cancel withdraws any pending nudge for the caller. Called on every inbound
// reply; cancelling when nothing is scheduled is a no-op.
func (s *Scheduler) Cancel(ctx context.Context, caller string) error {
	n, err := s.queue.Cancel(ctx, Key(caller)+"%")
	if err != nil {
		return err
	}
	if n > 0 {
		s.log.Info("nudge cancelled on reply",
			slog.String("caller", logger.MaskPhone(caller)),
			slog.Int64("rows", n))
	}
	return nil
}
