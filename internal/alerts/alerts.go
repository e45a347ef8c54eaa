// Package alerts coalesces operator notifications. A burst of customer
// messages becomes one alert sent after the conversation goes quiet for the
// debounce window; emergency paths bypass this package entirely.
package alerts

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"leadline/internal/outbound"
	"leadline/pkg/logger"
)

// DebounceWindow is how long a buffer must stay quiet before it flushes.
const DebounceWindow = 30 * time.Second

type Buffer struct {
	TenantID      string
	CustomerPhone string
	OperatorPhone string
	CoalescedText string
	Count         int
	SendAt        time.Time
	CreatedAt     time.Time
}

// Repository persists buffers keyed by (tenant, customer).
type Repository interface {
	// Bump upserts the buffer: appends text on a new line, increments count,
	// and pushes send_at out to the new quiescence deadline. The whole
	// read-modify-write happens inside one write transaction.
	Bump(ctx context.Context, tenantID, customerPhone, operatorPhone, text string, now, sendAt time.Time) error
	Due(ctx context.Context, now time.Time) ([]Buffer, error)
	// ClearFlushed removes the buffer when send_at still equals the sweep-time
	// snapshot. When a concurrent bump extended the window mid-flush, it
	// instead strips the already-alerted prefix (text and count) inside the
	// same write transaction, so the surviving buffer holds only messages the
	// operator has not seen. Returns true when the buffer is gone.
	ClearFlushed(ctx context.Context, flushed Buffer) (bool, error)
}

// Debouncer buffers standard operator alerts and flushes quiet ones through
// the outbound queue. It implements the dispatcher's idle-sweep hook.
type Debouncer struct {
	repo  Repository
	queue *outbound.Queue
	clock func() time.Time
	log   *slog.Logger
}

func NewDebouncer(repo Repository, queue *outbound.Queue, log *slog.Logger) *Debouncer {
	if log == nil {
		log = slog.Default()
	}
	return &Debouncer{repo: repo, queue: queue, clock: time.Now, log: log}
}

// Buffer records one customer message for the operator digest.
func (d *Debouncer) Buffer(ctx context.Context, tenantID, customerPhone, operatorPhone, text string) error {
	now := d.clock().UTC()
	return d.repo.Bump(ctx, tenantID, customerPhone, operatorPhone, text, now, now.Add(DebounceWindow))
}

// Sweep flushes every buffer whose quiescence window has elapsed. Called by
// dispatcher workers between empty claims, so a failure here just waits for
// the next cycle.
func (d *Debouncer) Sweep(ctx context.Context) {
	now := d.clock().UTC()
	due, err := d.repo.Due(ctx, now)
	if err != nil {
		d.log.Warn("alert sweep query failed", slog.String("error", err.Error()))
		return
	}
	for _, b := range due {
		d.flush(ctx, b)
	}
}

func (d *Debouncer) flush(ctx context.Context, b Buffer) {
	res, err := d.queue.Enqueue(ctx, outbound.EnqueueRequest{
		TenantID:   b.TenantID,
		To:         b.OperatorPhone,
		Body:       ComposeAlert(b.CustomerPhone, b.Count, b.CoalescedText),
		ExternalID: alertKey(b),
		Internal:   true,
	})
	if err != nil {
		d.log.Warn("alert enqueue failed, keeping buffer",
			slog.String("tenant_id", b.TenantID),
			slog.String("customer", logger.MaskPhone(b.CustomerPhone)),
			slog.String("error", err.Error()))
		return
	}
	if res.Outcome == outbound.OutcomeRejected {
		d.log.Warn("alert rejected by safety gate, dropping buffer",
			slog.String("tenant_id", b.TenantID),
			slog.String("reason", string(res.Reason)))
	}
	// Rejected and deduplicated both count as handled; only an enqueue
	// error keeps the buffer.
	deleted, err := d.repo.ClearFlushed(ctx, b)
	if err != nil {
		d.log.Warn("alert buffer delete failed",
			slog.String("tenant_id", b.TenantID), slog.String("error", err.Error()))
		return
	}
	if !deleted {
		d.log.Debug("alert buffer extended during flush; flushed prefix trimmed",
			slog.String("tenant_id", b.TenantID),
			slog.String("customer", logger.MaskPhone(b.CustomerPhone)))
	}
}

// ComposeAlert renders the operator digest for a buffered conversation.
func ComposeAlert(customerPhone string, count int, text string) string {
	if count == 1 {
		return fmt.Sprintf("🔔 Lead Alert: %s sent a message:\n---\n%s\n---", customerPhone, text)
	}
	return fmt.Sprintf("🔔 Lead Alert: %s sent %d messages:\n---\n%s\n---", customerPhone, count, text)
}

// alertKey derives the enqueue idempotency key from the buffer's window, so
// two sweepers flushing the same window dedupe and an extended window gets a
// fresh key.
func alertKey(b Buffer) string {
	return fmt.Sprintf("alert_%s_%s_%d", b.TenantID, b.CustomerPhone, b.SendAt.Unix())
}
