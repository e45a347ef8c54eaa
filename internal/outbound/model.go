// Package outbound is the durable SMS queue: enqueue with idempotency keys,
// atomic claim by a pool of dispatch workers, retry with backoff, and
// self-healing recovery of rows whose worker died mid-send.
package outbound

import (
	"time"

	"leadline/internal/safety"
)

type Status string

const (
	StatusPending         Status = "pending"
	StatusProcessing      Status = "processing"
	StatusSent            Status = "sent"
	StatusDelivered       Status = "delivered"
	StatusFailed          Status = "failed"
	StatusFailedOptOut    Status = "failed_optout"
	StatusFailedSafety    Status = "failed_safety"
	StatusFailedPermanent Status = "failed_permanent"
	StatusCancelled       Status = "cancelled"
)

// Terminal reports whether no further dispatch will happen for the status.
func (s Status) Terminal() bool {
	switch s {
	case StatusSent, StatusDelivered, StatusFailed,
		StatusFailedOptOut, StatusFailedSafety, StatusFailedPermanent, StatusCancelled:
		return true
	}
	return false
}

type Message struct {
	ID                string
	TenantID          string
	To                string
	Body              string
	ExternalID        string
	Status            Status
	Attempts          int
	LastAttemptAt     *time.Time
	LockedAt          *time.Time
	ScheduledFor      *time.Time
	CreatedAt         time.Time
	SentAt            *time.Time
	ProviderMessageID string
}

// MaxRetries caps delivery attempts before a row dead-letters.
const MaxRetries = 5

// backoffSchedule maps current attempts to the wait since last_attempt_at.
var backoffSchedule = [...]time.Duration{
	0:               0,
	1:               5 * time.Second,
	2:               30 * time.Second,
	3:               2 * time.Minute,
	4:               10 * time.Minute,
	MaxRetries:      30 * time.Minute,
}

// BackoffDelay returns the wait before the next attempt.
func BackoffDelay(attempts int) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	if attempts >= MaxRetries {
		return backoffSchedule[MaxRetries]
	}
	return backoffSchedule[attempts]
}

// DueByBackoff reports whether a pending row has waited out its backoff.
func DueByBackoff(attempts int, lastAttemptAt *time.Time, now time.Time) bool {
	if lastAttemptAt == nil {
		return true
	}
	return !now.Before(lastAttemptAt.Add(BackoffDelay(attempts)))
}

// DispatchOutcome is the result of one send attempt.
type DispatchOutcome interface {
	dispatchOutcome()
}

// Sent: the provider accepted the message.
type Sent struct {
	ProviderMessageID string
}

// Transient: worth retrying with backoff.
type Transient struct {
	Err error
}

// Permanent: the provider will never accept this message.
type Permanent struct {
	Err error
}

// Rejected: the safety gate refused the send.
type Rejected struct {
	Reason safety.RejectReason
}

// Deferred: quiet hours; the row stays queued untouched except for its
// last-attempt stamp.
type Deferred struct{}

func (Sent) dispatchOutcome()      {}
func (Transient) dispatchOutcome() {}
func (Permanent) dispatchOutcome() {}
func (Rejected) dispatchOutcome()  {}
func (Deferred) dispatchOutcome()  {}
