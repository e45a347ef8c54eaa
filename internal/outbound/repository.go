package outbound

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"leadline/internal/store"
)

var ErrNotFound = errors.New("outbound: not found")

// Repository is the queue's persistence contract.
type Repository interface {
	// Insert adds a pending row. When the external id already exists the
	// insert is a no-op and inserted=false (the prior row wins).
	Insert(ctx context.Context, m Message) (inserted bool, err error)
	// Claim atomically moves up to limit eligible rows to processing and
	// returns them. Eligible: pending, due by schedule and backoff; or
	// processing with a lock older than stuckTimeout. No row is ever
	// returned to two callers.
	Claim(ctx context.Context, limit int, now time.Time, stuckTimeout time.Duration) ([]Message, error)
	MarkSent(ctx context.Context, id, providerMessageID string, now time.Time) error
	// Retry returns the row to pending with attempts+1.
	Retry(ctx context.Context, id string, now time.Time) error
	// Defer returns the row to pending stamping last_attempt_at only;
	// attempts is not consumed.
	Defer(ctx context.Context, id string, now time.Time) error
	Fail(ctx context.Context, id string, status Status, now time.Time) error
	// CancelByPattern cancels pending and processing rows whose external_id
	// matches the SQL LIKE pattern. Returns the number cancelled.
	CancelByPattern(ctx context.Context, pattern string) (int64, error)
	// SetProviderStatus applies a delivery callback to the row carrying the
	// provider message id.
	SetProviderStatus(ctx context.Context, providerMessageID string, status Status) error
	GetByExternalID(ctx context.Context, externalID string) (Message, error)
	CountByStatus(ctx context.Context, tenantID string) (map[Status]int, error)
	// ArchiveOldMessages deletes terminal rows older than the cutoff.
	ArchiveOldMessages(ctx context.Context, olderThan time.Time) (int64, error)
}

type SQLRepo struct {
	db *store.DB
}

func NewSQLRepo(db *store.DB) *SQLRepo {
	return &SQLRepo{db: db}
}

const messageColumns = `
id, tenant_id, to_number, body, COALESCE(external_id, ''), status, attempts,
last_attempt_at, locked_at, scheduled_for, created_at, sent_at,
COALESCE(provider_message_id, '')
`

func (r *SQLRepo) Insert(ctx context.Context, m Message) (bool, error) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	const q = `
INSERT INTO sms_queue (
  id, tenant_id, to_number, body, external_id, status, attempts,
  scheduled_for, created_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9
)
ON CONFLICT (external_id) DO NOTHING
`
	res, err := r.db.ExecContext(ctx, r.db.Rebind(q),
		m.ID,
		m.TenantID,
		m.To,
		m.Body,
		nullable(m.ExternalID),
		StatusPending,
		0,
		m.ScheduledFor,
		m.CreatedAt,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Claim is a single UPDATE over a filtered, ordered subquery, so concurrent
// workers cannot claim the same row. The backoff predicate is expressed as
// per-attempt cutoff timestamps computed here, which keeps the SQL free of
// engine-specific interval arithmetic.
func (r *SQLRepo) Claim(ctx context.Context, limit int, now time.Time, stuckTimeout time.Duration) ([]Message, error) {
	if limit <= 0 {
		limit = 10
	}
	const q = `
UPDATE sms_queue
SET status = $1, locked_at = $2
WHERE id IN (
  SELECT id FROM sms_queue
  WHERE (
      status = $3
      AND (scheduled_for IS NULL OR scheduled_for <= $4)
      AND (
        last_attempt_at IS NULL
        OR attempts = 0
        OR (attempts = 1 AND last_attempt_at <= $5)
        OR (attempts = 2 AND last_attempt_at <= $6)
        OR (attempts = 3 AND last_attempt_at <= $7)
        OR (attempts = 4 AND last_attempt_at <= $8)
        OR (attempts >= 5 AND last_attempt_at <= $9)
      )
    )
    OR (status = $10 AND (locked_at IS NULL OR locked_at <= $11))
  ORDER BY created_at ASC, id ASC
  LIMIT $12
)
RETURNING ` + messageColumns
	rows, err := r.db.QueryContext(ctx, r.db.Rebind(q),
		StatusProcessing,
		now,
		StatusPending,
		now,
		now.Add(-BackoffDelay(1)),
		now.Add(-BackoffDelay(2)),
		now.Add(-BackoffDelay(3)),
		now.Add(-BackoffDelay(4)),
		now.Add(-BackoffDelay(5)),
		StatusProcessing,
		now.Add(-stuckTimeout),
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *SQLRepo) MarkSent(ctx context.Context, id, providerMessageID string, now time.Time) error {
	const q = `
UPDATE sms_queue
SET status = $1, provider_message_id = $2, sent_at = $3, locked_at = NULL
WHERE id = $4
`
	return r.execOne(ctx, q, StatusSent, providerMessageID, now, id)
}

func (r *SQLRepo) Retry(ctx context.Context, id string, now time.Time) error {
	const q = `
UPDATE sms_queue
SET status = $1, attempts = attempts + 1, last_attempt_at = $2, locked_at = NULL
WHERE id = $3
`
	return r.execOne(ctx, q, StatusPending, now, id)
}

func (r *SQLRepo) Defer(ctx context.Context, id string, now time.Time) error {
	const q = `
UPDATE sms_queue
SET status = $1, last_attempt_at = $2, locked_at = NULL
WHERE id = $3
`
	return r.execOne(ctx, q, StatusPending, now, id)
}

func (r *SQLRepo) Fail(ctx context.Context, id string, status Status, now time.Time) error {
	const q = `
UPDATE sms_queue
SET status = $1, last_attempt_at = $2, locked_at = NULL
WHERE id = $3
`
	return r.execOne(ctx, q, status, now, id)
}

func (r *SQLRepo) CancelByPattern(ctx context.Context, pattern string) (int64, error) {
	const q = `
UPDATE sms_queue
SET status = $1
WHERE external_id LIKE $2 AND status IN ($3, $4)
`
	res, err := r.db.ExecContext(ctx, r.db.Rebind(q),
		StatusCancelled, pattern, StatusPending, StatusProcessing)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *SQLRepo) SetProviderStatus(ctx context.Context, providerMessageID string, status Status) error {
	// Delivery callbacks only ever move a row forward from sent.
	const q = `
UPDATE sms_queue
SET status = $1
WHERE provider_message_id = $2 AND status = $3
`
	_, err := r.db.ExecContext(ctx, r.db.Rebind(q), status, providerMessageID, StatusSent)
	return err
}

func (r *SQLRepo) GetByExternalID(ctx context.Context, externalID string) (Message, error) {
	const q = `SELECT ` + messageColumns + ` FROM sms_queue WHERE external_id = $1`
	m, err := scanMessage(r.db.QueryRowContext(ctx, r.db.Rebind(q), externalID))
	if errors.Is(err, sql.ErrNoRows) {
		return Message{}, ErrNotFound
	}
	return m, err
}

func (r *SQLRepo) CountByStatus(ctx context.Context, tenantID string) (map[Status]int, error) {
	const q = `SELECT status, COUNT(1) FROM sms_queue WHERE tenant_id = $1 GROUP BY status`
	rows, err := r.db.QueryContext(ctx, r.db.Rebind(q), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[Status]int)
	for rows.Next() {
		var s Status
		var n int
		if err := rows.Scan(&s, &n); err != nil {
			return nil, err
		}
		out[s] = n
	}
	return out, rows.Err()
}

func (r *SQLRepo) ArchiveOldMessages(ctx context.Context, olderThan time.Time) (int64, error) {
	const q = `
DELETE FROM sms_queue
WHERE created_at < $1
  AND status IN ($2, $3, $4, $5, $6, $7)
`
	res, err := r.db.ExecContext(ctx, r.db.Rebind(q),
		olderThan,
		StatusSent, StatusDelivered, StatusFailed,
		StatusFailedOptOut, StatusFailedSafety, StatusFailedPermanent,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *SQLRepo) execOne(ctx context.Context, q string, args ...any) error {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(q), args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(s rowScanner) (Message, error) {
	var m Message
	err := s.Scan(
		&m.ID,
		&m.TenantID,
		&m.To,
		&m.Body,
		&m.ExternalID,
		&m.Status,
		&m.Attempts,
		&m.LastAttemptAt,
		&m.LockedAt,
		&m.ScheduledFor,
		&m.CreatedAt,
		&m.SentAt,
		&m.ProviderMessageID,
	)
	return m, err
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
