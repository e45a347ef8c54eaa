package leads

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"leadline/internal/store"
)

// Repository persists leads. Upsert is the webhook entry point: callers do
// not know whether the caller is new.
type Repository interface {
	// Upsert inserts a lead with status new, or touches last_contact_at on
	// the existing row. Returns the current row either way.
	Upsert(ctx context.Context, tenantID, phone string, now time.Time) (Lead, error)
	GetByPhone(ctx context.Context, tenantID, phone string) (Lead, error)
	// SetStatus applies the booked regression guard unless byAdmin.
	SetStatus(ctx context.Context, id string, status Status, byAdmin bool) error
	SetIntent(ctx context.Context, id string, intent Intent) error
	SetName(ctx context.Context, id, name string) error
	// MarkOptOut is monotonic; there is no automated path back except an
	// explicit START message (ClearOptOut).
	MarkOptOut(ctx context.Context, tenantID, phone string) error
	ClearOptOut(ctx context.Context, tenantID, phone string) error
	IsOptedOut(ctx context.Context, phone string) (bool, error)
	ListByTenant(ctx context.Context, tenantID string, limit int) ([]Lead, error)
	CountByStatus(ctx context.Context, tenantID string) (map[Status]int, error)
	CountEmergencies(ctx context.Context, tenantID string) (int, error)
}

type SQLRepo struct {
	db *store.DB
}

func NewSQLRepo(db *store.DB) *SQLRepo {
	return &SQLRepo{db: db}
}

const leadColumns = `
id, tenant_id, phone, status, COALESCE(intent, ''), opt_out,
COALESCE(name, ''), created_at, COALESCE(last_contact_at, created_at)
`

func (r *SQLRepo) Upsert(ctx context.Context, tenantID, phone string, now time.Time) (Lead, error) {
	const q = `
INSERT INTO leads (id, tenant_id, phone, status, opt_out, created_at, last_contact_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (tenant_id, phone)
DO UPDATE SET last_contact_at = $8
RETURNING ` + leadColumns
	row := r.db.QueryRowContext(ctx, r.db.Rebind(q),
		uuid.NewString(), tenantID, phone, StatusNew, false, now, now, now)
	return scanLead(row)
}

func (r *SQLRepo) GetByPhone(ctx context.Context, tenantID, phone string) (Lead, error) {
	const q = `SELECT ` + leadColumns + ` FROM leads WHERE tenant_id = $1 AND phone = $2`
	l, err := scanLead(r.db.QueryRowContext(ctx, r.db.Rebind(q), tenantID, phone))
	if errors.Is(err, sql.ErrNoRows) {
		return Lead{}, ErrNotFound
	}
	return l, err
}

func (r *SQLRepo) SetStatus(ctx context.Context, id string, status Status, byAdmin bool) error {
	if !status.Valid() {
		return errors.New("leads: invalid status")
	}
	return r.db.InTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		q := `SELECT status FROM leads WHERE id = $1` + r.db.ForUpdate()
		var current Status
		if err := tx.QueryRowContext(ctx, r.db.Rebind(q), id).Scan(&current); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return err
		}
		if current == StatusBooked && status != StatusBooked && !byAdmin {
			return ErrStatusLocked
		}
		const upd = `UPDATE leads SET status = $1 WHERE id = $2`
		_, err := tx.ExecContext(ctx, r.db.Rebind(upd), status, id)
		return err
	})
}

func (r *SQLRepo) SetIntent(ctx context.Context, id string, intent Intent) error {
	const q = `UPDATE leads SET intent = $1 WHERE id = $2`
	return r.execOne(ctx, q, string(intent), id)
}

func (r *SQLRepo) SetName(ctx context.Context, id, name string) error {
	const q = `UPDATE leads SET name = $1 WHERE id = $2`
	return r.execOne(ctx, q, name, id)
}

func (r *SQLRepo) MarkOptOut(ctx context.Context, tenantID, phone string) error {
	const q = `UPDATE leads SET opt_out = TRUE WHERE tenant_id = $1 AND phone = $2`
	_, err := r.db.ExecContext(ctx, r.db.Rebind(q), tenantID, phone)
	return err
}

func (r *SQLRepo) ClearOptOut(ctx context.Context, tenantID, phone string) error {
	const q = `UPDATE leads SET opt_out = FALSE WHERE tenant_id = $1 AND phone = $2`
	_, err := r.db.ExecContext(ctx, r.db.Rebind(q), tenantID, phone)
	return err
}

// IsOptedOut checks across tenants: an opt-out anywhere blocks sends to the
// number everywhere.
func (r *SQLRepo) IsOptedOut(ctx context.Context, phone string) (bool, error) {
	const q = `SELECT COUNT(1) FROM leads WHERE phone = $1 AND opt_out = TRUE`
	var n int
	if err := r.db.QueryRowContext(ctx, r.db.Rebind(q), phone).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *SQLRepo) ListByTenant(ctx context.Context, tenantID string, limit int) ([]Lead, error) {
	if limit <= 0 {
		limit = 50
	}
	const q = `
SELECT ` + leadColumns + `
FROM leads
WHERE tenant_id = $1
ORDER BY COALESCE(last_contact_at, created_at) DESC
LIMIT $2
`
	rows, err := r.db.QueryContext(ctx, r.db.Rebind(q), tenantID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Lead
	for rows.Next() {
		l, err := scanLead(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (r *SQLRepo) CountByStatus(ctx context.Context, tenantID string) (map[Status]int, error) {
	const q = `SELECT status, COUNT(1) FROM leads WHERE tenant_id = $1 GROUP BY status`
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

func (r *SQLRepo) CountEmergencies(ctx context.Context, tenantID string) (int, error) {
	const q = `SELECT COUNT(1) FROM leads WHERE tenant_id = $1 AND intent = $2`
	var n int
	err := r.db.QueryRowContext(ctx, r.db.Rebind(q), tenantID, IntentEmergency).Scan(&n)
	return n, err
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

func scanLead(s rowScanner) (Lead, error) {
	var l Lead
	var intent string
	err := s.Scan(
		&l.ID,
		&l.TenantID,
		&l.Phone,
		&l.Status,
		&intent,
		&l.OptOut,
		&l.Name,
		&l.CreatedAt,
		&l.LastContactAt,
	)
	l.Intent = Intent(intent)
	return l, err
}
