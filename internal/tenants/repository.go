package tenants

import (
	"context"
	"database/sql"
	"errors"

	"leadline/internal/store"
)

var ErrNotFound = errors.New("tenants: not found")

// Repository resolves and mutates tenants. Webhook routers resolve by number;
// the dashboard reads and toggles.
type Repository interface {
	Create(ctx context.Context, t Tenant) error
	GetByID(ctx context.Context, id string) (Tenant, error)
	GetByInboundNumber(ctx context.Context, number string) (Tenant, error)
	GetByOperatorNumber(ctx context.Context, number string) (Tenant, error)
	List(ctx context.Context) ([]Tenant, error)
	SetAIActive(ctx context.Context, id string, active bool) error
	SetEmergencyMode(ctx context.Context, id string, on bool) error
}

type SQLRepo struct {
	db *store.DB
}

func NewSQLRepo(db *store.DB) *SQLRepo {
	return &SQLRepo{db: db}
}

const tenantColumns = `
id, inbound_number, operator_number, display_name, timezone,
day_start, day_end, evening_end, emergency_mode, ai_active,
average_job_value, COALESCE(review_link, ''), COALESCE(sheet_id, ''), created_at
`

func (r *SQLRepo) Create(ctx context.Context, t Tenant) error {
	const q = `
INSERT INTO tenants (
  id, inbound_number, operator_number, display_name, timezone,
  day_start, day_end, evening_end, emergency_mode, ai_active,
  average_job_value, review_link, sheet_id, created_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14
)
`
	_, err := r.db.ExecContext(ctx, r.db.Rebind(q),
		t.ID,
		t.InboundNumber,
		t.OperatorNumber,
		t.DisplayName,
		t.Timezone,
		t.DayStart,
		t.DayEnd,
		t.EveningEnd,
		t.EmergencyMode,
		t.AIActive,
		t.AverageJobValue,
		nullable(t.ReviewLink),
		nullable(t.SheetID),
		t.CreatedAt,
	)
	return err
}

func (r *SQLRepo) GetByID(ctx context.Context, id string) (Tenant, error) {
	const q = `SELECT ` + tenantColumns + ` FROM tenants WHERE id = $1`
	return r.scanOne(r.db.QueryRowContext(ctx, r.db.Rebind(q), id))
}

func (r *SQLRepo) GetByInboundNumber(ctx context.Context, number string) (Tenant, error) {
	const q = `SELECT ` + tenantColumns + ` FROM tenants WHERE inbound_number = $1`
	return r.scanOne(r.db.QueryRowContext(ctx, r.db.Rebind(q), number))
}

func (r *SQLRepo) GetByOperatorNumber(ctx context.Context, number string) (Tenant, error) {
	const q = `SELECT ` + tenantColumns + ` FROM tenants WHERE operator_number = $1 LIMIT 1`
	return r.scanOne(r.db.QueryRowContext(ctx, r.db.Rebind(q), number))
}

func (r *SQLRepo) List(ctx context.Context) ([]Tenant, error) {
	const q = `SELECT ` + tenantColumns + ` FROM tenants ORDER BY created_at`
	rows, err := r.db.QueryContext(ctx, r.db.Rebind(q))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Tenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *SQLRepo) SetAIActive(ctx context.Context, id string, active bool) error {
	const q = `UPDATE tenants SET ai_active = $1 WHERE id = $2`
	return r.updateFlag(ctx, q, active, id)
}

func (r *SQLRepo) SetEmergencyMode(ctx context.Context, id string, on bool) error {
	const q = `UPDATE tenants SET emergency_mode = $1 WHERE id = $2`
	return r.updateFlag(ctx, q, on, id)
}

func (r *SQLRepo) updateFlag(ctx context.Context, q string, v bool, id string) error {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(q), v, id)
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

func (r *SQLRepo) scanOne(row rowScanner) (Tenant, error) {
	t, err := scanTenant(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Tenant{}, ErrNotFound
		}
		return Tenant{}, err
	}
	return t, nil
}

func scanTenant(s rowScanner) (Tenant, error) {
	var t Tenant
	err := s.Scan(
		&t.ID,
		&t.InboundNumber,
		&t.OperatorNumber,
		&t.DisplayName,
		&t.Timezone,
		&t.DayStart,
		&t.DayEnd,
		&t.EveningEnd,
		&t.EmergencyMode,
		&t.AIActive,
		&t.AverageJobValue,
		&t.ReviewLink,
		&t.SheetID,
		&t.CreatedAt,
	)
	return t, err
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
