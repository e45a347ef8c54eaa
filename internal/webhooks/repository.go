package webhooks

import (
	"context"
	"database/sql"
	"errors"

	"leadline/internal/store"
)

type SQLRepo struct {
	db *store.DB
}

func NewSQLRepo(db *store.DB) *SQLRepo {
	return &SQLRepo{db: db}
}

func (r *SQLRepo) Insert(ctx context.Context, e Event) (bool, Event, error) {
	const ins = `
INSERT INTO webhook_events (provider_id, kind, tenant_id, processed_at, internal_id)
VALUES ($1,$2,$3,$4,$5)
ON CONFLICT (provider_id) DO NOTHING
`
	res, err := r.db.ExecContext(ctx, r.db.Rebind(ins),
		e.ProviderID, e.Kind, nullable(e.TenantID), e.ProcessedAt, e.InternalID)
	if err != nil {
		return false, Event{}, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, Event{}, err
	}
	if n > 0 {
		return true, Event{}, nil
	}

	const sel = `
SELECT provider_id, kind, COALESCE(tenant_id, ''), processed_at, internal_id
FROM webhook_events
WHERE provider_id = $1
`
	var prior Event
	err = r.db.QueryRowContext(ctx, r.db.Rebind(sel), e.ProviderID).Scan(
		&prior.ProviderID,
		&prior.Kind,
		&prior.TenantID,
		&prior.ProcessedAt,
		&prior.InternalID,
	)
	if errors.Is(err, sql.ErrNoRows) {
		// Raced with a delete; treat as inserted-by-someone-else.
		return false, Event{ProviderID: e.ProviderID}, nil
	}
	if err != nil {
		return false, Event{}, err
	}
	return false, prior, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
