package convlog

import (
	"context"

	"leadline/internal/store"
)

type SQLRepo struct {
	db *store.DB
}

func NewSQLRepo(db *store.DB) *SQLRepo {
	return &SQLRepo{db: db}
}

func (r *SQLRepo) Append(ctx context.Context, e Entry) error {
	const q = `
INSERT INTO conversation_log (
  id, tenant_id, lead_id, phone, direction, body, external_id, created_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8
)
`
	_, err := r.db.ExecContext(ctx, r.db.Rebind(q),
		e.ID,
		e.TenantID,
		nullable(e.LeadID),
		e.Phone,
		e.Direction,
		e.Body,
		nullable(e.ExternalID),
		e.CreatedAt,
	)
	return err
}

func (r *SQLRepo) RecentByTenant(ctx context.Context, tenantID string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	const q = `
SELECT id, tenant_id, COALESCE(lead_id, ''), phone, direction, body,
       COALESCE(external_id, ''), created_at
FROM conversation_log
WHERE tenant_id = $1
ORDER BY created_at DESC
LIMIT $2
`
	rows, err := r.db.QueryContext(ctx, r.db.Rebind(q), tenantID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(
			&e.ID,
			&e.TenantID,
			&e.LeadID,
			&e.Phone,
			&e.Direction,
			&e.Body,
			&e.ExternalID,
			&e.CreatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
