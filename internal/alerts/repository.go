package alerts

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"leadline/internal/store"
)

type SQLRepo struct {
	db *store.DB
}

func NewSQLRepo(db *store.DB) *SQLRepo {
	return &SQLRepo{db: db}
}

func (r *SQLRepo) Bump(ctx context.Context, tenantID, customerPhone, operatorPhone, text string, now, sendAt time.Time) error {
	return r.db.InTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		sel := `
SELECT coalesced_text, count FROM alert_buffer
WHERE tenant_id = $1 AND customer_phone = $2` + r.db.ForUpdate()
		var existing string
		var count int
		err := tx.QueryRowContext(ctx, r.db.Rebind(sel), tenantID, customerPhone).Scan(&existing, &count)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			const ins = `
INSERT INTO alert_buffer (tenant_id, customer_phone, operator_phone, coalesced_text, count, send_at, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)
`
			_, err := tx.ExecContext(ctx, r.db.Rebind(ins),
				tenantID, customerPhone, operatorPhone, text, 1, sendAt, now)
			return err
		case err != nil:
			return err
		}

		const upd = `
UPDATE alert_buffer
SET coalesced_text = $1, count = $2, send_at = $3, operator_phone = $4
WHERE tenant_id = $5 AND customer_phone = $6
`
		_, err = tx.ExecContext(ctx, r.db.Rebind(upd),
			existing+"\n"+text, count+1, sendAt, operatorPhone, tenantID, customerPhone)
		return err
	})
}

func (r *SQLRepo) Due(ctx context.Context, now time.Time) ([]Buffer, error) {
	const q = `
SELECT tenant_id, customer_phone, operator_phone, coalesced_text, count, send_at, created_at
FROM alert_buffer
WHERE send_at <= $1
ORDER BY send_at ASC
`
	rows, err := r.db.QueryContext(ctx, r.db.Rebind(q), now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Buffer
	for rows.Next() {
		var b Buffer
		if err := rows.Scan(
			&b.TenantID,
			&b.CustomerPhone,
			&b.OperatorPhone,
			&b.CoalescedText,
			&b.Count,
			&b.SendAt,
			&b.CreatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (r *SQLRepo) ClearFlushed(ctx context.Context, flushed Buffer) (bool, error) {
	deleted := false
	err := r.db.InTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		sel := `
SELECT coalesced_text, count, send_at FROM alert_buffer
WHERE tenant_id = $1 AND customer_phone = $2` + r.db.ForUpdate()
		var text string
		var count int
		var sendAt time.Time
		err := tx.QueryRowContext(ctx, r.db.Rebind(sel), flushed.TenantID, flushed.CustomerPhone).
			Scan(&text, &count, &sendAt)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			// Another sweeper won; the enqueue deduplicated.
			deleted = true
			return nil
		case err != nil:
			return err
		}

		if sendAt.Equal(flushed.SendAt) {
			const del = `DELETE FROM alert_buffer WHERE tenant_id = $1 AND customer_phone = $2`
			if _, err := tx.ExecContext(ctx, r.db.Rebind(del), flushed.TenantID, flushed.CustomerPhone); err != nil {
				return err
			}
			deleted = true
			return nil
		}

		// A bump landed between enqueue and here. Keep only what the operator
		// has not been alerted about.
		rest := strings.TrimPrefix(text, flushed.CoalescedText+"\n")
		if rest == text {
			return nil
		}
		remaining := count - flushed.Count
		if remaining < 1 {
			remaining = 1
		}
		const upd = `
UPDATE alert_buffer SET coalesced_text = $1, count = $2
WHERE tenant_id = $3 AND customer_phone = $4
`
		_, err = tx.ExecContext(ctx, r.db.Rebind(upd), rest, remaining, flushed.TenantID, flushed.CustomerPhone)
		return err
	})
	return deleted, err
}
