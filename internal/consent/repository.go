package consent

import (
	"context"
	"time"

	"github.com/google/uuid"

	"leadline/internal/store"
)

// Ledger records and checks texting consent.
type Ledger interface {
	// RecordImplied appends an implied-consent record expiring after ImpliedTTL.
	RecordImplied(ctx context.Context, tenantID, leadID, phone string, source Source, now time.Time) (Record, error)
	// RecordExpress appends an express record with no expiry.
	RecordExpress(ctx context.Context, tenantID, leadID, phone string, source Source, now time.Time) (Record, error)
	// RevokeAll stamps revoked_at on every open record for the phone, across
	// tenants, in one statement.
	RevokeAll(ctx context.Context, phone, reason string, now time.Time) error
	// HasConsent reports whether any record grants consent for the phone at t.
	HasConsent(ctx context.Context, phone string, t time.Time) (bool, error)
	ListByPhone(ctx context.Context, phone string) ([]Record, error)
}

type SQLLedger struct {
	db *store.DB
}

func NewSQLLedger(db *store.DB) *SQLLedger {
	return &SQLLedger{db: db}
}

func (l *SQLLedger) RecordImplied(ctx context.Context, tenantID, leadID, phone string, source Source, now time.Time) (Record, error) {
	exp := now.Add(ImpliedTTL)
	return l.append(ctx, Record{
		TenantID:    tenantID,
		LeadID:      leadID,
		Phone:       phone,
		Kind:        KindImplied,
		Source:      source,
		ConsentedAt: now,
		ExpiresAt:   &exp,
	})
}

func (l *SQLLedger) RecordExpress(ctx context.Context, tenantID, leadID, phone string, source Source, now time.Time) (Record, error) {
	return l.append(ctx, Record{
		TenantID:    tenantID,
		LeadID:      leadID,
		Phone:       phone,
		Kind:        KindExpress,
		Source:      source,
		ConsentedAt: now,
	})
}

func (l *SQLLedger) append(ctx context.Context, r Record) (Record, error) {
	r.ID = uuid.NewString()
	const q = `
INSERT INTO consent_records (
  id, lead_id, tenant_id, phone, kind, source, consented_at, expires_at, metadata
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9
)
`
	_, err := l.db.ExecContext(ctx, l.db.Rebind(q),
		r.ID,
		nullable(r.LeadID),
		r.TenantID,
		r.Phone,
		r.Kind,
		r.Source,
		r.ConsentedAt,
		r.ExpiresAt,
		nullable(r.Metadata),
	)
	if err != nil {
		return Record{}, err
	}
	return r, nil
}

func (l *SQLLedger) RevokeAll(ctx context.Context, phone, reason string, now time.Time) error {
	const q = `
UPDATE consent_records
SET revoked_at = $1, revocation_reason = $2
WHERE phone = $3 AND revoked_at IS NULL
`
	_, err := l.db.ExecContext(ctx, l.db.Rebind(q), now, reason, phone)
	return err
}

func (l *SQLLedger) HasConsent(ctx context.Context, phone string, t time.Time) (bool, error) {
	const q = `
SELECT COUNT(1)
FROM consent_records
WHERE phone = $1
  AND revoked_at IS NULL
  AND (expires_at IS NULL OR expires_at > $2)
`
	var n int
	if err := l.db.QueryRowContext(ctx, l.db.Rebind(q), phone, t).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

func (l *SQLLedger) ListByPhone(ctx context.Context, phone string) ([]Record, error) {
	const q = `
SELECT id, COALESCE(lead_id, ''), tenant_id, phone, kind, source,
       consented_at, expires_at, revoked_at,
       COALESCE(revocation_reason, ''), COALESCE(metadata, '')
FROM consent_records
WHERE phone = $1
ORDER BY consented_at
`
	rows, err := l.db.QueryContext(ctx, l.db.Rebind(q), phone)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(
			&r.ID,
			&r.LeadID,
			&r.TenantID,
			&r.Phone,
			&r.Kind,
			&r.Source,
			&r.ConsentedAt,
			&r.ExpiresAt,
			&r.RevokedAt,
			&r.RevocationReason,
			&r.Metadata,
		); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
