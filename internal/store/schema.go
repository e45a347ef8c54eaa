package store

import (
	"context"
	"fmt"
	"strings"
)

// Tables required at startup. A missing table is fatal; Migrate creates them.
var requiredTables = []string{
	"tenants",
	"leads",
	"consent_records",
	"sms_queue",
	"webhook_events",
	"alert_buffer",
	"rate_limit_windows",
	"conversation_log",
}

var postgresDDL = []string{
	`CREATE TABLE IF NOT EXISTS tenants (
		id                TEXT PRIMARY KEY,
		inbound_number    TEXT NOT NULL UNIQUE,
		operator_number   TEXT NOT NULL,
		display_name      TEXT NOT NULL,
		timezone          TEXT NOT NULL,
		day_start         INTEGER NOT NULL DEFAULT 7,
		day_end           INTEGER NOT NULL DEFAULT 17,
		evening_end       INTEGER NOT NULL DEFAULT 21,
		emergency_mode    BOOLEAN NOT NULL DEFAULT FALSE,
		ai_active         BOOLEAN NOT NULL DEFAULT TRUE,
		average_job_value DOUBLE PRECISION NOT NULL DEFAULT 0,
		review_link       TEXT,
		sheet_id          TEXT,
		created_at        TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS leads (
		id              TEXT PRIMARY KEY,
		tenant_id       TEXT NOT NULL REFERENCES tenants(id),
		phone           TEXT NOT NULL,
		status          TEXT NOT NULL DEFAULT 'new',
		intent          TEXT,
		opt_out         BOOLEAN NOT NULL DEFAULT FALSE,
		name            TEXT,
		created_at      TIMESTAMPTZ NOT NULL,
		last_contact_at TIMESTAMPTZ,
		UNIQUE (tenant_id, phone)
	)`,
	`CREATE TABLE IF NOT EXISTS consent_records (
		id                TEXT PRIMARY KEY,
		lead_id           TEXT,
		tenant_id         TEXT NOT NULL,
		phone             TEXT NOT NULL,
		kind              TEXT NOT NULL,
		source            TEXT NOT NULL,
		consented_at      TIMESTAMPTZ NOT NULL,
		expires_at        TIMESTAMPTZ,
		revoked_at        TIMESTAMPTZ,
		revocation_reason TEXT,
		metadata          TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_consent_phone ON consent_records (phone)`,
	`CREATE TABLE IF NOT EXISTS sms_queue (
		id                  TEXT PRIMARY KEY,
		tenant_id           TEXT NOT NULL,
		to_number           TEXT NOT NULL,
		body                TEXT NOT NULL,
		external_id         TEXT UNIQUE,
		status              TEXT NOT NULL DEFAULT 'pending',
		attempts            INTEGER NOT NULL DEFAULT 0,
		last_attempt_at     TIMESTAMPTZ,
		locked_at           TIMESTAMPTZ,
		scheduled_for       TIMESTAMPTZ,
		created_at          TIMESTAMPTZ NOT NULL,
		sent_at             TIMESTAMPTZ,
		provider_message_id TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sms_queue_status_created ON sms_queue (status, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_sms_queue_scheduled ON sms_queue (scheduled_for)`,
	`CREATE INDEX IF NOT EXISTS idx_sms_queue_locked ON sms_queue (locked_at)`,
	`CREATE TABLE IF NOT EXISTS webhook_events (
		provider_id  TEXT PRIMARY KEY,
		kind         TEXT NOT NULL,
		tenant_id    TEXT,
		processed_at TIMESTAMPTZ NOT NULL,
		internal_id  TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS alert_buffer (
		tenant_id      TEXT NOT NULL,
		customer_phone TEXT NOT NULL,
		operator_phone TEXT NOT NULL,
		coalesced_text TEXT NOT NULL,
		count          INTEGER NOT NULL DEFAULT 1,
		send_at        TIMESTAMPTZ NOT NULL,
		created_at     TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (tenant_id, customer_phone)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_alert_buffer_send_at ON alert_buffer (send_at)`,
	`CREATE TABLE IF NOT EXISTS rate_limit_windows (
		key      TEXT PRIMARY KEY,
		count    INTEGER NOT NULL,
		reset_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS conversation_log (
		id          TEXT PRIMARY KEY,
		tenant_id   TEXT NOT NULL,
		lead_id     TEXT,
		phone       TEXT NOT NULL,
		direction   TEXT NOT NULL,
		body        TEXT NOT NULL,
		external_id TEXT,
		created_at  TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_convlog_tenant_created ON conversation_log (tenant_id, created_at)`,
}

// sqliteDDL mirrors postgresDDL; only the column affinities differ.
var sqliteDDL = func() []string {
	repl := strings.NewReplacer(
		"TIMESTAMPTZ", "TIMESTAMP",
		"DOUBLE PRECISION", "REAL",
		"BOOLEAN NOT NULL DEFAULT FALSE", "INTEGER NOT NULL DEFAULT 0",
		"BOOLEAN NOT NULL DEFAULT TRUE", "INTEGER NOT NULL DEFAULT 1",
	)
	out := make([]string, len(postgresDDL))
	for i, stmt := range postgresDDL {
		out[i] = repl.Replace(stmt)
	}
	return out
}()

// Migrate creates all tables and indexes. Statements are idempotent.
func Migrate(ctx context.Context, db *DB) error {
	ddl := postgresDDL
	if db.Dialect() == DialectSQLite {
		ddl = sqliteDDL
	}
	for _, stmt := range ddl {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("store: migrate: %w", err)
		}
	}
	return nil
}

// EnsureSchema verifies every required table exists. Callers treat a non-nil
// error as fatal.
func EnsureSchema(ctx context.Context, db *DB) error {
	var missing []string
	for _, table := range requiredTables {
		ok, err := tableExists(ctx, db, table)
		if err != nil {
			return fmt.Errorf("store: schema check: %w", err)
		}
		if !ok {
			missing = append(missing, table)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("store: schema missing tables: %s", strings.Join(missing, ", "))
	}
	return nil
}

func tableExists(ctx context.Context, db *DB, table string) (bool, error) {
	var q string
	switch db.Dialect() {
	case DialectSQLite:
		q = `SELECT COUNT(1) FROM sqlite_master WHERE type = 'table' AND name = $1`
	default:
		q = `SELECT COUNT(1) FROM information_schema.tables WHERE table_schema = current_schema() AND table_name = $1`
	}
	var n int
	if err := db.QueryRowContext(ctx, db.Rebind(q), table).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}
