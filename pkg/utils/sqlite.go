package utils

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"time"
)

// SQLiteConfig controls the embedded store backend.
// SQLite serializes writers, so the pool is deliberately small.
type SQLiteConfig struct {
	Path        string
	BusyTimeout time.Duration
	PingTimeout time.Duration
}

func (c SQLiteConfig) withDefaults() SQLiteConfig {
	out := c
	if out.BusyTimeout <= 0 {
		// Claim queries contend under load; anything under 10s thrashes.
		out.BusyTimeout = 10 * time.Second
	}
	if out.PingTimeout <= 0 {
		out.PingTimeout = 5 * time.Second
	}
	return out
}

// OpenSQLite opens the file-backed store with WAL and a busy timeout.
// driverName should typically be "sqlite3" (mattn/go-sqlite3).
func OpenSQLite(ctx context.Context, driverName string, cfg SQLiteConfig) (*sql.DB, error) {
	cfg = cfg.withDefaults()
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}

	// _txlock=immediate makes every transaction take the write lock up front,
	// so read-modify-write sequences never upgrade mid-transaction.
	dsn := fmt.Sprintf("file:%s?_busy_timeout=%d&_journal_mode=WAL&_foreign_keys=on&_txlock=immediate",
		url.PathEscape(cfg.Path), cfg.BusyTimeout.Milliseconds())

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, err
	}

	// A single writer connection avoids SQLITE_BUSY storms; readers share it.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := HealthCheck(ctx, db, cfg.PingTimeout); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}
