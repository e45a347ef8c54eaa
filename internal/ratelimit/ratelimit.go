// Package ratelimit bounds inbound webhook processing per tenant. The limiter
// is advisory: any infrastructure failure fails open, because dropping a real
// customer call is worse than admitting a burst.
package ratelimit

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"leadline/internal/store"
	"leadline/pkg/utils"
)

const (
	DefaultLimit  = 20
	DefaultWindow = time.Minute
)

// Limiter answers whether one more event for the key is admitted now.
type Limiter interface {
	Allow(ctx context.Context, key string) bool
}

// TenantLimiter uses Redis when configured and falls back to a counter row in
// the store when Redis is absent or failing.
type TenantLimiter struct {
	rdb    *redis.Client
	db     *store.DB
	limit  int
	window time.Duration
	clock  func() time.Time
	log    *slog.Logger
}

func New(rdb *redis.Client, db *store.DB, limit int, window time.Duration, log *slog.Logger) *TenantLimiter {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if window <= 0 {
		window = DefaultWindow
	}
	if log == nil {
		log = slog.Default()
	}
	return &TenantLimiter{
		rdb:    rdb,
		db:     db,
		limit:  limit,
		window: window,
		clock:  time.Now,
		log:    log,
	}
}

func (l *TenantLimiter) Allow(ctx context.Context, key string) bool {
	if l.rdb != nil {
		ok, err := utils.AllowFixedWindow(ctx, l.rdb, "rl:"+key, l.limit, l.window)
		if err == nil {
			return ok
		}
		l.log.Warn("rate limiter redis failed, trying store",
			slog.String("key", key), slog.String("error", err.Error()))
	}
	if l.db == nil {
		return true
	}
	ok, err := l.allowRow(ctx, key)
	if err != nil {
		l.log.Warn("rate limiter store failed, failing open",
			slog.String("key", key), slog.String("error", err.Error()))
		return true
	}
	return ok
}

func (l *TenantLimiter) allowRow(ctx context.Context, key string) (bool, error) {
	now := l.clock().UTC()
	allowed := false
	err := l.db.InTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		sel := `SELECT count, reset_at FROM rate_limit_windows WHERE key = $1` + l.db.ForUpdate()
		var count int
		var resetAt time.Time
		err := tx.QueryRowContext(ctx, l.db.Rebind(sel), key).Scan(&count, &resetAt)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			count, resetAt = 0, now
		case err != nil:
			return err
		}

		newCount, newReset, ok := decide(count, resetAt, now, l.limit, l.window)
		allowed = ok

		const upsert = `
INSERT INTO rate_limit_windows (key, count, reset_at)
VALUES ($1,$2,$3)
ON CONFLICT (key) DO UPDATE SET count = $4, reset_at = $5
`
		_, err = tx.ExecContext(ctx, l.db.Rebind(upsert), key, newCount, newReset, newCount, newReset)
		return err
	})
	return allowed, err
}

// decide applies the fixed-window rule to one observation.
func decide(count int, resetAt, now time.Time, limit int, window time.Duration) (int, time.Time, bool) {
	if !now.Before(resetAt) {
		return 1, now.Add(window), true
	}
	if count < limit {
		return count + 1, resetAt, true
	}
	return count, resetAt, false
}
