// Package store owns the relational schema and the dialect adapter that lets
// the same repositories run against PostgreSQL or SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"leadline/pkg/utils"
)

var (
	ErrNotFound        = errors.New("store: not found")
	ErrInvalidArgument = errors.New("store: invalid argument")
)

// Dialect identifies the backing engine. Queries are written in PostgreSQL
// placeholder style ($1, $2, ...) and rebound for SQLite.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

func ParseDialect(s string) (Dialect, error) {
	switch Dialect(s) {
	case DialectPostgres, DialectSQLite:
		return Dialect(s), nil
	default:
		return "", fmt.Errorf("%w: unknown store dialect %q", ErrInvalidArgument, s)
	}
}

// DB wraps *sql.DB with the dialect so repositories can rebind placeholders
// without knowing which engine they run on.
type DB struct {
	*sql.DB
	dialect Dialect
}

func New(db *sql.DB, dialect Dialect) *DB {
	return &DB{DB: db, dialect: dialect}
}

func (d *DB) Dialect() Dialect { return d.dialect }

// Rebind converts $N placeholders to ? for SQLite. Arguments must already be
// in positional order; SQLite binds them by position.
func (d *DB) Rebind(query string) string {
	if d.dialect == DialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query))
	for i := 0; i < len(query); i++ {
		c := query[i]
		if c != '$' {
			b.WriteByte(c)
			continue
		}
		j := i + 1
		for j < len(query) && query[j] >= '0' && query[j] <= '9' {
			j++
		}
		if j == i+1 {
			b.WriteByte(c)
			continue
		}
		// SQLite's ?NNN form keeps the positional meaning of $NNN.
		n, _ := strconv.Atoi(query[i+1 : j])
		b.WriteString("?" + strconv.Itoa(n))
		i = j - 1
	}
	return b.String()
}

// ForUpdate returns the row-lock clause for SELECT statements. SQLite has no
// FOR UPDATE; its transactions already start with the write lock held.
func (d *DB) ForUpdate() string {
	if d.dialect == DialectPostgres {
		return " FOR UPDATE"
	}
	return ""
}

// InTx runs fn inside a transaction, rolling back on error or panic.
func (d *DB) InTx(ctx context.Context, fn utils.TxFunc) error {
	return utils.WithTx(ctx, d.DB, nil, fn)
}
