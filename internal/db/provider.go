package db

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Dialect identifies which SQL dialect a DatabaseProvider speaks, so
// repositories built on *DB can rebind "?" placeholders appropriately and
// pick dialect-specific SQL where it cannot be avoided (upserts, RETURNING).
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

// DatabaseProvider is the pluggable backend contract: open a pool, run
// migrations, and hand back a ready *DB. SQLite and Postgres both
// implement it; every repository in internal/ is built against *DB and
// Dialect(), never against database/sql directly.
type DatabaseProvider interface {
	Open(ctx context.Context, dsn string) (*DB, error)
}

// DB wraps a *sqlx.DB with the dialect it was opened against. Rebind
// translates "?"-style placeholders to the dialect's native style so a
// single SQL string (written with "?") works against both backends.
type DB struct {
	*sqlx.DB
	dialect Dialect
}

func (d *DB) Dialect() Dialect { return d.dialect }

// Rebind rewrites "?" placeholders for the underlying driver.
func (d *DB) Rebind(query string) string { return d.DB.Rebind(query) }

// WithTx runs fn inside a transaction, committing on success and rolling
// back on any error or panic — the TransactionGuard pattern from the
// component design: the guard's "drop without commit rolls back" is
// expressed here as a deferred rollback that Commit supersedes.
func (d *DB) WithTx(ctx context.Context, fn func(tx *sqlx.Tx) error) (err error) {
	tx, err := d.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		err = tx.Commit()
	}()
	err = fn(tx)
	return err
}

// Open dispatches on the DSN's scheme (cmd/container.go does not use it; it
// picks a provider from Config.Database.Driver instead): a "postgres(ql)"
// scheme selects PostgresProvider, everything else (including "sqlite:" and
// bare file paths) selects SQLiteProvider.
func Open(ctx context.Context, dsn string) (*DB, error) {
	scheme := schemeOf(dsn)
	switch scheme {
	case "postgres", "postgresql":
		return PostgresProvider{}.Open(ctx, dsn)
	default:
		return SQLiteProvider{}.Open(ctx, dsn)
	}
}

func schemeOf(dsn string) string {
	for i := 0; i < len(dsn); i++ {
		if dsn[i] == ':' {
			return dsn[:i]
		}
		if dsn[i] == '/' || dsn[i] == '\\' {
			break
		}
	}
	return ""
}
