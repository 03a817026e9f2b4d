package db

import (
	"context"
	"strings"
)

// SQLiteProvider opens a pure-Go SQLite pool via modernc.org/sqlite — no
// cgo, matching the driver the retrieval pack uses directly (rakunlabs-at).
// SQLite serializes writers at the engine level; the application layer
// additionally relies on RetryTransaction for "database is locked".
type SQLiteProvider struct{}

func (s SQLiteProvider) Open(ctx context.Context, dsn string) (*DB, error) {
	path := strings.TrimPrefix(dsn, "sqlite://")
	path = strings.TrimPrefix(path, "file:")
	if path == "" {
		path = ":memory:"
	}

	sqlxDB, err := sqlxOpenSQLite(path)
	if err != nil {
		return nil, ErrMigration(err)
	}

	// A single connection avoids "database is locked" storms under
	// concurrent writes; it serializes reads and writes alike through the
	// pool. WAL mode is still enabled below.
	sqlxDB.SetMaxOpenConns(1)

	if _, err := sqlxDB.ExecContext(ctx, "PRAGMA journal_mode=WAL;"); err != nil {
		return nil, ErrMigration(err)
	}
	if _, err := sqlxDB.ExecContext(ctx, "PRAGMA foreign_keys=ON;"); err != nil {
		return nil, ErrMigration(err)
	}

	d := &DB{DB: sqlxDB, dialect: DialectSQLite}
	if err := RunMigrations(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}
