package db

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
)

// PostgresProvider opens a Postgres pool via lib/pq with sqlx.Connect and
// applies SetMaxOpenConns/SetMaxIdleConns/SetConnMaxLifetime from its
// fields; cmd/container.go fills them from Config.Database.
type PostgresProvider struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

func (p PostgresProvider) Open(ctx context.Context, dsn string) (*DB, error) {
	sqlxDB, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, ErrMigration(err)
	}

	maxOpen := p.MaxOpenConns
	if maxOpen == 0 {
		maxOpen = 25
	}
	maxIdle := p.MaxIdleConns
	if maxIdle == 0 {
		maxIdle = 5
	}
	lifetime := p.ConnMaxLifetime
	if lifetime == 0 {
		lifetime = 30 * time.Minute
	}
	sqlxDB.SetMaxOpenConns(maxOpen)
	sqlxDB.SetMaxIdleConns(maxIdle)
	sqlxDB.SetConnMaxLifetime(lifetime)

	d := &DB{DB: sqlxDB, dialect: DialectPostgres}
	if err := RunMigrations(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}
