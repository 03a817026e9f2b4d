package db

import "github.com/jmoiron/sqlx"

func sqlxOpenSQLite(path string) (*sqlx.DB, error) {
	return sqlx.Open("sqlite", path)
}
