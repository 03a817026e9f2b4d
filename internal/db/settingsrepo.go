package db

import "context"

// SettingsRepo persists small plaintext system settings (e.g. the
// admin auto-approval toggle) in the system_settings table, distinct
// from SystemSecretRepo's MEK/DEK-wrapped secrets.
type SettingsRepo struct {
	db *DB
}

func NewSettingsRepo(d *DB) *SettingsRepo { return &SettingsRepo{db: d} }

func (r *SettingsRepo) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	query := r.db.Rebind(`SELECT value FROM system_settings WHERE key = ?`)
	err := r.db.QueryRowxContext(ctx, query, key).Scan(&value)
	if err != nil {
		return "", false, nil
	}
	return value, true, nil
}

func (r *SettingsRepo) Set(ctx context.Context, key, value string) error {
	var query string
	switch r.db.Dialect() {
	case DialectSQLite:
		query = r.db.Rebind(`INSERT INTO system_settings (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
			ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP`)
	default:
		query = r.db.Rebind(`INSERT INTO system_settings (key, value, updated_at) VALUES (?, ?, now())
			ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = now()`)
	}
	_, err := r.db.ExecContext(ctx, query, key, value)
	return err
}
