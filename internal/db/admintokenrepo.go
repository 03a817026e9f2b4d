package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/pierre-mcp/pierre/internal/admintoken"
)

// AdminTokenRepo persists admin tokens, satisfying admintoken.Repository.
type AdminTokenRepo struct {
	db *DB
}

func NewAdminTokenRepo(d *DB) *AdminTokenRepo { return &AdminTokenRepo{db: d} }

func (r *AdminTokenRepo) Save(ctx context.Context, t *admintoken.Token) error {
	query := r.db.Rebind(`INSERT INTO admin_tokens
		(id, service_name, lookup_hash, token_hash, token_prefix, permissions, is_super_admin, is_active, created_at, expires_at, last_used_at, last_used_ip, usage_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err := r.db.ExecContext(ctx, query, t.ID, t.ServiceName, t.LookupHash, t.TokenHash, t.TokenPrefix,
		uint64(t.Permissions), t.IsSuperAdmin, t.IsActive, t.CreatedAt, t.ExpiresAt, t.LastUsedAt, t.LastUsedIP, t.UsageCount)
	if err != nil {
		return ErrConflict(err.Error())
	}
	return nil
}

func (r *AdminTokenRepo) FindByHash(ctx context.Context, hash string) (*admintoken.Token, error) {
	return r.findOne(ctx, `WHERE lookup_hash = ?`, hash)
}

func (r *AdminTokenRepo) FindByID(ctx context.Context, id string) (*admintoken.Token, error) {
	return r.findOne(ctx, `WHERE id = ?`, id)
}

func (r *AdminTokenRepo) findOne(ctx context.Context, where string, arg interface{}) (*admintoken.Token, error) {
	query := r.db.Rebind(`SELECT id, service_name, lookup_hash, token_hash, token_prefix, permissions, is_super_admin,
		is_active, created_at, expires_at, last_used_at, last_used_ip, usage_count FROM admin_tokens ` + where)
	var perms uint64
	t := &admintoken.Token{}
	err := r.db.QueryRowxContext(ctx, query, arg).Scan(&t.ID, &t.ServiceName, &t.LookupHash, &t.TokenHash, &t.TokenPrefix,
		&perms, &t.IsSuperAdmin, &t.IsActive, &t.CreatedAt, &t.ExpiresAt, &t.LastUsedAt, &t.LastUsedIP, &t.UsageCount)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, ErrConflict(err.Error())
	}
	t.Permissions = admintoken.Permission(perms)
	return t, nil
}

func (r *AdminTokenRepo) ListActive(ctx context.Context) ([]*admintoken.Token, error) {
	query := `SELECT id, service_name, lookup_hash, token_hash, token_prefix, permissions, is_super_admin,
		is_active, created_at, expires_at, last_used_at, last_used_ip, usage_count FROM admin_tokens WHERE is_active = ` + r.db.boolTrue()
	rows, err := r.db.QueryxContext(ctx, query)
	if err != nil {
		return nil, ErrConflict(err.Error())
	}
	defer rows.Close()

	var out []*admintoken.Token
	for rows.Next() {
		var perms uint64
		t := &admintoken.Token{}
		if err := rows.Scan(&t.ID, &t.ServiceName, &t.LookupHash, &t.TokenHash, &t.TokenPrefix, &perms, &t.IsSuperAdmin,
			&t.IsActive, &t.CreatedAt, &t.ExpiresAt, &t.LastUsedAt, &t.LastUsedIP, &t.UsageCount); err != nil {
			return nil, ErrConflict(err.Error())
		}
		t.Permissions = admintoken.Permission(perms)
		out = append(out, t)
	}
	return out, nil
}

func (r *AdminTokenRepo) RecordUsage(ctx context.Context, id string, ip string, at time.Time) error {
	query := r.db.Rebind(`UPDATE admin_tokens SET last_used_at = ?, last_used_ip = ?, usage_count = usage_count + 1 WHERE id = ?`)
	_, err := r.db.ExecContext(ctx, query, at, ip, id)
	return err
}

func (r *AdminTokenRepo) Revoke(ctx context.Context, id string) error {
	query := r.db.Rebind(`UPDATE admin_tokens SET is_active = ` + r.db.boolFalse() + ` WHERE id = ?`)
	_, err := r.db.ExecContext(ctx, query, id)
	return err
}

// boolTrue/boolFalse pick the dialect's literal: Postgres accepts TRUE/FALSE,
// SQLite stores booleans as 0/1 but also accepts the same keywords through
// modernc.org/sqlite's parser, so this is mostly for documentation of intent
// at each call site.
func (d *DB) boolTrue() string {
	if d.Dialect() == DialectSQLite {
		return "1"
	}
	return "TRUE"
}

func (d *DB) boolFalse() string {
	if d.Dialect() == DialectSQLite {
		return "0"
	}
	return "FALSE"
}
