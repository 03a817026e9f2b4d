package db

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/pierre-mcp/pierre/pkg/logx"
)

// migration pairs an ordered name with dialect-specific DDL. Every
// statement uses "IF NOT EXISTS"/"IF NOT EXISTS" idioms so migrations
// tolerate re-running against a populated database, per spec.
type migration struct {
	name     string
	postgres string
	sqlite   string
}

// migrations runs in this fixed order: users, tenants, JWKS keys, admin
// tokens, OAuth2 authorization server, downstream provider tokens, tool
// catalog overrides, OAuth notifications, provider credentials, system
// secrets, system settings.
var migrations = []migration{
	{
		name: "001_users",
		postgres: `CREATE TABLE IF NOT EXISTS users (
			id UUID PRIMARY KEY,
			email TEXT UNIQUE NOT NULL,
			password_hash TEXT NOT NULL,
			display_name TEXT,
			tier TEXT NOT NULL DEFAULT 'starter',
			tenant_id UUID,
			role TEXT NOT NULL DEFAULT 'user',
			status TEXT NOT NULL DEFAULT 'pending',
			is_admin BOOLEAN NOT NULL DEFAULT FALSE,
			approved_by UUID,
			approved_at TIMESTAMPTZ,
			auth_provider TEXT NOT NULL DEFAULT 'password',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			last_active TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		sqlite: `CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			email TEXT UNIQUE NOT NULL,
			password_hash TEXT NOT NULL,
			display_name TEXT,
			tier TEXT NOT NULL DEFAULT 'starter',
			tenant_id TEXT,
			role TEXT NOT NULL DEFAULT 'user',
			status TEXT NOT NULL DEFAULT 'pending',
			is_admin BOOLEAN NOT NULL DEFAULT 0,
			approved_by TEXT,
			approved_at DATETIME,
			auth_provider TEXT NOT NULL DEFAULT 'password',
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			last_active DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);`,
	},
	{
		name: "002_tenants",
		postgres: `CREATE TABLE IF NOT EXISTS tenants (
			id UUID PRIMARY KEY,
			name TEXT NOT NULL,
			slug TEXT UNIQUE NOT NULL,
			domain TEXT,
			plan TEXT NOT NULL DEFAULT 'starter',
			owner_user_id UUID NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		sqlite: `CREATE TABLE IF NOT EXISTS tenants (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			slug TEXT UNIQUE NOT NULL,
			domain TEXT,
			plan TEXT NOT NULL DEFAULT 'starter',
			owner_user_id TEXT NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);`,
	},
	{
		name: "003_jwks_keys",
		postgres: `CREATE TABLE IF NOT EXISTS jwks_keys (
			kid TEXT PRIMARY KEY,
			alg TEXT NOT NULL DEFAULT 'RS256',
			private_key_enc BYTEA NOT NULL,
			private_key_nonce BYTEA NOT NULL,
			public_key TEXT NOT NULL,
			active BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			not_after TIMESTAMPTZ
		);`,
		sqlite: `CREATE TABLE IF NOT EXISTS jwks_keys (
			kid TEXT PRIMARY KEY,
			alg TEXT NOT NULL DEFAULT 'RS256',
			private_key_enc BLOB NOT NULL,
			private_key_nonce BLOB NOT NULL,
			public_key TEXT NOT NULL,
			active BOOLEAN NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			not_after DATETIME
		);`,
	},
	{
		name: "004_admin_tokens",
		postgres: `CREATE TABLE IF NOT EXISTS admin_tokens (
			id TEXT PRIMARY KEY,
			service_name TEXT NOT NULL,
			lookup_hash TEXT UNIQUE NOT NULL,
			token_hash TEXT NOT NULL,
			token_prefix TEXT NOT NULL,
			permissions BIGINT NOT NULL DEFAULT 0,
			is_super_admin BOOLEAN NOT NULL DEFAULT FALSE,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			expires_at TIMESTAMPTZ,
			last_used_at TIMESTAMPTZ,
			last_used_ip TEXT,
			usage_count BIGINT NOT NULL DEFAULT 0
		);`,
		sqlite: `CREATE TABLE IF NOT EXISTS admin_tokens (
			id TEXT PRIMARY KEY,
			service_name TEXT NOT NULL,
			lookup_hash TEXT UNIQUE NOT NULL,
			token_hash TEXT NOT NULL,
			token_prefix TEXT NOT NULL,
			permissions INTEGER NOT NULL DEFAULT 0,
			is_super_admin BOOLEAN NOT NULL DEFAULT 0,
			is_active BOOLEAN NOT NULL DEFAULT 1,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			expires_at DATETIME,
			last_used_at DATETIME,
			last_used_ip TEXT,
			usage_count INTEGER NOT NULL DEFAULT 0
		);`,
	},
	{
		name: "005_oauth2_server",
		postgres: `
		CREATE TABLE IF NOT EXISTS oauth2_clients (
			id UUID PRIMARY KEY,
			client_id TEXT UNIQUE NOT NULL,
			client_secret_hash TEXT NOT NULL,
			redirect_uris TEXT NOT NULL,
			grant_types TEXT NOT NULL,
			response_types TEXT NOT NULL,
			scope TEXT,
			client_name TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			expires_at TIMESTAMPTZ
		);
		CREATE TABLE IF NOT EXISTS oauth2_auth_codes (
			code TEXT PRIMARY KEY,
			client_id TEXT NOT NULL,
			user_id UUID NOT NULL,
			redirect_uri TEXT NOT NULL,
			scope TEXT,
			code_challenge TEXT,
			code_challenge_method TEXT,
			expires_at TIMESTAMPTZ NOT NULL,
			used BOOLEAN NOT NULL DEFAULT FALSE
		);
		CREATE TABLE IF NOT EXISTS oauth2_refresh_tokens (
			token_hash TEXT PRIMARY KEY,
			token_enc BYTEA NOT NULL,
			token_nonce BYTEA NOT NULL,
			client_id TEXT NOT NULL,
			user_id UUID,
			scope TEXT,
			expires_at TIMESTAMPTZ NOT NULL,
			revoked BOOLEAN NOT NULL DEFAULT FALSE
		);`,
		sqlite: `
		CREATE TABLE IF NOT EXISTS oauth2_clients (
			id TEXT PRIMARY KEY,
			client_id TEXT UNIQUE NOT NULL,
			client_secret_hash TEXT NOT NULL,
			redirect_uris TEXT NOT NULL,
			grant_types TEXT NOT NULL,
			response_types TEXT NOT NULL,
			scope TEXT,
			client_name TEXT,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			expires_at DATETIME
		);
		CREATE TABLE IF NOT EXISTS oauth2_auth_codes (
			code TEXT PRIMARY KEY,
			client_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			redirect_uri TEXT NOT NULL,
			scope TEXT,
			code_challenge TEXT,
			code_challenge_method TEXT,
			expires_at DATETIME NOT NULL,
			used BOOLEAN NOT NULL DEFAULT 0
		);
		CREATE TABLE IF NOT EXISTS oauth2_refresh_tokens (
			token_hash TEXT PRIMARY KEY,
			token_enc BLOB NOT NULL,
			token_nonce BLOB NOT NULL,
			client_id TEXT NOT NULL,
			user_id TEXT,
			scope TEXT,
			expires_at DATETIME NOT NULL,
			revoked BOOLEAN NOT NULL DEFAULT 0
		);`,
	},
	{
		name: "006_provider_tokens",
		postgres: `CREATE TABLE IF NOT EXISTS provider_tokens (
			user_id UUID NOT NULL,
			tenant_id UUID NOT NULL,
			provider_name TEXT NOT NULL,
			access_token_enc BYTEA NOT NULL,
			access_token_nonce BYTEA NOT NULL,
			refresh_token_enc BYTEA NOT NULL,
			refresh_token_nonce BYTEA NOT NULL,
			expires_at TIMESTAMPTZ NOT NULL,
			scopes TEXT[],
			PRIMARY KEY (user_id, tenant_id, provider_name)
		);`,
		sqlite: `CREATE TABLE IF NOT EXISTS provider_tokens (
			user_id TEXT NOT NULL,
			tenant_id TEXT NOT NULL,
			provider_name TEXT NOT NULL,
			access_token_enc BLOB NOT NULL,
			access_token_nonce BLOB NOT NULL,
			refresh_token_enc BLOB NOT NULL,
			refresh_token_nonce BLOB NOT NULL,
			expires_at DATETIME NOT NULL,
			scopes TEXT,
			PRIMARY KEY (user_id, tenant_id, provider_name)
		);`,
	},
	{
		name: "007_tool_catalog",
		postgres: `CREATE TABLE IF NOT EXISTS tenant_tool_overrides (
			tenant_id UUID NOT NULL,
			tool_name TEXT NOT NULL,
			is_enabled BOOLEAN NOT NULL,
			enabled_by_user_id UUID,
			reason TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (tenant_id, tool_name)
		);`,
		sqlite: `CREATE TABLE IF NOT EXISTS tenant_tool_overrides (
			tenant_id TEXT NOT NULL,
			tool_name TEXT NOT NULL,
			is_enabled BOOLEAN NOT NULL,
			enabled_by_user_id TEXT,
			reason TEXT,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (tenant_id, tool_name)
		);`,
	},
	{
		name: "008_oauth_notifications",
		postgres: `CREATE TABLE IF NOT EXISTS oauth_notifications (
			id UUID PRIMARY KEY,
			user_id UUID NOT NULL,
			provider TEXT NOT NULL,
			success BOOLEAN NOT NULL,
			message TEXT NOT NULL,
			expires_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			read_at TIMESTAMPTZ
		);
		CREATE INDEX IF NOT EXISTS idx_oauth_notifications_user ON oauth_notifications (user_id, created_at);`,
		sqlite: `CREATE TABLE IF NOT EXISTS oauth_notifications (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			provider TEXT NOT NULL,
			success BOOLEAN NOT NULL,
			message TEXT NOT NULL,
			expires_at DATETIME,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			read_at DATETIME
		);
		CREATE INDEX IF NOT EXISTS idx_oauth_notifications_user ON oauth_notifications (user_id, created_at);`,
	},
	{
		name: "009_provider_credentials",
		postgres: `CREATE TABLE IF NOT EXISTS provider_credentials (
			tenant_id UUID NOT NULL,
			provider_name TEXT NOT NULL,
			client_id TEXT NOT NULL,
			client_secret_enc BYTEA NOT NULL,
			client_secret_nonce BYTEA NOT NULL,
			redirect_uri TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (tenant_id, provider_name)
		);`,
		sqlite: `CREATE TABLE IF NOT EXISTS provider_credentials (
			tenant_id TEXT NOT NULL,
			provider_name TEXT NOT NULL,
			client_id TEXT NOT NULL,
			client_secret_enc BLOB NOT NULL,
			client_secret_nonce BLOB NOT NULL,
			redirect_uri TEXT NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (tenant_id, provider_name)
		);`,
	},
	{
		name: "010_system_secrets",
		postgres: `CREATE TABLE IF NOT EXISTS system_secrets (
			name TEXT PRIMARY KEY,
			value_enc BYTEA NOT NULL,
			value_nonce BYTEA NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		sqlite: `CREATE TABLE IF NOT EXISTS system_secrets (
			name TEXT PRIMARY KEY,
			value_enc BLOB NOT NULL,
			value_nonce BLOB NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);`,
	},
	{
		// Plaintext key/value settings, distinct from system_secrets
		// (which is always MEK/DEK-wrapped): today this holds only the
		// admin auto-approval toggle, but the shape is generic.
		name: "011_system_settings",
		postgres: `CREATE TABLE IF NOT EXISTS system_settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		sqlite: `CREATE TABLE IF NOT EXISTS system_settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);`,
	},
}

// RunMigrations applies every migration in order inside its own
// transaction; CREATE TABLE/INDEX IF NOT EXISTS makes every statement
// idempotent so re-running against a populated database is safe.
func RunMigrations(ctx context.Context, d *DB) error {
	for _, m := range migrations {
		stmt := m.postgres
		if d.dialect == DialectSQLite {
			stmt = m.sqlite
		}
		if err := d.WithTx(ctx, func(tx *sqlx.Tx) error {
			_, err := tx.ExecContext(ctx, stmt)
			return err
		}); err != nil {
			return ErrMigration(fmt.Errorf("migration %s: %w", m.name, err))
		}
		logx.WithField("migration", m.name).Debug("migration applied")
	}
	return nil
}
