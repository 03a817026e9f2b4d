package db

import (
	"context"
	"database/sql"

	"github.com/pierre-mcp/pierre/pkg/kernel"
)

// ProviderCredential is a tenant-owned OAuth2 app registration with a
// downstream fitness provider (client_id/secret), distinct from Pierre's
// own oauth2_clients table which registers clients *of* Pierre.
type ProviderCredential struct {
	TenantID    kernel.TenantID
	Provider    string
	ClientID    string
	RedirectURI string
}

// ProviderCredentialRepo persists per-tenant downstream OAuth2 app
// credentials, satisfying oauth2client.CredentialRepository.
type ProviderCredentialRepo struct {
	db *DB
}

func NewProviderCredentialRepo(d *DB) *ProviderCredentialRepo { return &ProviderCredentialRepo{db: d} }

func (r *ProviderCredentialRepo) FindCredential(ctx context.Context, tenantID kernel.TenantID, provider string) (clientID string, clientSecretCiphertext, clientSecretNonce []byte, redirectURI string, err error) {
	query := r.db.Rebind(`SELECT client_id, client_secret_enc, client_secret_nonce, redirect_uri
		FROM provider_credentials WHERE tenant_id = ? AND provider_name = ?`)
	row := r.db.QueryRowxContext(ctx, query, tenantID.String(), provider)
	err = row.Scan(&clientID, &clientSecretCiphertext, &clientSecretNonce, &redirectURI)
	if err == sql.ErrNoRows {
		return "", nil, nil, "", ErrNotFound("provider_credential")
	}
	if err != nil {
		return "", nil, nil, "", ErrConflict(err.Error())
	}
	return clientID, clientSecretCiphertext, clientSecretNonce, redirectURI, nil
}

func (r *ProviderCredentialRepo) SaveCredential(ctx context.Context, tenantID kernel.TenantID, provider, clientID string, clientSecretCiphertext, clientSecretNonce []byte, redirectURI string) error {
	query := r.db.Rebind(`INSERT INTO provider_credentials (tenant_id, provider_name, client_id, client_secret_enc, client_secret_nonce, redirect_uri)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if r.db.Dialect() == DialectSQLite {
		query = r.db.Rebind(`INSERT OR REPLACE INTO provider_credentials (tenant_id, provider_name, client_id, client_secret_enc, client_secret_nonce, redirect_uri)
			VALUES (?, ?, ?, ?, ?, ?)`)
	} else {
		query = r.db.Rebind(`INSERT INTO provider_credentials (tenant_id, provider_name, client_id, client_secret_enc, client_secret_nonce, redirect_uri)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT (tenant_id, provider_name) DO UPDATE SET
				client_id = EXCLUDED.client_id, client_secret_enc = EXCLUDED.client_secret_enc,
				client_secret_nonce = EXCLUDED.client_secret_nonce, redirect_uri = EXCLUDED.redirect_uri`)
	}
	_, err := r.db.ExecContext(ctx, query, tenantID.String(), provider, clientID, clientSecretCiphertext, clientSecretNonce, redirectURI)
	if err != nil {
		return ErrConflict(err.Error())
	}
	return nil
}
