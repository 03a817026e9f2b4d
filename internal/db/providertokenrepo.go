package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/pierre-mcp/pierre/pkg/kernel"
)

// ProviderTokenRepo persists per-(user, tenant, provider) downstream
// OAuth2 tokens, encrypted at rest. Satisfies oauth2client.TokenRepository.
type ProviderTokenRepo struct {
	db *DB
}

func NewProviderTokenRepo(d *DB) *ProviderTokenRepo { return &ProviderTokenRepo{db: d} }

// StoredProviderToken is the ciphertext-level record this repo hands back;
// internal/oauth2client decrypts it via keymanager before use.
type StoredProviderToken struct {
	AccessTokenEnc    []byte
	AccessTokenNonce  []byte
	RefreshTokenEnc   []byte
	RefreshTokenNonce []byte
	ExpiresAt         time.Time
	Scopes            []string
}

func (r *ProviderTokenRepo) Save(ctx context.Context, userID kernel.UserID, tenantID kernel.TenantID, provider string, t StoredProviderToken) error {
	var scopes interface{}
	if r.db.Dialect() == DialectPostgres {
		scopes = pq.Array(t.Scopes)
	} else {
		scopes = joinScopes(t.Scopes)
	}

	del := r.db.Rebind(`DELETE FROM provider_tokens WHERE user_id = ? AND tenant_id = ? AND provider_name = ?`)
	ins := r.db.Rebind(`INSERT INTO provider_tokens
		(user_id, tenant_id, provider_name, access_token_enc, access_token_nonce, refresh_token_enc, refresh_token_nonce, expires_at, scopes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	err := r.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, del, userID.String(), tenantID.String(), provider); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, ins, userID.String(), tenantID.String(), provider,
			t.AccessTokenEnc, t.AccessTokenNonce, t.RefreshTokenEnc, t.RefreshTokenNonce, t.ExpiresAt, scopes)
		return err
	})
	if err != nil {
		return ErrConflict(err.Error())
	}
	return nil
}

func (r *ProviderTokenRepo) Find(ctx context.Context, userID kernel.UserID, tenantID kernel.TenantID, provider string) (*StoredProviderToken, error) {
	query := r.db.Rebind(`SELECT access_token_enc, access_token_nonce, refresh_token_enc, refresh_token_nonce, expires_at, scopes
		FROM provider_tokens WHERE user_id = ? AND tenant_id = ? AND provider_name = ?`)
	t := &StoredProviderToken{}
	var scopesRaw interface{}
	if r.db.Dialect() == DialectPostgres {
		scopesRaw = pq.Array(&t.Scopes)
	} else {
		var joined sql.NullString
		scopesRaw = &joined
		defer func() {
			if joined.Valid {
				t.Scopes = splitScopes(joined.String)
			}
		}()
	}
	err := r.db.QueryRowxContext(ctx, query, userID.String(), tenantID.String(), provider).
		Scan(&t.AccessTokenEnc, &t.AccessTokenNonce, &t.RefreshTokenEnc, &t.RefreshTokenNonce, &t.ExpiresAt, scopesRaw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, ErrConflict(err.Error())
	}
	return t, nil
}

func (r *ProviderTokenRepo) Delete(ctx context.Context, userID kernel.UserID, tenantID kernel.TenantID, provider string) error {
	query := r.db.Rebind(`DELETE FROM provider_tokens WHERE user_id = ? AND tenant_id = ? AND provider_name = ?`)
	_, err := r.db.ExecContext(ctx, query, userID.String(), tenantID.String(), provider)
	return err
}

func joinScopes(scopes []string) string {
	out := ""
	for i, s := range scopes {
		if i > 0 {
			out += " "
		}
		out += s
	}
	return out
}

func splitScopes(s string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ' ' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}
