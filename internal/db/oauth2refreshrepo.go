package db

import (
	"context"
	"database/sql"

	"github.com/pierre-mcp/pierre/internal/oauth2server"
)

// OAuth2RefreshRepo persists refresh tokens at rest, encrypted under the
// DEK (ciphertext/nonce columns), keyed by a plain sha256 lookup hash.
type OAuth2RefreshRepo struct {
	db *DB
}

func NewOAuth2RefreshRepo(d *DB) *OAuth2RefreshRepo { return &OAuth2RefreshRepo{db: d} }

func (r *OAuth2RefreshRepo) SaveRefreshToken(ctx context.Context, t *oauth2server.RefreshToken, ciphertext, nonce []byte) error {
	query := r.db.Rebind(`INSERT INTO oauth2_refresh_tokens
		(token_hash, token_enc, token_nonce, client_id, user_id, scope, expires_at, revoked)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err := r.db.ExecContext(ctx, query, t.TokenHash, ciphertext, nonce, t.ClientID, t.UserID, t.Scope, t.ExpiresAt, t.Revoked)
	if err != nil {
		return ErrConflict(err.Error())
	}
	return nil
}

func (r *OAuth2RefreshRepo) FindRefreshTokenByHash(ctx context.Context, hash string) (*oauth2server.RefreshToken, []byte, error) {
	query := r.db.Rebind(`SELECT token_hash, token_enc, token_nonce, client_id, user_id, scope, expires_at, revoked
		FROM oauth2_refresh_tokens WHERE token_hash = ?`)
	var ciphertext, nonce []byte
	rt := &oauth2server.RefreshToken{}
	err := r.db.QueryRowxContext(ctx, query, hash).Scan(&rt.TokenHash, &ciphertext, &nonce, &rt.ClientID, &rt.UserID, &rt.Scope, &rt.ExpiresAt, &rt.Revoked)
	if err == sql.ErrNoRows {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, ErrConflict(err.Error())
	}
	wrapped := make([]byte, 0, len(nonce)+len(ciphertext))
	wrapped = append(wrapped, nonce...)
	wrapped = append(wrapped, ciphertext...)
	return rt, wrapped, nil
}

func (r *OAuth2RefreshRepo) RevokeRefreshToken(ctx context.Context, hash string) error {
	query := r.db.Rebind(`UPDATE oauth2_refresh_tokens SET revoked = ` + r.db.boolTrue() + ` WHERE token_hash = ?`)
	_, err := r.db.ExecContext(ctx, query, hash)
	return err
}
