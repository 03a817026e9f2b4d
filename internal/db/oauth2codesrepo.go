package db

import (
	"context"
	"database/sql"

	"github.com/pierre-mcp/pierre/internal/oauth2server"
)

// OAuth2CodeRepo persists single-use authorization codes, satisfying
// oauth2server.Repository's auth-code half.
type OAuth2CodeRepo struct {
	db *DB
}

func NewOAuth2CodeRepo(d *DB) *OAuth2CodeRepo { return &OAuth2CodeRepo{db: d} }

func (r *OAuth2CodeRepo) SaveAuthCode(ctx context.Context, code *oauth2server.AuthCode) error {
	query := r.db.Rebind(`INSERT INTO oauth2_auth_codes
		(code, client_id, user_id, redirect_uri, scope, code_challenge, code_challenge_method, expires_at, used)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err := r.db.ExecContext(ctx, query, code.Code, code.ClientID, code.UserID, code.RedirectURI, code.Scope,
		code.CodeChallenge, string(code.CodeChallengeMethod), code.ExpiresAt, code.Used)
	if err != nil {
		return ErrConflict(err.Error())
	}
	return nil
}

func (r *OAuth2CodeRepo) FindAuthCode(ctx context.Context, code string) (*oauth2server.AuthCode, error) {
	query := r.db.Rebind(`SELECT code, client_id, user_id, redirect_uri, scope, code_challenge, code_challenge_method, expires_at, used
		FROM oauth2_auth_codes WHERE code = ?`)
	var method string
	ac := &oauth2server.AuthCode{}
	err := r.db.QueryRowxContext(ctx, query, code).Scan(&ac.Code, &ac.ClientID, &ac.UserID, &ac.RedirectURI, &ac.Scope,
		&ac.CodeChallenge, &method, &ac.ExpiresAt, &ac.Used)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, ErrConflict(err.Error())
	}
	ac.CodeChallengeMethod = oauth2server.CodeChallengeMethod(method)
	return ac, nil
}

// MarkAuthCodeUsed flips used to true only if it was previously false, so
// a racing double-redemption observes zero rows affected on the loser,
// which gets a conflict error instead of a second successful redemption.
func (r *OAuth2CodeRepo) MarkAuthCodeUsed(ctx context.Context, code string) error {
	query := r.db.Rebind(`UPDATE oauth2_auth_codes SET used = ` + r.db.boolTrue() + ` WHERE code = ? AND used = ` + r.db.boolFalse())
	res, err := r.db.ExecContext(ctx, query, code)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrConflict("authorization code already used")
	}
	return nil
}
