package db

import (
	"context"
	"time"

	"github.com/pierre-mcp/pierre/internal/jwks"
)

// JwksKeyRepo persists RSA keypairs in the jwks_keys table, private halves
// always encrypted. Mirrors the sqlx GetContext / rows-scan idiom used by
// every other repository in this package.
type JwksKeyRepo struct {
	db *DB
}

func NewJwksKeyRepo(d *DB) *JwksKeyRepo { return &JwksKeyRepo{db: d} }

func (r *JwksKeyRepo) SaveKey(ctx context.Context, kid string, privateKeyEnc, privateKeyNonce, publicKeyPEM []byte, active bool, createdAt time.Time, notAfter *time.Time) error {
	query := r.db.Rebind(`INSERT INTO jwks_keys (kid, alg, private_key_enc, private_key_nonce, public_key, active, created_at, not_after)
		VALUES (?, 'RS256', ?, ?, ?, ?, ?, ?)`)
	_, err := r.db.ExecContext(ctx, query, kid, privateKeyEnc, privateKeyNonce, string(publicKeyPEM), active, createdAt, notAfter)
	if err != nil {
		return ErrEncryption(err)
	}
	return nil
}

func (r *JwksKeyRepo) LoadActiveKeys(ctx context.Context) ([]jwks.StoredKey, error) {
	query := `SELECT kid, private_key_enc, private_key_nonce, public_key, active, created_at, not_after FROM jwks_keys`
	rows, err := r.db.QueryxContext(ctx, query)
	if err != nil {
		return nil, ErrEncryption(err)
	}
	defer rows.Close()

	var out []jwks.StoredKey
	for rows.Next() {
		var sk jwks.StoredKey
		var notAfter *time.Time
		if err := rows.Scan(&sk.Kid, &sk.PrivateKeyPEMEnc, &sk.PrivateKeyNonce, &sk.PublicKeyPEM, &sk.Active, &sk.CreatedAt, &notAfter); err != nil {
			return nil, ErrEncryption(err)
		}
		sk.NotAfter = notAfter
		out = append(out, sk)
	}
	return out, nil
}

func (r *JwksKeyRepo) DeactivatePrevious(ctx context.Context, exceptKid string) error {
	query := r.db.Rebind(`UPDATE jwks_keys SET active = FALSE WHERE kid != ? AND active = TRUE`)
	_, err := r.db.ExecContext(ctx, query, exceptKid)
	if err != nil {
		return ErrEncryption(err)
	}
	return nil
}
