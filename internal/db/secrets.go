package db

import (
	"context"
	"database/sql"
)

// SystemSecretRepo persists the MEK-wrapped DEK in the system_secrets
// table, under the single name wrappedDEKSecretName. It satisfies
// keymanager.SecretStore.
type SystemSecretRepo struct {
	db *DB
}

func NewSystemSecretRepo(d *DB) *SystemSecretRepo { return &SystemSecretRepo{db: d} }

const wrappedDEKSecretName = "data_encryption_key"

func (r *SystemSecretRepo) GetWrappedDEK(ctx context.Context) ([]byte, bool, error) {
	return r.getRaw(ctx, wrappedDEKSecretName)
}

func (r *SystemSecretRepo) SaveWrappedDEK(ctx context.Context, wrapped []byte) error {
	return r.saveRaw(ctx, wrappedDEKSecretName, wrapped)
}

// getRaw reads the named secret's value_enc and value_nonce columns and
// returns them rejoined as nonce||ciphertext with true, or false when no
// row has that name.
func (r *SystemSecretRepo) getRaw(ctx context.Context, name string) ([]byte, bool, error) {
	var valueEnc, valueNonce []byte
	query := r.db.Rebind(`SELECT value_enc, value_nonce FROM system_secrets WHERE name = ?`)
	err := r.db.QueryRowxContext(ctx, query, name).Scan(&valueEnc, &valueNonce)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, ErrEncryption(err)
	}
	wrapped := make([]byte, 0, len(valueNonce)+len(valueEnc))
	wrapped = append(wrapped, valueNonce...)
	wrapped = append(wrapped, valueEnc...)
	return wrapped, true, nil
}

func (r *SystemSecretRepo) saveRaw(ctx context.Context, name string, wrapped []byte) error {
	// wrapped is [nonce(12)||ciphertext...] as produced by keymanager.wrap;
	// split it back out so the two halves can be stored in sibling columns.
	if len(wrapped) < 12 {
		return ErrEncryption(nil)
	}
	nonce, ciphertext := wrapped[:12], wrapped[12:]
	query := r.db.Rebind(`INSERT INTO system_secrets (name, value_enc, value_nonce) VALUES (?, ?, ?)
		ON CONFLICT (name) DO NOTHING`)
	if r.db.Dialect() == DialectSQLite {
		query = r.db.Rebind(`INSERT OR IGNORE INTO system_secrets (name, value_enc, value_nonce) VALUES (?, ?, ?)`)
	}
	_, err := r.db.ExecContext(ctx, query, name, ciphertext, nonce)
	if err != nil {
		return ErrEncryption(err)
	}
	return nil
}
