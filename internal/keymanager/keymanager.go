// Package keymanager bootstraps the two-tier encryption key hierarchy: a
// master encryption key (MEK) supplied by the environment wraps a data
// encryption key (DEK) that is generated once and persisted, encrypted, in
// the database. Grounded on the bootstrap/complete_initialization sequence
// exercised by original_source/tests/jwt_secret_persistence_test.rs.
package keymanager

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"hash"
	"io"
	"os"

	"golang.org/x/crypto/hkdf"

	"github.com/pierre-mcp/pierre/pkg/errx"
	"github.com/pierre-mcp/pierre/pkg/logx"
)

func newSHA256() hash.Hash { return sha256.New() }

var ErrRegistry = errx.NewRegistry("KEYMGR")

var (
	codeMissingMEK  = ErrRegistry.Register("missing_mek", errx.TypeInternal, 500, "master encryption key not configured")
	codeInvalidMEK  = ErrRegistry.Register("invalid_mek", errx.TypeInternal, 500, "master encryption key is malformed")
	codeEncryption  = ErrRegistry.Register("encryption_failed", errx.TypeInternal, 500, "encryption failed")
	codeDecryption  = ErrRegistry.Register("decryption_failed", errx.TypeInternal, 500, "decryption failed")
	codeNoDEK       = ErrRegistry.Register("dek_not_initialized", errx.TypeInternal, 500, "data encryption key not initialized")
)

const (
	mekEnvVar  = "PIERRE_MASTER_ENCRYPTION_KEY"
	mekKeySize = 32 // AES-256
)

// KeyManager keeps the unwrapped MEK (and its wrapping AEAD) in memory for
// its lifetime; the DEK itself, once installed via CompleteInitialization,
// lives only in the KeyManager's in-memory field — Database stores solely the
// MEK-wrapped ciphertext.
type KeyManager struct {
	mek          []byte
	dek          []byte
	wrapAEAD     cipher.AEAD
	developerMEK bool
}

// Bootstrap reads the MEK from the environment. In production a missing
// MEK is fatal; outside production (no APP_ENV=production) a MEK is
// generated and persisted to devKeyPath so repeated local runs stay
// consistent.
func Bootstrap(devKeyPath string) (*KeyManager, error) {
	raw := os.Getenv(mekEnvVar)
	if raw == "" {
		if os.Getenv("APP_ENV") == "production" {
			return nil, ErrRegistry.New(codeMissingMEK)
		}
		key, err := loadOrGenerateDevMEK(devKeyPath)
		if err != nil {
			return nil, err
		}
		km, err := newKeyManager(key)
		if err == nil {
			km.developerMEK = true
		}
		return km, err
	}
	key, err := base64.RawURLEncoding.DecodeString(raw)
	if err != nil {
		// Fall back to standard padded base64url in case the operator
		// supplied a padded value.
		key, err = base64.URLEncoding.DecodeString(raw)
		if err != nil {
			return nil, ErrRegistry.New(codeInvalidMEK)
		}
	}
	return newKeyManager(key)
}

func newKeyManager(mek []byte) (*KeyManager, error) {
	if len(mek) != mekKeySize {
		return nil, ErrRegistry.New(codeInvalidMEK).WithDetail("expected_bytes", mekKeySize)
	}
	wrapKey := make([]byte, mekKeySize)
	kdf := hkdf.New(newSHA256, mek, nil, []byte("pierre-dek-wrap"))
	if _, err := io.ReadFull(kdf, wrapKey); err != nil {
		return nil, ErrRegistry.NewWithCause(codeEncryption, err)
	}
	block, err := aes.NewCipher(wrapKey)
	if err != nil {
		return nil, ErrRegistry.NewWithCause(codeEncryption, err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, ErrRegistry.NewWithCause(codeEncryption, err)
	}
	return &KeyManager{mek: mek, wrapAEAD: gcm}, nil
}

func loadOrGenerateDevMEK(path string) ([]byte, error) {
	if path == "" {
		path = ".pierre-dev-mek"
	}
	if data, err := os.ReadFile(path); err == nil {
		key, err := base64.RawURLEncoding.DecodeString(string(data))
		if err == nil && len(key) == mekKeySize {
			return key, nil
		}
	}
	key := make([]byte, mekKeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, ErrRegistry.NewWithCause(codeEncryption, err)
	}
	encoded := base64.RawURLEncoding.EncodeToString(key)
	if err := os.WriteFile(path, []byte(encoded), 0o600); err != nil {
		logx.WithError(err).Warn("could not persist development MEK, it will not survive a restart")
	}
	return key, nil
}

// SecretStore is the minimal persistence contract CompleteInitialization
// needs: fetch the wrapped DEK if one exists, or store a freshly generated
// one. Implemented by internal/db's system_secrets-backed repository.
type SecretStore interface {
	GetWrappedDEK(ctx context.Context) ([]byte, bool, error)
	SaveWrappedDEK(ctx context.Context, wrapped []byte) error
}

// CompleteInitialization loads the canonical DEK from store if one is
// already persisted (unwrapping it with the MEK), or generates a new DEK
// and persists it wrapped. Either way the DEK is installed in km for the
// lifetime of the process.
func (km *KeyManager) CompleteInitialization(ctx context.Context, store SecretStore) error {
	wrapped, ok, err := store.GetWrappedDEK(ctx)
	if err != nil {
		return err
	}
	if ok {
		dek, err := km.unwrap(wrapped)
		if err != nil {
			return err
		}
		km.dek = dek
		return nil
	}

	dek := make([]byte, mekKeySize)
	if _, err := rand.Read(dek); err != nil {
		return ErrRegistry.NewWithCause(codeEncryption, err)
	}
	wrappedNew, err := km.wrap(dek)
	if err != nil {
		return err
	}
	if err := store.SaveWrappedDEK(ctx, wrappedNew); err != nil {
		return err
	}
	km.dek = dek
	return nil
}

func (km *KeyManager) wrap(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, km.wrapAEAD.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, ErrRegistry.NewWithCause(codeEncryption, err)
	}
	return km.wrapAEAD.Seal(nonce, nonce, plaintext, nil), nil
}

func (km *KeyManager) unwrap(wrapped []byte) ([]byte, error) {
	nonceSize := km.wrapAEAD.NonceSize()
	if len(wrapped) < nonceSize {
		return nil, ErrRegistry.New(codeDecryption)
	}
	nonce, ciphertext := wrapped[:nonceSize], wrapped[nonceSize:]
	plain, err := km.wrapAEAD.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrRegistry.NewWithCause(codeDecryption, err)
	}
	return plain, nil
}

// Encrypt AES-256-GCM-encrypts plaintext under the DEK, returning
// ciphertext and nonce separately so callers can store them in sibling
// columns as the data model specifies.
func (km *KeyManager) Encrypt(plaintext []byte) (ciphertext, nonce []byte, err error) {
	if km.dek == nil {
		return nil, nil, ErrRegistry.New(codeNoDEK)
	}
	block, err := aes.NewCipher(km.dek)
	if err != nil {
		return nil, nil, ErrRegistry.NewWithCause(codeEncryption, err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, nil, ErrRegistry.NewWithCause(codeEncryption, err)
	}
	nonce = make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, ErrRegistry.NewWithCause(codeEncryption, err)
	}
	ciphertext = gcm.Seal(nil, nonce, plaintext, nil)
	return ciphertext, nonce, nil
}

// Decrypt reverses Encrypt. Any failure (wrong key, truncated nonce,
// tampered ciphertext) surfaces as a KEYMGR decryption error (or a
// missing-DEK error before initialization) and must halt the offending
// request rather than fail open.
func (km *KeyManager) Decrypt(ciphertext, nonce []byte) ([]byte, error) {
	if km.dek == nil {
		return nil, ErrRegistry.New(codeNoDEK)
	}
	block, err := aes.NewCipher(km.dek)
	if err != nil {
		return nil, ErrRegistry.NewWithCause(codeDecryption, err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, ErrRegistry.NewWithCause(codeDecryption, err)
	}
	plain, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrRegistry.NewWithCause(codeDecryption, err)
	}
	return plain, nil
}

// EncryptString/DecryptString are convenience wrappers for the common case
// of encrypting UTF-8 secrets (tokens) rather than arbitrary byte blobs.
func (km *KeyManager) EncryptString(plaintext string) (ciphertext, nonce []byte, err error) {
	return km.Encrypt([]byte(plaintext))
}

func (km *KeyManager) DecryptString(ciphertext, nonce []byte) (string, error) {
	plain, err := km.Decrypt(ciphertext, nonce)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

func (km *KeyManager) DeveloperMEK() bool { return km.developerMEK }
