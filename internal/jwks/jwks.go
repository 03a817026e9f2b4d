// Package jwks owns the set of RSA keypairs used to sign every JWT Pierre
// issues and publishes the corresponding JSON Web Key Set for verification.
// Grounded on pkg/iam/auth/jwt_service.go's claim/TTL shape, upgraded from
// HS256 shared-secret signing to RS256 with kid-based key rotation.
package jwks

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"

	"github.com/pierre-mcp/pierre/internal/keymanager"
	"github.com/pierre-mcp/pierre/pkg/errx"
	"github.com/pierre-mcp/pierre/pkg/logx"
)

var ErrRegistry = errx.NewRegistry("JWKS")

var (
	codeInvalidSignature = ErrRegistry.Register("invalid_signature", errx.TypeAuthorization, 401, "invalid token signature")
	codeExpired           = ErrRegistry.Register("expired", errx.TypeAuthorization, 401, "token expired")
	codeUnknownKid         = ErrRegistry.Register("unknown_kid", errx.TypeAuthorization, 401, "unknown signing key id")
	codeNoActiveKey        = ErrRegistry.Register("no_active_key", errx.TypeInternal, 500, "no active signing key")
)

// Key is one RSA keypair in the set, mirroring the JwksKey record.
type Key struct {
	Kid       string
	Private   *rsa.PrivateKey
	Public    *rsa.PublicKey
	CreatedAt time.Time
	NotAfter  *time.Time
	Active    bool
}

// Repository persists keys encrypted under the DEK, keyed by kid.
type Repository interface {
	SaveKey(ctx context.Context, kid string, privateKeyEnc, privateKeyNonce []byte, publicKeyPEM []byte, active bool, createdAt time.Time, notAfter *time.Time) error
	LoadActiveKeys(ctx context.Context) ([]StoredKey, error)
	DeactivatePrevious(ctx context.Context, exceptKid string) error
}

// StoredKey is the persisted, still-encrypted form a Repository returns.
type StoredKey struct {
	Kid              string
	PrivateKeyPEMEnc []byte
	PrivateKeyNonce  []byte
	PublicKeyPEM     string
	Active           bool
	CreatedAt        time.Time
	NotAfter         *time.Time
}

// Manager owns the in-memory key set. Private keys never leave Manager;
// repositories only ever see ciphertext.
type Manager struct {
	mu      sync.RWMutex
	keys    map[string]*Key
	active  string
	repo    Repository
	keyMgr  *keymanager.KeyManager
	ttl     time.Duration // retention window for retired keys
}

// NewManager loads any persisted keys, decrypting them via km, and
// generates a first keypair if none exist yet.
func NewManager(ctx context.Context, repo Repository, km *keymanager.KeyManager, retention time.Duration) (*Manager, error) {
	m := &Manager{keys: make(map[string]*Key), repo: repo, keyMgr: km, ttl: retention}

	stored, err := repo.LoadActiveKeys(ctx)
	if err != nil {
		return nil, err
	}
	for _, sk := range stored {
		privPEM, err := km.Decrypt(sk.PrivateKeyPEMEnc, sk.PrivateKeyNonce)
		if err != nil {
			return nil, err
		}
		priv, pub, err := parseKeyPair(privPEM, []byte(sk.PublicKeyPEM))
		if err != nil {
			return nil, err
		}
		k := &Key{Kid: sk.Kid, Private: priv, Public: pub, CreatedAt: sk.CreatedAt, NotAfter: sk.NotAfter, Active: sk.Active}
		m.keys[sk.Kid] = k
		if sk.Active {
			m.active = sk.Kid
		}
	}

	if m.active == "" {
		if err := m.Rotate(ctx); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func parseKeyPair(privPEM, pubPEM []byte) (*rsa.PrivateKey, *rsa.PublicKey, error) {
	privBlock, _ := pem.Decode(privPEM)
	priv, err := x509.ParsePKCS1PrivateKey(privBlock.Bytes)
	if err != nil {
		return nil, nil, errx.Wrap(err, "failed to parse stored private key", errx.TypeInternal)
	}
	pubBlock, _ := pem.Decode(pubPEM)
	pub, err := x509.ParsePKCS1PublicKey(pubBlock.Bytes)
	if err != nil {
		return nil, nil, errx.Wrap(err, "failed to parse stored public key", errx.TypeInternal)
	}
	return priv, pub, nil
}

// Rotate generates a new RSA-2048 keypair, marks it active, and demotes
// the previous active key to verification-only until its retention TTL.
// Single-writer by convention: callers should hold an application-level
// advisory lock (e.g. a Postgres advisory lock) around Rotate in a
// multi-node deployment.
func (m *Manager) Rotate(ctx context.Context) error {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return errx.Wrap(err, "failed to generate RSA keypair", errx.TypeInternal)
	}
	kid := ulid.Make().String()
	now := time.Now().UTC()

	privPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(priv)})
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PUBLIC KEY", Bytes: x509.MarshalPKCS1PublicKey(&priv.PublicKey)})

	ciphertext, nonce, err := m.keyMgr.Encrypt(privPEM)
	if err != nil {
		return err
	}
	if err := m.repo.SaveKey(ctx, kid, ciphertext, nonce, pubPEM, true, now, nil); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active != "" {
		if prev, ok := m.keys[m.active]; ok {
			prev.Active = false
			notAfter := now.Add(m.ttl)
			prev.NotAfter = &notAfter
		}
		if err := m.repo.DeactivatePrevious(ctx, kid); err != nil {
			return err
		}
	}

	m.keys[kid] = &Key{Kid: kid, Private: priv, Public: &priv.PublicKey, CreatedAt: now, Active: true}
	m.active = kid
	logx.WithField("kid", kid).Info("rotated JWKS signing key")
	return nil
}

// Sign issues an RS256 JWT using the active key.
func (m *Manager) Sign(claims jwt.Claims) (string, error) {
	m.mu.RLock()
	kid := m.active
	key, ok := m.keys[kid]
	m.mu.RUnlock()
	if !ok {
		return "", ErrRegistry.New(codeNoActiveKey)
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = kid
	signed, err := token.SignedString(key.Private)
	if err != nil {
		return "", errx.Wrap(err, "failed to sign token", errx.TypeInternal)
	}
	return signed, nil
}

// VerifyIgnoringExpiry behaves like Verify but tolerates an expired
// token — used by AuthManager.RefreshToken's grace-window reissue, where
// the signature must still check out even though exp has passed.
func (m *Manager) VerifyIgnoringExpiry(tokenString string, claims jwt.Claims) error {
	parser := jwt.NewParser(jwt.WithoutClaimsValidation())
	_, err := parser.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, ErrRegistry.New(codeInvalidSignature)
		}
		kid, _ := t.Header["kid"].(string)
		m.mu.RLock()
		key, ok := m.keys[kid]
		m.mu.RUnlock()
		if !ok {
			return nil, ErrRegistry.New(codeUnknownKid).WithDetail("kid", kid)
		}
		return key.Public, nil
	})
	if err != nil {
		return ErrRegistry.NewWithCause(codeInvalidSignature, err)
	}
	return nil
}

// Verify parses and verifies a JWT against whichever key its kid names,
// so rotation is observable atomically: a verification in flight during
// rotation sees either the old or new key, never a torn state.
func (m *Manager) Verify(tokenString string, claims jwt.Claims) error {
	_, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, ErrRegistry.New(codeInvalidSignature)
		}
		kid, _ := t.Header["kid"].(string)
		m.mu.RLock()
		key, ok := m.keys[kid]
		m.mu.RUnlock()
		if !ok {
			return nil, ErrRegistry.New(codeUnknownKid).WithDetail("kid", kid)
		}
		return key.Public, nil
	})
	if err != nil {
		switch {
		case errx.Is(err, jwt.ErrTokenExpired):
			return ErrRegistry.New(codeExpired)
		default:
			return ErrRegistry.NewWithCause(codeInvalidSignature, err)
		}
	}
	return nil
}

// JWK is one entry of the published JSON Web Key Set.
type JWK struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Use string `json:"use"`
	Alg string `json:"alg"`
	N   string `json:"n"`
	E   string `json:"e"`
}

type Document struct {
	Keys []JWK `json:"keys"`
}

// PublicJWKS lists every non-expired key, active or retired-but-within-TTL.
func (m *Manager) PublicJWKS() Document {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := time.Now().UTC()
	doc := Document{Keys: make([]JWK, 0, len(m.keys))}
	for _, k := range m.keys {
		if k.NotAfter != nil && now.After(*k.NotAfter) {
			continue
		}
		doc.Keys = append(doc.Keys, JWK{
			Kty: "RSA",
			Kid: k.Kid,
			Use: "sig",
			Alg: "RS256",
			N:   base64.RawURLEncoding.EncodeToString(k.Public.N.Bytes()),
			E:   base64.RawURLEncoding.EncodeToString(bigIntToBytes(k.Public.E)),
		})
	}
	return doc
}

func bigIntToBytes(e int) []byte {
	b := []byte{byte(e >> 16), byte(e >> 8), byte(e)}
	// trim leading zero byte for the common exponent 65537 (0x010001)
	for len(b) > 1 && b[0] == 0 {
		b = b[1:]
	}
	return b
}
