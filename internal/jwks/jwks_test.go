package jwks_test

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/pierre-mcp/pierre/internal/jwks"
	"github.com/pierre-mcp/pierre/internal/keymanager"
)

type memRepo struct {
	mu   sync.Mutex
	keys map[string]jwks.StoredKey
}

func newMemRepo() *memRepo { return &memRepo{keys: make(map[string]jwks.StoredKey)} }

func (r *memRepo) SaveKey(ctx context.Context, kid string, privEnc, privNonce []byte, pubPEM []byte, active bool, createdAt time.Time, notAfter *time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keys[kid] = jwks.StoredKey{
		Kid:              kid,
		PrivateKeyPEMEnc: privEnc,
		PrivateKeyNonce:  privNonce,
		PublicKeyPEM:     string(pubPEM),
		Active:           active,
		CreatedAt:        createdAt,
		NotAfter:         notAfter,
	}
	return nil
}

func (r *memRepo) LoadActiveKeys(ctx context.Context) ([]jwks.StoredKey, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]jwks.StoredKey, 0, len(r.keys))
	for _, k := range r.keys {
		out = append(out, k)
	}
	return out, nil
}

func (r *memRepo) DeactivatePrevious(ctx context.Context, exceptKid string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for kid, k := range r.keys {
		if kid != exceptKid {
			k.Active = false
			r.keys[kid] = k
		}
	}
	return nil
}

type fakeSecretStore struct {
	mu      sync.Mutex
	wrapped []byte
	ok      bool
}

func (s *fakeSecretStore) GetWrappedDEK(ctx context.Context) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.wrapped, s.ok, nil
}

func (s *fakeSecretStore) SaveWrappedDEK(ctx context.Context, wrapped []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.wrapped, s.ok = wrapped, true
	return nil
}

func newTestKeyManager(t *testing.T) *keymanager.KeyManager {
	t.Helper()
	km, err := keymanager.Bootstrap(filepath.Join(t.TempDir(), "mek"))
	if err != nil {
		t.Fatalf("keymanager.Bootstrap: %v", err)
	}
	if err := km.CompleteInitialization(context.Background(), &fakeSecretStore{}); err != nil {
		t.Fatalf("CompleteInitialization: %v", err)
	}
	return km
}

func TestSignAndVerifyRoundTrip(t *testing.T) {
	ctx := context.Background()
	mgr, err := jwks.NewManager(ctx, newMemRepo(), newTestKeyManager(t), time.Hour)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	claims := jwt.RegisteredClaims{Subject: "user-1", ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))}
	signed, err := mgr.Sign(claims)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	var got jwt.RegisteredClaims
	if err := mgr.Verify(signed, &got); err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if got.Subject != "user-1" {
		t.Fatalf("expected subject user-1, got %s", got.Subject)
	}
}

func TestRotateKeepsVerifyingTokensFromRetiredKey(t *testing.T) {
	ctx := context.Background()
	mgr, err := jwks.NewManager(ctx, newMemRepo(), newTestKeyManager(t), time.Hour)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	claims := jwt.RegisteredClaims{Subject: "user-1", ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))}
	signed, err := mgr.Sign(claims)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	if err := mgr.Rotate(ctx); err != nil {
		t.Fatalf("Rotate: %v", err)
	}

	var got jwt.RegisteredClaims
	if err := mgr.Verify(signed, &got); err != nil {
		t.Fatalf("expected a token signed before rotation to still verify, got %v", err)
	}
}

func TestPublicJWKSKeepsRetiredKeyWithinRetention(t *testing.T) {
	ctx := context.Background()
	mgr, err := jwks.NewManager(ctx, newMemRepo(), newTestKeyManager(t), time.Hour)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	before := mgr.PublicJWKS()
	if len(before.Keys) != 1 {
		t.Fatalf("expected exactly one active key before rotation, got %d", len(before.Keys))
	}

	if err := mgr.Rotate(ctx); err != nil {
		t.Fatalf("Rotate: %v", err)
	}

	after := mgr.PublicJWKS()
	if len(after.Keys) != 2 {
		t.Fatalf("expected both the retired and the new key to still be published within retention, got %d", len(after.Keys))
	}
}
