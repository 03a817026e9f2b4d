package auth_test

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/pierre-mcp/pierre/internal/auth"
	"github.com/pierre-mcp/pierre/internal/jwks"
	"github.com/pierre-mcp/pierre/internal/keymanager"
	"github.com/pierre-mcp/pierre/pkg/kernel"
)

type fakeJwksRepo struct {
	mu   sync.Mutex
	keys map[string]jwks.StoredKey
}

func newFakeJwksRepo() *fakeJwksRepo { return &fakeJwksRepo{keys: make(map[string]jwks.StoredKey)} }

func (r *fakeJwksRepo) SaveKey(ctx context.Context, kid string, privEnc, privNonce []byte, pubPEM []byte, active bool, createdAt time.Time, notAfter *time.Time) error {
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

func (r *fakeJwksRepo) LoadActiveKeys(ctx context.Context) ([]jwks.StoredKey, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]jwks.StoredKey, 0, len(r.keys))
	for _, k := range r.keys {
		out = append(out, k)
	}
	return out, nil
}

func (r *fakeJwksRepo) DeactivatePrevious(ctx context.Context, exceptKid string) error {
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
	wrapped []byte
	ok      bool
}

func (s *fakeSecretStore) GetWrappedDEK(ctx context.Context) ([]byte, bool, error) {
	return s.wrapped, s.ok, nil
}

func (s *fakeSecretStore) SaveWrappedDEK(ctx context.Context, wrapped []byte) error {
	s.wrapped, s.ok = wrapped, true
	return nil
}

type fakeStatusLookup struct {
	mu       sync.Mutex
	statuses map[kernel.UserID]auth.UserStatus
}

func newFakeStatusLookup() *fakeStatusLookup {
	return &fakeStatusLookup{statuses: make(map[kernel.UserID]auth.UserStatus)}
}

func (l *fakeStatusLookup) set(id kernel.UserID, status auth.UserStatus) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.statuses[id] = status
}

func (l *fakeStatusLookup) UserStatus(ctx context.Context, id kernel.UserID) (auth.UserStatus, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.statuses[id], nil
}

func newTestJwksManager(t *testing.T) *jwks.Manager {
	t.Helper()
	km, err := keymanager.Bootstrap(filepath.Join(t.TempDir(), "mek"))
	if err != nil {
		t.Fatalf("keymanager.Bootstrap: %v", err)
	}
	if err := km.CompleteInitialization(context.Background(), &fakeSecretStore{}); err != nil {
		t.Fatalf("CompleteInitialization: %v", err)
	}
	mgr, err := jwks.NewManager(context.Background(), newFakeJwksRepo(), km, time.Hour)
	if err != nil {
		t.Fatalf("jwks.NewManager: %v", err)
	}
	return mgr
}

func TestGenerateTokenRejectsSuspendedUserBeforeIssuance(t *testing.T) {
	mgr := auth.NewManager(newTestJwksManager(t), "https://pierre.test", time.Hour, 15*time.Minute, nil)

	_, _, err := mgr.GenerateToken(auth.UserSnapshot{ID: "user-1", Status: auth.StatusSuspended})
	if err == nil {
		t.Fatal("expected GenerateToken to refuse a suspended user")
	}
}

func TestValidateTokenAllowsActiveUserWhenNoStatusLookupWired(t *testing.T) {
	mgr := auth.NewManager(newTestJwksManager(t), "https://pierre.test", time.Hour, 15*time.Minute, nil)

	token, _, err := mgr.GenerateToken(auth.UserSnapshot{ID: "user-1", Status: auth.StatusActive})
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	if _, err := mgr.ValidateToken(context.Background(), token); err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
}

func TestValidateTokenRefusesAUserSuspendedAfterIssuance(t *testing.T) {
	lookup := newFakeStatusLookup()
	lookup.set("user-1", auth.StatusActive)
	mgr := auth.NewManager(newTestJwksManager(t), "https://pierre.test", time.Hour, 15*time.Minute, lookup)

	token, _, err := mgr.GenerateToken(auth.UserSnapshot{ID: "user-1", Status: auth.StatusActive})
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	if _, err := mgr.ValidateToken(context.Background(), token); err != nil {
		t.Fatalf("expected the still-active user's token to validate, got %v", err)
	}

	// Account is suspended after the token was issued; the unexpired JWT
	// must stop working on the very next request, not at its original exp.
	lookup.set("user-1", auth.StatusSuspended)
	if _, err := mgr.ValidateToken(context.Background(), token); err == nil {
		t.Fatal("expected ValidateToken to refuse a user suspended after token issuance")
	}
}

func TestValidateTokenAllowsZeroValueStatusFromLookup(t *testing.T) {
	lookup := newFakeStatusLookup() // "user-1" never set: lookup returns zero-value status
	mgr := auth.NewManager(newTestJwksManager(t), "https://pierre.test", time.Hour, 15*time.Minute, lookup)

	token, _, err := mgr.GenerateToken(auth.UserSnapshot{ID: "user-1", Status: auth.StatusActive})
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	if _, err := mgr.ValidateToken(context.Background(), token); err != nil {
		t.Fatalf("expected a zero-value (non-suspended) status to still validate, got %v", err)
	}
}
