package sse_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pierre-mcp/pierre/internal/auth"
	"github.com/pierre-mcp/pierre/internal/jwks"
	"github.com/pierre-mcp/pierre/internal/keymanager"
	"github.com/pierre-mcp/pierre/internal/sse"
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
	r.keys[kid] = jwks.StoredKey{Kid: kid, PrivateKeyPEMEnc: privEnc, PrivateKeyNonce: privNonce, PublicKeyPEM: string(pubPEM), Active: active, CreatedAt: createdAt, NotAfter: notAfter}
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

func (s *fakeSecretStore) GetWrappedDEK(ctx context.Context) ([]byte, bool, error) { return s.wrapped, s.ok, nil }
func (s *fakeSecretStore) SaveWrappedDEK(ctx context.Context, wrapped []byte) error {
	s.wrapped, s.ok = wrapped, true
	return nil
}

func newTestAuthManager(t *testing.T) *auth.Manager {
	t.Helper()
	km, err := keymanager.Bootstrap(t.TempDir() + "/mek")
	if err != nil {
		t.Fatalf("keymanager.Bootstrap: %v", err)
	}
	if err := km.CompleteInitialization(context.Background(), &fakeSecretStore{}); err != nil {
		t.Fatalf("CompleteInitialization: %v", err)
	}
	jwksMgr, err := jwks.NewManager(context.Background(), newFakeJwksRepo(), km, time.Hour)
	if err != nil {
		t.Fatalf("jwks.NewManager: %v", err)
	}
	return auth.NewManager(jwksMgr, "https://pierre.test", time.Hour, 15*time.Minute, nil)
}

func issueToken(t *testing.T, authMgr *auth.Manager, userID kernel.UserID) string {
	t.Helper()
	tok, _, err := authMgr.GenerateToken(auth.UserSnapshot{ID: userID, Email: "athlete@example.com", TenantID: "tenant-1", Role: "member", Status: auth.StatusActive})
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	return tok
}

func TestRegisterProtocolStreamSendsConnectedEvent(t *testing.T) {
	authMgr := newTestAuthManager(t)
	mgr := sse.NewManager(authMgr)
	token := issueToken(t, authMgr, "user-1")

	ch, err := mgr.RegisterProtocolStream(context.Background(), "sess-1", token)
	if err != nil {
		t.Fatalf("RegisterProtocolStream: %v", err)
	}

	select {
	case evt := <-ch:
		if evt.Kind != sse.EventConnected {
			t.Fatalf("expected the first event to be EventConnected, got %v", evt.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for the connected event")
	}
}

func TestRegisterProtocolStreamRejectsInvalidToken(t *testing.T) {
	authMgr := newTestAuthManager(t)
	mgr := sse.NewManager(authMgr)

	if _, err := mgr.RegisterProtocolStream(context.Background(), "sess-1", "not-a-real-token"); err == nil {
		t.Fatal("expected an invalid auth token to be rejected")
	}
}

func TestSendNotificationReachesAllSessionsForAUser(t *testing.T) {
	authMgr := newTestAuthManager(t)
	mgr := sse.NewManager(authMgr)
	token := issueToken(t, authMgr, "user-1")

	ch1, err := mgr.RegisterProtocolStream(context.Background(), "sess-1", token)
	if err != nil {
		t.Fatalf("RegisterProtocolStream sess-1: %v", err)
	}
	ch2, err := mgr.RegisterProtocolStream(context.Background(), "sess-2", token)
	if err != nil {
		t.Fatalf("RegisterProtocolStream sess-2: %v", err)
	}
	<-ch1 // drain EventConnected
	<-ch2

	if err := mgr.SendNotification(context.Background(), "user-1", sse.Event{Kind: sse.EventNotification, Data: "hi"}); err != nil {
		t.Fatalf("SendNotification: %v", err)
	}

	for name, ch := range map[string]<-chan sse.Event{"sess-1": ch1, "sess-2": ch2} {
		select {
		case evt := <-ch:
			if evt.Kind != sse.EventNotification {
				t.Fatalf("%s: expected a notification event, got %v", name, evt.Kind)
			}
		case <-time.After(time.Second):
			t.Fatalf("%s: timed out waiting for the notification", name)
		}
	}
}

func TestUnregisterScrubsBothMapsLeavingNoOrphanedUserEntry(t *testing.T) {
	authMgr := newTestAuthManager(t)
	mgr := sse.NewManager(authMgr)
	token := issueToken(t, authMgr, "user-1")

	ch, err := mgr.RegisterProtocolStream(context.Background(), "sess-1", token)
	if err != nil {
		t.Fatalf("RegisterProtocolStream: %v", err)
	}
	<-ch

	mgr.UnregisterProtocolStream("sess-1")

	if err := mgr.SendNotification(context.Background(), "user-1", sse.Event{Kind: sse.EventNotification}); err == nil {
		t.Fatal("expected SendNotification to fail once the user's only session is unregistered, indicating the userSessions entry was cleaned up")
	}

	// Unregistering an already-removed session must be a no-op, not a panic.
	mgr.UnregisterProtocolStream("sess-1")
}

func TestUnregisterOneSessionLeavesSiblingSessionReachable(t *testing.T) {
	authMgr := newTestAuthManager(t)
	mgr := sse.NewManager(authMgr)
	token := issueToken(t, authMgr, "user-1")

	ch1, err := mgr.RegisterProtocolStream(context.Background(), "sess-1", token)
	if err != nil {
		t.Fatalf("RegisterProtocolStream sess-1: %v", err)
	}
	ch2, err := mgr.RegisterProtocolStream(context.Background(), "sess-2", token)
	if err != nil {
		t.Fatalf("RegisterProtocolStream sess-2: %v", err)
	}
	<-ch1
	<-ch2

	mgr.UnregisterProtocolStream("sess-1")

	if err := mgr.SendNotification(context.Background(), "user-1", sse.Event{Kind: sse.EventNotification}); err != nil {
		t.Fatalf("expected the surviving session to still receive notifications, got %v", err)
	}
	select {
	case evt := <-ch2:
		if evt.Kind != sse.EventNotification {
			t.Fatalf("expected a notification event on the surviving session, got %v", evt.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for the notification on the surviving session")
	}
}

func TestCleanupInactiveRemovesStaleSession(t *testing.T) {
	authMgr := newTestAuthManager(t)
	mgr := sse.NewManager(authMgr)
	token := issueToken(t, authMgr, "user-1")

	ch, err := mgr.RegisterProtocolStream(context.Background(), "sess-1", token)
	if err != nil {
		t.Fatalf("RegisterProtocolStream: %v", err)
	}
	<-ch

	time.Sleep(5 * time.Millisecond)
	removed := mgr.CleanupInactive(time.Millisecond)
	if removed != 1 {
		t.Fatalf("expected exactly one stale session to be swept, got %d", removed)
	}
}
