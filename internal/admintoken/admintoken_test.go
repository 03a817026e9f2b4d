package admintoken_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pierre-mcp/pierre/internal/admintoken"
)

type fakeRepo struct {
	mu       sync.Mutex
	byID     map[string]*admintoken.Token
	byHash   map[string]*admintoken.Token
	recorded int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{byID: make(map[string]*admintoken.Token), byHash: make(map[string]*admintoken.Token)}
}

func (r *fakeRepo) Save(ctx context.Context, t *admintoken.Token) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *t
	r.byID[t.ID] = &cp
	r.byHash[t.LookupHash] = &cp
	return nil
}

func (r *fakeRepo) FindByHash(ctx context.Context, hash string) (*admintoken.Token, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.byHash[hash]
	if !ok {
		return nil, nil
	}
	cp := *t
	return &cp, nil
}

func (r *fakeRepo) FindByID(ctx context.Context, id string) (*admintoken.Token, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.byID[id]
	if !ok {
		return nil, nil
	}
	cp := *t
	return &cp, nil
}

func (r *fakeRepo) ListActive(ctx context.Context) ([]*admintoken.Token, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*admintoken.Token
	for _, t := range r.byID {
		if t.IsActive {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeRepo) RecordUsage(ctx context.Context, id string, ip string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.byID[id]; ok {
		t.LastUsedIP = ip
		t.LastUsedAt = &at
		t.UsageCount++
		r.byHash[t.LookupHash] = t
	}
	r.recorded++
	return nil
}

func (r *fakeRepo) Revoke(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.byID[id]; ok {
		t.IsActive = false
		r.byHash[t.LookupHash] = t
	}
	return nil
}

func TestIssueAndValidate(t *testing.T) {
	repo := newFakeRepo()
	svc := admintoken.NewService(repo)

	secret, record, err := svc.Issue(context.Background(), "test-service", admintoken.PermProvision, false, nil)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if record.ID == "" {
		t.Fatal("expected a non-empty token id")
	}

	got, err := svc.Validate(context.Background(), secret, "127.0.0.1", admintoken.PermProvision)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if got.ID != record.ID {
		t.Fatalf("expected token %s, got %s", record.ID, got.ID)
	}
}

func TestValidateRejectsWrongSecret(t *testing.T) {
	repo := newFakeRepo()
	svc := admintoken.NewService(repo)

	_, _, err := svc.Issue(context.Background(), "test-service", 0, false, nil)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	if _, err := svc.Validate(context.Background(), "padm_not-the-real-secret", "127.0.0.1", 0); err == nil {
		t.Fatal("expected validation to fail for a forged secret")
	}
}

func TestValidateEnforcesPermission(t *testing.T) {
	repo := newFakeRepo()
	svc := admintoken.NewService(repo)

	secret, _, err := svc.Issue(context.Background(), "test-service", admintoken.PermProvision, false, nil)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	if _, err := svc.Validate(context.Background(), secret, "127.0.0.1", admintoken.PermManageTenants); err == nil {
		t.Fatal("expected validation to fail when the token lacks the required permission")
	}
}

func TestSuperAdminBypassesPermissionCheck(t *testing.T) {
	repo := newFakeRepo()
	svc := admintoken.NewService(repo)

	secret, _, err := svc.Issue(context.Background(), "bootstrap", 0, true, nil)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	if _, err := svc.Validate(context.Background(), secret, "127.0.0.1", admintoken.PermManageTenants); err != nil {
		t.Fatalf("expected super-admin token to pass any permission check, got %v", err)
	}
}

func TestRevokedTokenFailsValidation(t *testing.T) {
	repo := newFakeRepo()
	svc := admintoken.NewService(repo)

	secret, record, err := svc.Issue(context.Background(), "test-service", 0, false, nil)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if err := svc.Revoke(context.Background(), record.ID); err != nil {
		t.Fatalf("Revoke: %v", err)
	}

	if _, err := svc.Validate(context.Background(), secret, "127.0.0.1", 0); err == nil {
		t.Fatal("expected a revoked token to fail validation")
	}
}

func TestExpiredTokenFailsValidation(t *testing.T) {
	repo := newFakeRepo()
	svc := admintoken.NewService(repo)

	past := time.Now().UTC().Add(-time.Hour)
	secret, _, err := svc.Issue(context.Background(), "test-service", 0, false, &past)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	if _, err := svc.Validate(context.Background(), secret, "127.0.0.1", 0); err == nil {
		t.Fatal("expected an expired token to fail validation")
	}
}
