package tenant_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pierre-mcp/pierre/internal/tenant"
	"github.com/pierre-mcp/pierre/internal/user"
	"github.com/pierre-mcp/pierre/pkg/kernel"
)

type fakeUserRepo struct {
	mu    sync.Mutex
	byID  map[kernel.UserID]*user.User
}

func newFakeUserRepo() *fakeUserRepo { return &fakeUserRepo{byID: make(map[kernel.UserID]*user.User)} }

func (r *fakeUserRepo) Save(ctx context.Context, u *user.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[u.ID] = u
	return nil
}

func (r *fakeUserRepo) FindByID(ctx context.Context, id kernel.UserID) (*user.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.byID[id], nil
}

func (r *fakeUserRepo) FindByEmail(ctx context.Context, email string) (*user.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.byID {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, nil
}

func (r *fakeUserRepo) ListPending(ctx context.Context, limit int, cursor string) ([]*user.User, string, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*user.User
	for _, u := range r.byID {
		if u.Status == user.StatusPending {
			out = append(out, u)
		}
	}
	return out, "", false, nil
}

func (r *fakeUserRepo) Update(ctx context.Context, u *user.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[u.ID] = u
	return nil
}

func (r *fakeUserRepo) Delete(ctx context.Context, id kernel.UserID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byID, id)
	return nil
}

type fakeTenantRepo struct {
	mu      sync.Mutex
	byID    map[kernel.TenantID]*tenant.Tenant
	bySlug  map[string]*tenant.Tenant
}

func newFakeTenantRepo() *fakeTenantRepo {
	return &fakeTenantRepo{byID: make(map[kernel.TenantID]*tenant.Tenant), bySlug: make(map[string]*tenant.Tenant)}
}

func (r *fakeTenantRepo) Save(ctx context.Context, t *tenant.Tenant) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[t.ID] = t
	r.bySlug[t.Slug] = t
	return nil
}

func (r *fakeTenantRepo) FindByID(ctx context.Context, id kernel.TenantID) (*tenant.Tenant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.byID[id], nil
}

func (r *fakeTenantRepo) FindBySlug(ctx context.Context, slug string) (*tenant.Tenant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.bySlug[slug], nil
}

func newPendingUser(id kernel.UserID, email string) *user.User {
	return &user.User{
		ID: id, Email: email, Status: user.StatusPending, Role: user.RoleUser,
		Tier: user.TierStarter, AuthProvider: "password",
		CreatedAt: time.Now().UTC(), LastActive: time.Now().UTC(),
	}
}

func TestApproveWithTenantCreatesAndAssignsDefaultTenant(t *testing.T) {
	userRepo := newFakeUserRepo()
	_ = userRepo.Save(context.Background(), newPendingUser("user-1", "athlete@example.com"))

	svc := tenant.NewService(newFakeTenantRepo(), user.NewService(userRepo), nil)

	u, tn, err := svc.ApproveWithTenant(context.Background(), "user-1", "admin:bootstrap", true, "Athlete Co", "athlete-co")
	if err != nil {
		t.Fatalf("ApproveWithTenant: %v", err)
	}
	if u.Status != user.StatusActive {
		t.Fatalf("expected user to be active, got %s", u.Status)
	}
	if tn == nil || tn.Slug != "athlete-co" {
		t.Fatalf("expected a created tenant with the requested slug, got %+v", tn)
	}
	if u.TenantID == nil || *u.TenantID != tn.ID {
		t.Fatal("expected the approved user to be assigned to the newly created tenant")
	}
	if tn.OwnerUserID != "user-1" {
		t.Fatalf("expected the new tenant's owner to be the approved user, got %s", tn.OwnerUserID)
	}
}

func TestApproveWithTenantWithoutCreatingATenant(t *testing.T) {
	userRepo := newFakeUserRepo()
	_ = userRepo.Save(context.Background(), newPendingUser("user-1", "athlete@example.com"))

	svc := tenant.NewService(newFakeTenantRepo(), user.NewService(userRepo), nil)

	u, tn, err := svc.ApproveWithTenant(context.Background(), "user-1", "admin:bootstrap", false, "", "")
	if err != nil {
		t.Fatalf("ApproveWithTenant: %v", err)
	}
	if tn != nil {
		t.Fatalf("expected no tenant to be created, got %+v", tn)
	}
	if u.Status != user.StatusActive {
		t.Fatalf("expected user to be active, got %s", u.Status)
	}
}

func TestApproveWithTenantRejectsTakenSlugBeforeMutatingTheUser(t *testing.T) {
	userRepo := newFakeUserRepo()
	_ = userRepo.Save(context.Background(), newPendingUser("user-1", "athlete@example.com"))

	tenantRepo := newFakeTenantRepo()
	_ = tenantRepo.Save(context.Background(), &tenant.Tenant{ID: "existing-tenant", Slug: "athlete-co", OwnerUserID: "someone-else"})

	svc := tenant.NewService(tenantRepo, user.NewService(userRepo), nil)

	if _, _, err := svc.ApproveWithTenant(context.Background(), "user-1", "admin:bootstrap", true, "Athlete Co", "athlete-co"); err == nil {
		t.Fatal("expected a taken slug to be rejected")
	}

	u, _ := userRepo.FindByID(context.Background(), "user-1")
	if u.Status != user.StatusPending {
		t.Fatalf("expected the user to remain pending after a rejected slug, got %s", u.Status)
	}
}

func TestApproveWithTenantRejectsAlreadyActiveUser(t *testing.T) {
	userRepo := newFakeUserRepo()
	active := newPendingUser("user-1", "athlete@example.com")
	active.Status = user.StatusActive
	_ = userRepo.Save(context.Background(), active)

	svc := tenant.NewService(newFakeTenantRepo(), user.NewService(userRepo), nil)

	if _, _, err := svc.ApproveWithTenant(context.Background(), "user-1", "admin:bootstrap", false, "", ""); err == nil {
		t.Fatal("expected approving an already-active user to fail")
	}
}
