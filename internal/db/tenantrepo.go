package db

import (
	"context"
	"database/sql"

	"github.com/pierre-mcp/pierre/internal/tenant"
	"github.com/pierre-mcp/pierre/pkg/kernel"
)

// TenantRepo persists tenants, satisfying tenant.Repository.
type TenantRepo struct {
	db *DB
}

func NewTenantRepo(d *DB) *TenantRepo { return &TenantRepo{db: d} }

func (r *TenantRepo) Save(ctx context.Context, t *tenant.Tenant) error {
	query := r.db.Rebind(`INSERT INTO tenants (id, name, slug, domain, plan, owner_user_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err := r.db.ExecContext(ctx, query, t.ID.String(), t.Name, t.Slug, t.Domain, t.PlanRaw, t.OwnerUserID.String(), t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return ErrConflict(err.Error())
	}
	return nil
}

func (r *TenantRepo) FindByID(ctx context.Context, id kernel.TenantID) (*tenant.Tenant, error) {
	return r.findOne(ctx, `WHERE id = ?`, id.String())
}

func (r *TenantRepo) FindBySlug(ctx context.Context, slug string) (*tenant.Tenant, error) {
	return r.findOne(ctx, `WHERE slug = ?`, slug)
}

func (r *TenantRepo) findOne(ctx context.Context, where string, arg interface{}) (*tenant.Tenant, error) {
	query := r.db.Rebind(`SELECT id, name, slug, domain, plan, owner_user_id, created_at, updated_at FROM tenants ` + where)
	var id, ownerID string
	t := &tenant.Tenant{}
	err := r.db.QueryRowxContext(ctx, query, arg).Scan(&id, &t.Name, &t.Slug, &t.Domain, &t.PlanRaw, &ownerID, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, ErrConflict(err.Error())
	}
	t.ID = kernel.NewTenantID(id)
	t.OwnerUserID = kernel.NewUserID(ownerID)
	t.Plan = tenant.ParsePlan(t.PlanRaw)
	return t, nil
}
