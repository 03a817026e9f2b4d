package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/pierre-mcp/pierre/internal/tools"
	"github.com/pierre-mcp/pierre/pkg/kernel"
)

// ToolOverrideRepo persists per-tenant tool enable/disable overrides,
// satisfying tools.OverrideRepository.
type ToolOverrideRepo struct {
	db *DB
}

func NewToolOverrideRepo(d *DB) *ToolOverrideRepo { return &ToolOverrideRepo{db: d} }

func (r *ToolOverrideRepo) FindOverride(ctx context.Context, tenantID kernel.TenantID, toolName string) (*tools.TenantOverride, error) {
	query := r.db.Rebind(`SELECT tenant_id, tool_name, is_enabled, enabled_by_user_id, reason, created_at, updated_at
		FROM tenant_tool_overrides WHERE tenant_id = ? AND tool_name = ?`)
	row := r.db.QueryRowxContext(ctx, query, tenantID.String(), toolName)
	return scanOverride(row)
}

func (r *ToolOverrideRepo) ListOverrides(ctx context.Context, tenantID kernel.TenantID) ([]*tools.TenantOverride, error) {
	query := r.db.Rebind(`SELECT tenant_id, tool_name, is_enabled, enabled_by_user_id, reason, created_at, updated_at
		FROM tenant_tool_overrides WHERE tenant_id = ?`)
	rows, err := r.db.QueryxContext(ctx, query, tenantID.String())
	if err != nil {
		return nil, ErrConflict(err.Error())
	}
	defer rows.Close()

	var out []*tools.TenantOverride
	for rows.Next() {
		o, err := scanOverrideRows(rows)
		if err != nil {
			return nil, ErrConflict(err.Error())
		}
		out = append(out, o)
	}
	return out, nil
}

func (r *ToolOverrideRepo) CountOverrides(ctx context.Context, tenantID kernel.TenantID) (int, error) {
	query := r.db.Rebind(`SELECT COUNT(*) FROM tenant_tool_overrides WHERE tenant_id = ?`)
	var count int
	if err := r.db.QueryRowxContext(ctx, query, tenantID.String()).Scan(&count); err != nil {
		return 0, ErrConflict(err.Error())
	}
	return count, nil
}

func (r *ToolOverrideRepo) SaveOverride(ctx context.Context, o *tools.TenantOverride) error {
	var enabledBy *string
	if o.EnabledByUser != nil {
		s := o.EnabledByUser.String()
		enabledBy = &s
	}

	var query string
	if r.db.Dialect() == DialectSQLite {
		query = r.db.Rebind(`INSERT OR REPLACE INTO tenant_tool_overrides
			(tenant_id, tool_name, is_enabled, enabled_by_user_id, reason, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`)
	} else {
		query = r.db.Rebind(`INSERT INTO tenant_tool_overrides
			(tenant_id, tool_name, is_enabled, enabled_by_user_id, reason, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (tenant_id, tool_name) DO UPDATE SET
				is_enabled = EXCLUDED.is_enabled, enabled_by_user_id = EXCLUDED.enabled_by_user_id,
				reason = EXCLUDED.reason, updated_at = EXCLUDED.updated_at`)
	}
	_, err := r.db.ExecContext(ctx, query, o.TenantID.String(), o.ToolName, o.IsEnabled, enabledBy, o.Reason, o.CreatedAt, o.UpdatedAt)
	if err != nil {
		return ErrConflict(err.Error())
	}
	return nil
}

func (r *ToolOverrideRepo) DeleteOverride(ctx context.Context, tenantID kernel.TenantID, toolName string) error {
	query := r.db.Rebind(`DELETE FROM tenant_tool_overrides WHERE tenant_id = ? AND tool_name = ?`)
	_, err := r.db.ExecContext(ctx, query, tenantID.String(), toolName)
	return err
}

type overrideRow struct {
	TenantID      string
	ToolName      string
	IsEnabled     bool
	EnabledByUser *string
	Reason        *string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (o *overrideRow) toOverride() *tools.TenantOverride {
	out := &tools.TenantOverride{
		TenantID:  kernel.NewTenantID(o.TenantID),
		ToolName:  o.ToolName,
		IsEnabled: o.IsEnabled,
		CreatedAt: o.CreatedAt,
		UpdatedAt: o.UpdatedAt,
	}
	if o.EnabledByUser != nil {
		id := kernel.NewUserID(*o.EnabledByUser)
		out.EnabledByUser = &id
	}
	if o.Reason != nil {
		out.Reason = *o.Reason
	}
	return out
}

// rowScanner is satisfied by both *sqlx.Row and *sqlx.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanOverride(row rowScanner) (*tools.TenantOverride, error) {
	var o overrideRow
	err := row.Scan(&o.TenantID, &o.ToolName, &o.IsEnabled, &o.EnabledByUser, &o.Reason, &o.CreatedAt, &o.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, ErrConflict(err.Error())
	}
	return o.toOverride(), nil
}

func scanOverrideRows(row rowScanner) (*tools.TenantOverride, error) {
	var o overrideRow
	if err := row.Scan(&o.TenantID, &o.ToolName, &o.IsEnabled, &o.EnabledByUser, &o.Reason, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return nil, err
	}
	return o.toOverride(), nil
}
