package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/pierre-mcp/pierre/internal/user"
	"github.com/pierre-mcp/pierre/pkg/kernel"
)

// UserRepo persists the User aggregate, satisfying user.Repository.
type UserRepo struct {
	db *DB
}

func NewUserRepo(d *DB) *UserRepo { return &UserRepo{db: d} }

func (r *UserRepo) Save(ctx context.Context, u *user.User) error {
	query := r.db.Rebind(`INSERT INTO users
		(id, email, password_hash, display_name, tier, tenant_id, role, status, is_admin, approved_by, approved_at, auth_provider, created_at, last_active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err := r.db.ExecContext(ctx, query,
		u.ID.String(), u.Email, u.PasswordHash, u.DisplayName, u.Tier, nullableTenantID(u.TenantID),
		u.Role, u.Status, u.IsAdmin, nullableUserID(u.ApprovedBy), u.ApprovedAt, u.AuthProvider, u.CreatedAt, u.LastActive)
	if err != nil {
		return ErrConflict(err.Error())
	}
	return nil
}

func (r *UserRepo) FindByID(ctx context.Context, id kernel.UserID) (*user.User, error) {
	return r.findOne(ctx, `WHERE id = ?`, id.String())
}

func (r *UserRepo) FindByEmail(ctx context.Context, email string) (*user.User, error) {
	return r.findOne(ctx, `WHERE email = ?`, email)
}

func (r *UserRepo) findOne(ctx context.Context, where string, arg interface{}) (*user.User, error) {
	query := r.db.Rebind(`SELECT id, email, password_hash, display_name, tier, tenant_id, role, status, is_admin,
		approved_by, approved_at, auth_provider, created_at, last_active FROM users ` + where)
	row := userRow{}
	err := r.db.QueryRowxContext(ctx, query, arg).Scan(
		&row.ID, &row.Email, &row.PasswordHash, &row.DisplayName, &row.Tier, &row.TenantID, &row.Role, &row.Status,
		&row.IsAdmin, &row.ApprovedBy, &row.ApprovedAt, &row.AuthProvider, &row.CreatedAt, &row.LastActive)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, ErrConflict(err.Error())
	}
	return row.toUser(), nil
}

func (r *UserRepo) Update(ctx context.Context, u *user.User) error {
	query := r.db.Rebind(`UPDATE users SET email = ?, password_hash = ?, display_name = ?, tier = ?, tenant_id = ?,
		role = ?, status = ?, is_admin = ?, approved_by = ?, approved_at = ?, auth_provider = ?, last_active = ?
		WHERE id = ?`)
	_, err := r.db.ExecContext(ctx, query, u.Email, u.PasswordHash, u.DisplayName, u.Tier, nullableTenantID(u.TenantID),
		u.Role, u.Status, u.IsAdmin, nullableUserID(u.ApprovedBy), u.ApprovedAt, u.AuthProvider, u.LastActive, u.ID.String())
	if err != nil {
		return ErrConflict(err.Error())
	}
	return nil
}

func (r *UserRepo) Delete(ctx context.Context, id kernel.UserID) error {
	query := r.db.Rebind(`DELETE FROM users WHERE id = ?`)
	_, err := r.db.ExecContext(ctx, query, id.String())
	return err
}

// ListPending implements keyset pagination over pending users ordered by
// created_at, following the Page/BuildPage convention from cursor.go.
func (r *UserRepo) ListPending(ctx context.Context, limit int, cursor string) ([]*user.User, string, bool, error) {
	args := []interface{}{user.StatusPending}
	where := `WHERE status = ?`
	if cursor != "" {
		pc, err := DecodeCursor(cursor)
		if err != nil {
			return nil, "", false, err
		}
		where += ` AND (created_at, id) > (?, ?)`
		args = append(args, pc.SortKey, pc.ID)
	}
	query := r.db.Rebind(`SELECT id, email, password_hash, display_name, tier, tenant_id, role, status, is_admin,
		approved_by, approved_at, auth_provider, created_at, last_active FROM users ` + where + ` ORDER BY created_at, id LIMIT ?`)
	args = append(args, limit+1)

	rows, err := r.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, "", false, ErrConflict(err.Error())
	}
	defer rows.Close()

	var out []*user.User
	for rows.Next() {
		row := userRow{}
		if err := rows.Scan(&row.ID, &row.Email, &row.PasswordHash, &row.DisplayName, &row.Tier, &row.TenantID,
			&row.Role, &row.Status, &row.IsAdmin, &row.ApprovedBy, &row.ApprovedAt, &row.AuthProvider, &row.CreatedAt, &row.LastActive); err != nil {
			return nil, "", false, ErrConflict(err.Error())
		}
		out = append(out, row.toUser())
	}

	page := BuildPage(out, limit, func(u *user.User) (time.Time, string) { return u.CreatedAt, u.ID.String() })
	return page.Items, page.NextCursor, page.HasMore, nil
}

// userRow mirrors user.User's columns as raw scan destinations so nullable
// foreign keys (tenant_id, approved_by) can be read as *string before being
// wrapped back into kernel newtypes.
type userRow struct {
	ID           string
	Email        string
	PasswordHash string
	DisplayName  *string
	Tier         user.Tier
	TenantID     *string
	Role         user.Role
	Status       user.Status
	IsAdmin      bool
	ApprovedBy   *string
	ApprovedAt   *time.Time
	AuthProvider string
	CreatedAt    time.Time
	LastActive   time.Time
}

func (row *userRow) toUser() *user.User {
	u := &user.User{
		ID:           kernel.NewUserID(row.ID),
		Email:        row.Email,
		PasswordHash: row.PasswordHash,
		DisplayName:  row.DisplayName,
		Tier:         row.Tier,
		Role:         row.Role,
		Status:       row.Status,
		IsAdmin:      row.IsAdmin,
		ApprovedAt:   row.ApprovedAt,
		AuthProvider: row.AuthProvider,
		CreatedAt:    row.CreatedAt,
		LastActive:   row.LastActive,
	}
	if row.TenantID != nil {
		tid := kernel.NewTenantID(*row.TenantID)
		u.TenantID = &tid
	}
	if row.ApprovedBy != nil {
		aid := kernel.NewUserID(*row.ApprovedBy)
		u.ApprovedBy = &aid
	}
	return u
}

func nullableTenantID(id *kernel.TenantID) *string {
	if id == nil {
		return nil
	}
	s := id.String()
	return &s
}

func nullableUserID(id *kernel.UserID) *string {
	if id == nil {
		return nil
	}
	s := id.String()
	return &s
}
