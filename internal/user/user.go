// Package user reconstructs the User bounded context referenced by, but
// absent from, the retrieved teacher slice: pkg/iam/apikey/apikeysrv's
// CreateAPIKey calls userRepo.FindByID and user.ErrUserNotFound(), and
// iamcontainer.New wires a UserService the same way this package's
// Service is wired into Pierre's container.
package user

import (
	"context"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/pierre-mcp/pierre/internal/auth"
	"github.com/pierre-mcp/pierre/pkg/errx"
	"github.com/pierre-mcp/pierre/pkg/kernel"
)

var ErrRegistry = errx.NewRegistry("USER")

var (
	codeNotFound        = ErrRegistry.Register("not_found", errx.TypeNotFound, 404, "user not found")
	codeEmailTaken       = ErrRegistry.Register("email_taken", errx.TypeConflict, 409, "email already registered")
	codeInvalidPassword  = ErrRegistry.Register("invalid_password", errx.TypeAuthorization, 401, "invalid email or password")
	codeNotPending       = ErrRegistry.Register("not_pending", errx.TypeBusiness, 422, "user is not pending approval")
	codeAlreadyActive    = ErrRegistry.Register("already_active", errx.TypeBusiness, 422, "user is already active")
)

func ErrUserNotFound() *errx.Error       { return ErrRegistry.New(codeNotFound) }
func ErrEmailTaken() *errx.Error         { return ErrRegistry.New(codeEmailTaken) }
func ErrInvalidCredentials() *errx.Error { return ErrRegistry.New(codeInvalidPassword) }
func ErrNotPending() *errx.Error         { return ErrRegistry.New(codeNotPending) }
func ErrAlreadyActive() *errx.Error      { return ErrRegistry.New(codeAlreadyActive) }

type Tier string

const (
	TierStarter      Tier = "starter"
	TierProfessional Tier = "professional"
	TierEnterprise   Tier = "enterprise"
)

type Role string

const (
	RoleSuperAdmin Role = "super_admin"
	RoleAdmin      Role = "admin"
	RoleUser       Role = "user"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
)

// User is the core identity aggregate. PasswordHash is never serialized
// to JSON and must never reach a log line (see pkg/logx's RedactingFormatter).
type User struct {
	ID           kernel.UserID    `db:"id" json:"id"`
	Email        string           `db:"email" json:"email"`
	PasswordHash string           `db:"password_hash" json:"-"`
	DisplayName  *string          `db:"display_name" json:"display_name,omitempty"`
	Tier         Tier             `db:"tier" json:"tier"`
	TenantID     *kernel.TenantID `db:"tenant_id" json:"tenant_id,omitempty"`
	Role         Role             `db:"role" json:"role"`
	Status       Status           `db:"status" json:"status"`
	IsAdmin      bool             `db:"is_admin" json:"is_admin"`
	ApprovedBy   *kernel.UserID   `db:"approved_by" json:"approved_by,omitempty"`
	ApprovedAt   *time.Time       `db:"approved_at" json:"approved_at,omitempty"`
	AuthProvider string           `db:"auth_provider" json:"auth_provider"`
	CreatedAt    time.Time        `db:"created_at" json:"created_at"`
	LastActive   time.Time        `db:"last_active" json:"last_active"`
}

func (u *User) IsActive() bool { return u.Status == StatusActive }

func (u *User) Snapshot() auth.UserSnapshot {
	tenantID := kernel.TenantID("")
	if u.TenantID != nil {
		tenantID = *u.TenantID
	}
	return auth.UserSnapshot{
		ID:       u.ID,
		Email:    u.Email,
		TenantID: tenantID,
		Role:     string(u.Role),
		Status:   auth.UserStatus(u.Status),
	}
}

// Repository is tenant-agnostic for users (a user may predate any tenant),
// matching apikeysrv's userRepo.FindByID(ctx, id) call shape.
type Repository interface {
	Save(ctx context.Context, u *User) error
	FindByID(ctx context.Context, id kernel.UserID) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	ListPending(ctx context.Context, limit int, cursor string) ([]*User, string, bool, error)
	Update(ctx context.Context, u *User) error
	Delete(ctx context.Context, id kernel.UserID) error
}

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service { return &Service{repo: repo} }

func (s *Service) Register(ctx context.Context, email, password string, displayName *string) (*User, error) {
	if existing, _ := s.repo.FindByEmail(ctx, email); existing != nil {
		return nil, ErrEmailTaken()
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, errx.Wrap(err, "failed to hash password", errx.TypeInternal)
	}
	u := &User{
		ID:           kernel.GenerateUserID(),
		Email:        email,
		PasswordHash: string(hash),
		DisplayName:  displayName,
		Tier:         TierStarter,
		Role:         RoleUser,
		Status:       StatusPending,
		AuthProvider: "password",
		CreatedAt:    time.Now().UTC(),
		LastActive:   time.Now().UTC(),
	}
	if err := s.repo.Save(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

func (s *Service) Authenticate(ctx context.Context, email, password string) (*User, error) {
	u, err := s.repo.FindByEmail(ctx, email)
	if err != nil || u == nil {
		return nil, ErrInvalidCredentials()
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return nil, ErrInvalidCredentials()
	}
	if u.Status == StatusSuspended {
		return nil, auth.ErrSuspended()
	}
	u.LastActive = time.Now().UTC()
	_ = s.repo.Update(ctx, u)
	return u, nil
}

func (s *Service) FindByID(ctx context.Context, id kernel.UserID) (*User, error) {
	u, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, ErrUserNotFound()
	}
	return u, nil
}

// UserStatus satisfies auth.StatusLookup, letting auth.Manager.ValidateToken
// refuse a suspended account on the very next request instead of waiting
// out the token's remaining TTL.
func (s *Service) UserStatus(ctx context.Context, id kernel.UserID) (auth.UserStatus, error) {
	u, err := s.FindByID(ctx, id)
	if err != nil {
		return "", err
	}
	return auth.UserStatus(u.Status), nil
}

// Approve transitions Pending -> Active. Tenant assignment (including
// default-tenant creation) is orchestrated one level up by
// internal/tenant.Service.ApproveWithTenant, which runs a tenant insert
// and this call inside one db.RetryTransaction retry loop.
func (s *Service) Approve(ctx context.Context, id kernel.UserID, approvedBy kernel.UserID, tenantID *kernel.TenantID) (*User, error) {
	u, err := s.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if u.Status == StatusActive {
		return nil, ErrAlreadyActive()
	}
	if u.Status != StatusPending {
		return nil, ErrNotPending()
	}
	now := time.Now().UTC()
	u.Status = StatusActive
	u.ApprovedBy = &approvedBy
	u.ApprovedAt = &now
	if tenantID != nil {
		u.TenantID = tenantID
	}
	if err := s.repo.Update(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

func (s *Service) Suspend(ctx context.Context, id kernel.UserID) (*User, error) {
	u, err := s.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	u.Status = StatusSuspended
	if err := s.repo.Update(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

func (s *Service) Delete(ctx context.Context, id kernel.UserID) error {
	return s.repo.Delete(ctx, id)
}

func (s *Service) ListPending(ctx context.Context, limit int, cursor string) ([]*User, string, bool, error) {
	return s.repo.ListPending(ctx, limit, cursor)
}
