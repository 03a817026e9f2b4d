// Package tenant reconstructs the Tenant bounded context referenced by the
// teacher's apikeysrv (tenantRepo.FindByID, tenant.IsActive(),
// tenant.ErrTenantSuspended()). Plan semantics (Starter < Professional <
// Enterprise) are grounded on original_source/src/models/tool_selection.rs's
// TenantPlan enum.
package tenant

import (
	"context"
	"regexp"
	"time"

	"github.com/pierre-mcp/pierre/internal/db"
	"github.com/pierre-mcp/pierre/internal/user"
	"github.com/pierre-mcp/pierre/pkg/errx"
	"github.com/pierre-mcp/pierre/pkg/kernel"
)

var ErrRegistry = errx.NewRegistry("TENANT")

var (
	codeNotFound      = ErrRegistry.Register("not_found", errx.TypeNotFound, 404, "tenant not found")
	codeSuspended     = ErrRegistry.Register("suspended", errx.TypeAuthorization, 403, "tenant is suspended")
	codeInvalidSlug   = ErrRegistry.Register("invalid_slug", errx.TypeValidation, 400, "tenant slug is invalid or reserved")
	codeSlugTaken     = ErrRegistry.Register("slug_taken", errx.TypeConflict, 409, "tenant slug already in use")
)

func ErrTenantNotFound() *errx.Error  { return ErrRegistry.New(codeNotFound) }
func ErrTenantSuspended() *errx.Error { return ErrRegistry.New(codeSuspended) }
func ErrInvalidSlug() *errx.Error     { return ErrRegistry.New(codeInvalidSlug) }
func ErrSlugTaken() *errx.Error       { return ErrRegistry.New(codeSlugTaken) }

// Plan is ordered Starter < Professional < Enterprise so plan-gating
// comparisons (tenant.plan < entry.min_plan in ToolSelectionService) are a
// plain integer comparison.
type Plan int

const (
	PlanStarter Plan = iota
	PlanProfessional
	PlanEnterprise
)

func ParsePlan(s string) Plan {
	switch s {
	case "professional":
		return PlanProfessional
	case "enterprise":
		return PlanEnterprise
	default:
		return PlanStarter
	}
}

func (p Plan) String() string {
	switch p {
	case PlanProfessional:
		return "professional"
	case PlanEnterprise:
		return "enterprise"
	default:
		return "starter"
	}
}

func (p Plan) MeetsMinimum(min Plan) bool { return p >= min }

var slugPattern = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{1,61}[a-z0-9])?$`)

var reservedSlugs = map[string]bool{
	"admin": true, "api": true, "www": true, "app": true, "dashboard": true,
	"auth": true, "oauth": true, "login": true, "logout": true, "signup": true,
	"system": true, "root": true, "public": true, "static": true, "assets": true,
}

// ValidateSlug enforces the 3-63 char, [a-z0-9-]-not-bordering-hyphen,
// not-reserved rule from the data model.
func ValidateSlug(slug string) error {
	if len(slug) < 3 || len(slug) > 63 {
		return ErrInvalidSlug().WithDetail("reason", "length must be 3-63 characters")
	}
	if !slugPattern.MatchString(slug) {
		return ErrInvalidSlug().WithDetail("reason", "must match [a-z0-9-], not start/end with '-'")
	}
	if reservedSlugs[slug] {
		return ErrInvalidSlug().WithDetail("reason", "slug is reserved")
	}
	return nil
}

type Tenant struct {
	ID          kernel.TenantID `db:"id" json:"id"`
	Name        string          `db:"name" json:"name"`
	Slug        string          `db:"slug" json:"slug"`
	Domain      *string         `db:"domain" json:"domain,omitempty"`
	Plan        Plan            `db:"-" json:"-"`
	PlanRaw     string          `db:"plan" json:"plan"`
	OwnerUserID kernel.UserID   `db:"owner_user_id" json:"owner_user_id"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time       `db:"updated_at" json:"updated_at"`
}

func (t *Tenant) IsActive() bool { return true } // tenants have no suspend flag yet; reserved for future billing integration

type Repository interface {
	Save(ctx context.Context, t *Tenant) error
	FindByID(ctx context.Context, id kernel.TenantID) (*Tenant, error)
	FindBySlug(ctx context.Context, slug string) (*Tenant, error)
}

type Service struct {
	repo     Repository
	users    *user.Service
	database *db.DB
}

func NewService(repo Repository, users *user.Service, database *db.DB) *Service {
	return &Service{repo: repo, users: users, database: database}
}

func (s *Service) FindByID(ctx context.Context, id kernel.TenantID) (*Tenant, error) {
	t, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, ErrTenantNotFound()
	}
	return t, nil
}

// GetPlan resolves just the Plan for id, satisfying jsonrpc.PlanLookup
// without that package needing the full Tenant aggregate.
func (s *Service) GetPlan(ctx context.Context, id kernel.TenantID) (Plan, error) {
	t, err := s.FindByID(ctx, id)
	if err != nil {
		return PlanStarter, err
	}
	return t.Plan, nil
}

// ApproveWithTenant implements scenario S3: approve a pending user and, if
// requested, create a default tenant owned by that user. The tenant insert
// and the approval are two separate statements inside one
// db.RetryTransaction closure, which retries on transient errors but is not
// a database transaction: if the approval fails after the insert, the
// tenant row stays behind with an owner who is not approved.
func (s *Service) ApproveWithTenant(ctx context.Context, userID kernel.UserID, approvedBy kernel.UserID, createTenant bool, tenantName, tenantSlug string) (*user.User, *Tenant, error) {
	if createTenant {
		if err := ValidateSlug(tenantSlug); err != nil {
			return nil, nil, err
		}
		if existing, _ := s.repo.FindBySlug(ctx, tenantSlug); existing != nil {
			return nil, nil, ErrSlugTaken()
		}
	}

	type result struct {
		u *user.User
		t *Tenant
	}

	res, err := db.RetryTransaction(ctx, 3, func(ctx context.Context) (result, error) {
		var tenantID *kernel.TenantID
		var newTenant *Tenant
		if createTenant {
			id := kernel.GenerateTenantID()
			newTenant = &Tenant{
				ID:          id,
				Name:        tenantName,
				Slug:        tenantSlug,
				PlanRaw:     PlanStarter.String(),
				OwnerUserID: userID,
				CreatedAt:   time.Now().UTC(),
				UpdatedAt:   time.Now().UTC(),
			}
			if err := s.repo.Save(ctx, newTenant); err != nil {
				return result{}, err
			}
			tenantID = &id
		}
		u, err := s.users.Approve(ctx, userID, approvedBy, tenantID)
		if err != nil {
			return result{}, err
		}
		return result{u: u, t: newTenant}, nil
	})
	if err != nil {
		return nil, nil, err
	}
	return res.u, res.t, nil
}
