// Package auth issues and validates first-party user JWTs and carries the
// Fiber authentication middleware. Grounded on pkg/iam/auth/{jwt_service,
// middleware,port}.go, generalized from HS256 shared-secret signing to
// RS256 signing delegated to internal/jwks, and extended with tenant_id,
// role and kid claims.
package auth

import (
	"context"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/pierre-mcp/pierre/internal/jwks"
	"github.com/pierre-mcp/pierre/pkg/errx"
	"github.com/pierre-mcp/pierre/pkg/kernel"
)

var ErrRegistry = errx.NewRegistry("AUTH")

var (
	codeMissingCredentials = ErrRegistry.Register("missing_credentials", errx.TypeAuthorization, 401, "no credentials supplied")
	codeInvalidToken       = ErrRegistry.Register("invalid_token", errx.TypeAuthorization, 401, "invalid or expired token")
	codeSuspended          = ErrRegistry.Register("account_suspended", errx.TypeAuthorization, 403, "account is suspended")
	codeStatusChanged      = ErrRegistry.Register("status_changed", errx.TypeAuthorization, 401, "account status changed since token issuance")
)

func ErrMissingCredentials() *errx.Error { return ErrRegistry.New(codeMissingCredentials) }
func ErrInvalidToken() *errx.Error       { return ErrRegistry.New(codeInvalidToken) }
func ErrSuspended() *errx.Error          { return ErrRegistry.New(codeSuspended) }
func ErrStatusChanged() *errx.Error      { return ErrRegistry.New(codeStatusChanged) }

// Claims is the user JWT payload: sub, email, tenant_id, role plus the
// registered claims jwt/v5 manages (iat/exp/nbf).
type Claims struct {
	UserID   kernel.UserID   `json:"sub"`
	Email    string          `json:"email"`
	TenantID kernel.TenantID `json:"tenant_id,omitempty"`
	Role     string          `json:"role"`
	jwt.RegisteredClaims
}

// UserStatus mirrors the User aggregate's status enum without importing
// internal/user, to avoid a dependency cycle (internal/user imports this
// package for RequireActive-style checks).
type UserStatus string

const (
	StatusPending   UserStatus = "pending"
	StatusActive    UserStatus = "active"
	StatusSuspended UserStatus = "suspended"
)

// UserSnapshot is the minimal view AuthManager needs to issue/validate a
// token without depending on the full internal/user.User struct.
type UserSnapshot struct {
	ID       kernel.UserID
	Email    string
	TenantID kernel.TenantID
	Role     string
	Status   UserStatus
}

// StatusLookup resolves a user's current status by ID so ValidateToken can
// refuse a token whose subject was suspended after issuance but before
// expiry. Declared here rather than imported from internal/user, which
// itself imports this package for UserSnapshot/UserStatus — a direct
// import would cycle. Satisfied by *user.Service.
type StatusLookup interface {
	UserStatus(ctx context.Context, id kernel.UserID) (UserStatus, error)
}

// Manager issues and validates user JWTs on top of a jwks.Manager.
type Manager struct {
	jwksMgr          *jwks.Manager
	issuer           string
	accessTokenTTL   time.Duration
	refreshThreshold time.Duration
	statusLookup     StatusLookup
}

// NewManager wires a Manager. statusLookup may be nil (e.g. in tests that
// only need signature/expiry verification); when set, every ValidateToken
// call re-checks the subject's live status so a suspension takes effect
// immediately instead of waiting out the token's remaining TTL.
func NewManager(jwksMgr *jwks.Manager, issuer string, accessTokenTTL, refreshThreshold time.Duration, statusLookup StatusLookup) *Manager {
	if accessTokenTTL == 0 {
		accessTokenTTL = time.Hour
	}
	if refreshThreshold == 0 {
		refreshThreshold = 15 * time.Minute
	}
	return &Manager{jwksMgr: jwksMgr, issuer: issuer, accessTokenTTL: accessTokenTTL, refreshThreshold: refreshThreshold, statusLookup: statusLookup}
}

// GenerateToken issues a JWT for user. Suspended accounts are rejected
// before issuance, never after.
func (m *Manager) GenerateToken(user UserSnapshot) (string, time.Time, error) {
	if user.Status == StatusSuspended {
		return "", time.Time{}, ErrSuspended()
	}
	now := time.Now().UTC()
	exp := now.Add(m.accessTokenTTL)
	claims := Claims{
		UserID:   user.ID,
		Email:    user.Email,
		TenantID: user.TenantID,
		Role:     user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID.String(),
			Issuer:    m.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := m.jwksMgr.Sign(&claims)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// ValidateToken verifies a JWT's signature and expiry, then — when a
// StatusLookup is wired — re-checks the subject's live account status so a
// suspension applies on the very next request rather than at token expiry.
func (m *Manager) ValidateToken(ctx context.Context, tokenString string) (*Claims, error) {
	claims := &Claims{}
	if err := m.jwksMgr.Verify(tokenString, claims); err != nil {
		return nil, err
	}
	if m.statusLookup != nil {
		status, err := m.statusLookup.UserStatus(ctx, claims.UserID)
		if err != nil {
			return nil, ErrInvalidToken()
		}
		if status == StatusSuspended {
			return nil, ErrSuspended()
		}
	}
	return claims, nil
}

// RefreshToken validates oldToken while tolerating expiry within the
// refresh-threshold grace window, then reissues a fresh token for the
// same subject provided the account's current status still permits it.
func (m *Manager) RefreshToken(oldToken string, current UserSnapshot) (string, time.Time, error) {
	claims := &Claims{}
	// Signature is still checked here — only the exp/nbf/iat validation
	// jwt/v5 would otherwise perform is skipped, so the grace window can
	// be enforced explicitly below.
	if err := m.jwksMgr.VerifyIgnoringExpiry(oldToken, claims); err != nil {
		return "", time.Time{}, ErrInvalidToken()
	}
	if claims.UserID != current.ID {
		return "", time.Time{}, ErrInvalidToken()
	}
	if claims.ExpiresAt != nil {
		if time.Since(claims.ExpiresAt.Time) > m.refreshThreshold {
			return "", time.Time{}, ErrInvalidToken()
		}
	}
	if current.Status != StatusActive {
		return "", time.Time{}, ErrStatusChanged()
	}
	return m.GenerateToken(current)
}
