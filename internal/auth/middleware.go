package auth

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/pierre-mcp/pierre/pkg/kernel"
)

// Middleware wraps a Manager with the Bearer-or-cookie extraction idiom
// from pkg/iam/auth/middleware.go, setting kernel.AuthContext into
// c.Locals("auth") the same way.
type Middleware struct {
	manager *Manager
}

func NewMiddleware(manager *Manager) *Middleware {
	return &Middleware{manager: manager}
}

func (m *Middleware) extractToken(c *fiber.Ctx) string {
	header := c.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	if cookie := c.Cookies("auth_token"); cookie != "" {
		return cookie
	}
	return ""
}

// Authenticate requires a valid user JWT and populates the auth context.
func (m *Middleware) Authenticate() fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := m.extractToken(c)
		if token == "" {
			err := ErrMissingCredentials()
			return fiber.NewError(err.HTTPStatus, err.Message)
		}
		claims, err := m.manager.ValidateToken(c.Context(), token)
		if err != nil {
			appErr := ErrInvalidToken()
			return fiber.NewError(appErr.HTTPStatus, appErr.Message)
		}
		uid := claims.UserID
		authCtx := &kernel.AuthContext{
			UserID:   &uid,
			TenantID: claims.TenantID,
			Email:    claims.Email,
			Scopes:   rolesToScopes(claims.Role),
			Kind:     kernel.AuthKindUserJWT,
		}
		c.Locals("auth", authCtx)
		return c.Next()
	}
}

// RequireTenant rejects requests whose tenant does not match tenantID.
func (m *Middleware) RequireTenant(tenantID kernel.TenantID) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authCtx, ok := c.Locals("auth").(*kernel.AuthContext)
		if !ok || authCtx.TenantID != tenantID {
			return fiber.NewError(fiber.StatusForbidden, "tenant mismatch")
		}
		return c.Next()
	}
}

// RequireAdmin rejects requests whose auth context is not admin-scoped.
func (m *Middleware) RequireAdmin() fiber.Handler {
	return func(c *fiber.Ctx) error {
		authCtx, ok := c.Locals("auth").(*kernel.AuthContext)
		if !ok || !authCtx.IsAdmin() {
			return fiber.NewError(fiber.StatusForbidden, "admin access required")
		}
		return c.Next()
	}
}

// rolesToScopes maps the coarse-grained Role enum onto the scope-string
// vocabulary kernel.AuthContext.HasScope understands, so role-based and
// scope-based checks compose (an OAuth2 access token's scopes are checked
// the same way a user JWT's derived scopes are).
func rolesToScopes(role string) []string {
	switch role {
	case "super_admin":
		return []string{"*"}
	case "admin":
		return []string{"admin:*"}
	default:
		return []string{"user:*"}
	}
}

// AuthFromContext extracts the AuthContext a prior Authenticate() call set.
func AuthFromContext(c *fiber.Ctx) (*kernel.AuthContext, bool) {
	authCtx, ok := c.Locals("auth").(*kernel.AuthContext)
	return authCtx, ok
}
