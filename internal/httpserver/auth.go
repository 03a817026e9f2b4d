package httpserver

import (
	"crypto/rand"
	"encoding/base64"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/pierre-mcp/pierre/pkg/errx"
	"github.com/pierre-mcp/pierre/pkg/kernel"
)

func (h *Handlers) registerAuthRoutes(app *fiber.App) {
	app.Post("/auth/register", h.authRegister)
	app.Post("/auth/login", h.authLogin)
	app.Post("/auth/refresh", h.authRefresh)
	app.Post("/auth/logout", h.authLogout)
}

func (h *Handlers) authRegister(c *fiber.Ctx) error {
	var body struct {
		Email       string  `json:"email"`
		Password    string  `json:"password"`
		DisplayName *string `json:"display_name"`
	}
	if err := c.BodyParser(&body); err != nil {
		return writeErr(c, errx.Validation("malformed request body"))
	}
	u, err := h.Users.Register(c.Context(), body.Email, body.Password, body.DisplayName)
	if err != nil {
		return writeErr(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(u)
}

func (h *Handlers) authLogin(c *fiber.Ctx) error {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := c.BodyParser(&body); err != nil {
		return writeErr(c, errx.Validation("malformed request body"))
	}
	u, err := h.Users.Authenticate(c.Context(), body.Email, body.Password)
	if err != nil {
		return writeErr(c, err)
	}
	token, expiresAt, err := h.AuthMgr.GenerateToken(u.Snapshot())
	if err != nil {
		return writeErr(c, err)
	}

	c.Cookie(&fiber.Cookie{
		Name:     "auth_token",
		Value:    token,
		Expires:  expiresAt,
		HTTPOnly: true,
		SameSite: "Lax",
	})

	csrfToken := generateCSRFToken()
	return c.JSON(fiber.Map{
		"csrf_token": csrfToken,
		"expires_at": expiresAt,
		"user":       u,
	})
}

func (h *Handlers) authRefresh(c *fiber.Ctx) error {
	var body struct {
		Token  string `json:"token"`
		UserID string `json:"user_id"`
	}
	if err := c.BodyParser(&body); err != nil {
		return writeErr(c, errx.Validation("malformed request body"))
	}
	u, err := h.Users.FindByID(c.Context(), kernel.NewUserID(body.UserID))
	if err != nil {
		return writeErr(c, err)
	}
	token, expiresAt, err := h.AuthMgr.RefreshToken(body.Token, u.Snapshot())
	if err != nil {
		return writeErr(c, err)
	}
	c.Cookie(&fiber.Cookie{
		Name:     "auth_token",
		Value:    token,
		Expires:  expiresAt,
		HTTPOnly: true,
		SameSite: "Lax",
	})
	return c.JSON(fiber.Map{"expires_at": expiresAt})
}

func (h *Handlers) authLogout(c *fiber.Ctx) error {
	c.Cookie(&fiber.Cookie{
		Name:     "auth_token",
		Value:    "",
		Expires:  time.Unix(0, 0),
		HTTPOnly: true,
	})
	return c.SendStatus(fiber.StatusOK)
}

func generateCSRFToken() string {
	raw := make([]byte, 24)
	_, _ = rand.Read(raw)
	return base64.RawURLEncoding.EncodeToString(raw)
}

func extractBearerOrCookie(c *fiber.Ctx) string {
	header := c.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	if cookie := c.Cookies("auth_token"); cookie != "" {
		return cookie
	}
	return ""
}

// authFromRequest validates the request's bearer-or-cookie JWT, used by
// handlers (oauth2Authorize, providerAuthorize, notificationStream) that need the caller's
// identity without going through the Fiber middleware chain.
func authFromRequest(c *fiber.Ctx, h *Handlers) (*kernel.AuthContext, bool) {
	token := extractBearerOrCookie(c)
	if token == "" {
		return nil, false
	}
	claims, err := h.AuthMgr.ValidateToken(c.Context(), token)
	if err != nil {
		return nil, false
	}
	uid := claims.UserID
	return &kernel.AuthContext{
		UserID:   &uid,
		TenantID: claims.TenantID,
		Email:    claims.Email,
		Scopes:   []string{"role:" + claims.Role},
		Kind:     kernel.AuthKindUserJWT,
	}, true
}

func writeErr(c *fiber.Ctx, err error) error {
	if e, ok := err.(*errx.Error); ok {
		return c.Status(e.HTTPStatus).JSON(e)
	}
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
}
