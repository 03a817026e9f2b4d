package httpserver

import (
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/pierre-mcp/pierre/internal/admintoken"
	"github.com/pierre-mcp/pierre/pkg/errx"
	"github.com/pierre-mcp/pierre/pkg/kernel"
)

const autoApprovalSettingKey = "auto_approval_enabled"

func (h *Handlers) registerAdminRoutes(app *fiber.App) {
	admin := app.Group("/admin")

	// /admin/setup is the one admin route reachable without a bearer
	// token — but only while no active admin token exists.
	admin.Post("/setup", h.adminSetup)

	admin.Post("/provision", h.requireAdminToken(admintoken.PermProvision), h.adminProvision)
	admin.Post("/revoke", h.requireAdminToken(admintoken.PermRevoke), h.adminRevoke)
	admin.Get("/users", h.requireAdminToken(0), h.adminListUsers)
	admin.Post("/approve-user/:user_id", h.requireAdminToken(admintoken.PermApproveUsers), h.adminApproveUser)
	admin.Post("/suspend-user/:user_id", h.requireAdminToken(admintoken.PermApproveUsers), h.adminSuspendUser)
	admin.Delete("/users/:user_id", h.requireAdminToken(admintoken.PermApproveUsers), h.adminDeleteUser)
	admin.Get("/pending-users", h.requireAdminToken(0), h.adminPendingUsers)
	admin.Get("/settings/auto-approval", h.requireAdminToken(0), h.adminGetAutoApproval)
	admin.Put("/settings/auto-approval", h.requireAdminToken(0), h.adminSetAutoApproval)
	admin.Post("/tokens", h.requireAdminToken(0), h.adminIssueToken)
	admin.Get("/tokens", h.requireAdminToken(0), h.adminListTokens)
	admin.Delete("/tokens/:token_id", h.requireAdminToken(0), h.adminRevokeToken)
	admin.Post("/tokens/:token_id/revoke", h.requireAdminToken(0), h.adminRevokeToken)
}

// requireAdminToken validates the bearer admin-token secret against
// AdminTok, requiring perm unless perm is 0 (any active token suffices).
func (h *Handlers) requireAdminToken(perm admintoken.Permission) fiber.Handler {
	return func(c *fiber.Ctx) error {
		header := c.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			return writeErr(c, errx.Unauthorized("missing admin bearer token"))
		}
		secret := strings.TrimPrefix(header, "Bearer ")
		record, err := h.AdminTok.Validate(c.Context(), secret, c.IP(), perm)
		if err != nil {
			return writeErr(c, err)
		}
		c.Locals("admin_token", record)
		return c.Next()
	}
}

// adminSetup bootstraps the very first super-admin token. It needs no
// bearer token, and refuses with a conflict once any active admin token
// exists, so a second call cannot mint another super-admin token.
func (h *Handlers) adminSetup(c *fiber.Ctx) error {
	existing, err := h.AdminTok.ListActive(c.Context())
	if err != nil {
		return writeErr(c, err)
	}
	if len(existing) > 0 {
		return writeErr(c, errx.Conflict("admin setup already completed"))
	}
	var body struct {
		ServiceName string `json:"service_name"`
	}
	if err := c.BodyParser(&body); err != nil {
		return writeErr(c, errx.Validation("malformed request body"))
	}
	if body.ServiceName == "" {
		body.ServiceName = "bootstrap"
	}
	secret, record, err := h.AdminTok.Issue(c.Context(), body.ServiceName, 0, true, nil)
	if err != nil {
		return writeErr(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"token": secret, "record": record})
}

func (h *Handlers) adminProvision(c *fiber.Ctx) error {
	var body struct {
		ServiceName  string `json:"service_name"`
		Permissions  uint64 `json:"permissions"`
		IsSuperAdmin bool   `json:"is_super_admin"`
		ExpiresInSec *int64 `json:"expires_in_seconds"`
	}
	if err := c.BodyParser(&body); err != nil {
		return writeErr(c, errx.Validation("malformed request body"))
	}
	var expiresAt *time.Time
	if body.ExpiresInSec != nil {
		t := time.Now().UTC().Add(time.Duration(*body.ExpiresInSec) * time.Second)
		expiresAt = &t
	}
	secret, record, err := h.AdminTok.Issue(c.Context(), body.ServiceName, admintoken.Permission(body.Permissions), body.IsSuperAdmin, expiresAt)
	if err != nil {
		return writeErr(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"token": secret, "record": record})
}

func (h *Handlers) adminRevoke(c *fiber.Ctx) error {
	var body struct {
		TokenID string `json:"token_id"`
	}
	if err := c.BodyParser(&body); err != nil {
		return writeErr(c, errx.Validation("malformed request body"))
	}
	if err := h.AdminTok.Revoke(c.Context(), body.TokenID); err != nil {
		return writeErr(c, err)
	}
	return c.SendStatus(fiber.StatusOK)
}

func (h *Handlers) adminListUsers(c *fiber.Ctx) error {
	limit, _ := strconv.Atoi(c.Query("limit", "50"))
	if limit <= 0 {
		limit = 50
	}
	users, nextCursor, hasMore, err := h.Users.ListPending(c.Context(), limit, c.Query("cursor"))
	if err != nil {
		return writeErr(c, err)
	}
	return c.JSON(fiber.Map{"users": users, "next_cursor": nextCursor, "has_more": hasMore})
}

func (h *Handlers) adminPendingUsers(c *fiber.Ctx) error {
	return h.adminListUsers(c)
}

func (h *Handlers) adminApproveUser(c *fiber.Ctx) error {
	var body struct {
		Reason              string `json:"reason"`
		CreateDefaultTenant bool   `json:"create_default_tenant"`
		TenantName          string `json:"tenant_name"`
		TenantSlug          string `json:"tenant_slug"`
	}
	if err := c.BodyParser(&body); err != nil {
		return writeErr(c, errx.Validation("malformed request body"))
	}
	record, _ := c.Locals("admin_token").(*admintoken.Token)
	approvedBy := kernel.NewUserID("admin:" + record.ID)

	u, t, err := h.Tenants.ApproveWithTenant(c.Context(), kernel.NewUserID(c.Params("user_id")), approvedBy, body.CreateDefaultTenant, body.TenantName, body.TenantSlug)
	if err != nil {
		return writeErr(c, err)
	}
	return c.JSON(fiber.Map{"user": u, "tenant": t})
}

func (h *Handlers) adminSuspendUser(c *fiber.Ctx) error {
	u, err := h.Users.Suspend(c.Context(), kernel.NewUserID(c.Params("user_id")))
	if err != nil {
		return writeErr(c, err)
	}
	return c.JSON(u)
}

func (h *Handlers) adminDeleteUser(c *fiber.Ctx) error {
	if err := h.Users.Delete(c.Context(), kernel.NewUserID(c.Params("user_id"))); err != nil {
		return writeErr(c, err)
	}
	return c.SendStatus(fiber.StatusOK)
}

func (h *Handlers) adminGetAutoApproval(c *fiber.Ctx) error {
	value, ok, err := h.Settings.Get(c.Context(), autoApprovalSettingKey)
	if err != nil {
		return writeErr(c, err)
	}
	enabled := ok && value == "true"
	return c.JSON(fiber.Map{"enabled": enabled})
}

func (h *Handlers) adminSetAutoApproval(c *fiber.Ctx) error {
	var body struct {
		Enabled bool `json:"enabled"`
	}
	if err := c.BodyParser(&body); err != nil {
		return writeErr(c, errx.Validation("malformed request body"))
	}
	value := "false"
	if body.Enabled {
		value = "true"
	}
	if err := h.Settings.Set(c.Context(), autoApprovalSettingKey, value); err != nil {
		return writeErr(c, err)
	}
	return c.JSON(fiber.Map{"enabled": body.Enabled})
}

func (h *Handlers) adminIssueToken(c *fiber.Ctx) error {
	return h.adminProvision(c)
}

func (h *Handlers) adminListTokens(c *fiber.Ctx) error {
	tokens, err := h.AdminTok.ListActive(c.Context())
	if err != nil {
		return writeErr(c, err)
	}
	return c.JSON(fiber.Map{"tokens": tokens})
}

func (h *Handlers) adminRevokeToken(c *fiber.Ctx) error {
	if err := h.AdminTok.Revoke(c.Context(), c.Params("token_id")); err != nil {
		return writeErr(c, err)
	}
	return c.SendStatus(fiber.StatusOK)
}
