package httpserver

import (
	"bufio"

	"github.com/gofiber/fiber/v2"

	"github.com/pierre-mcp/pierre/internal/sse"
	"github.com/pierre-mcp/pierre/pkg/errx"
)

func (h *Handlers) registerProviderRoutes(app *fiber.App) {
	app.Get("/api/oauth/auth/:provider/:user_id", h.providerAuthorize)
	app.Get("/api/oauth/callback/:provider", h.providerCallback)
	app.Get("/api/notifications/stream", h.notificationStream)
}

// providerAuthorize starts the downstream authorization_code flow for
// one of the caller's own fitness-provider connections; the path's
// user_id must match the authenticated session's own id so a user can
// never kick off a connect flow on another user's behalf.
func (h *Handlers) providerAuthorize(c *fiber.Ctx) error {
	authCtx, ok := authFromRequest(c, h)
	if !ok {
		return writeErr(c, errx.Unauthorized("authentication required"))
	}
	if authCtx.UserID == nil || authCtx.UserID.String() != c.Params("user_id") {
		return writeErr(c, errx.Unauthorized("cannot start a connect flow for another user"))
	}

	provider := c.Params("provider")
	authURL, _, err := h.OAuth2Down.AuthorizeURL(c.Context(), *authCtx.UserID, authCtx.TenantID, provider)
	if err != nil {
		return writeErr(c, err)
	}
	return c.Redirect(authURL, fiber.StatusFound)
}

func (h *Handlers) providerCallback(c *fiber.Ctx) error {
	code := c.Query("code")
	state := c.Query("state")
	if err := h.OAuth2Down.HandleCallback(c.Context(), code, state); err != nil {
		return writeErr(c, err)
	}
	return c.JSON(fiber.Map{"status": "connected", "provider": c.Params("provider")})
}

// notificationStream streams the authenticated user's lifecycle
// notifications (connect/refresh-failure/disconnect events fanned out
// by internal/oauth2client through internal/sse), separate from a
// protocol session's request/response stream.
func (h *Handlers) notificationStream(c *fiber.Ctx) error {
	authCtx, ok := authFromRequest(c, h)
	if !ok || authCtx.UserID == nil {
		return writeErr(c, errx.Unauthorized("authentication required"))
	}
	userID := *authCtx.UserID
	events := h.SSE.RegisterNotificationStream(userID)

	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		defer h.SSE.UnregisterNotificationStream(userID)
		for evt := range events {
			wire, err := sse.Encode(evt)
			if err != nil {
				continue
			}
			if _, err := w.Write(wire); err != nil {
				return
			}
			if err := w.Flush(); err != nil {
				return
			}
		}
	})
	return nil
}
