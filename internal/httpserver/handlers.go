// Package httpserver mounts Pierre's HTTP surface on Fiber: the OAuth2
// authorization server, first-party user auth, the unified MCP/A2A
// JSON-RPC endpoint, the SSE protocol stream, the downstream provider
// OAuth2 connect/callback flow, and admin routes — one Handlers struct
// with a register* method per concern, all mounted by
// `Handlers.RegisterRoutes(app)`.
package httpserver

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"github.com/pierre-mcp/pierre/internal/admintoken"
	"github.com/pierre-mcp/pierre/internal/auth"
	"github.com/pierre-mcp/pierre/internal/jsonrpc"
	"github.com/pierre-mcp/pierre/internal/jwks"
	"github.com/pierre-mcp/pierre/internal/oauth2client"
	"github.com/pierre-mcp/pierre/internal/oauth2server"
	"github.com/pierre-mcp/pierre/internal/ratelimit"
	"github.com/pierre-mcp/pierre/internal/sse"
	"github.com/pierre-mcp/pierre/internal/tenant"
	"github.com/pierre-mcp/pierre/internal/user"
)

// SettingsStore persists the single admin auto-approval toggle,
// satisfied by internal/db.SettingsRepo.
type SettingsStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
}

// Handlers owns every dependency the HTTP surface needs and registers
// every route group against a Fiber app.
type Handlers struct {
	Users      *user.Service
	Tenants    *tenant.Service
	AuthMgr    *auth.Manager
	AuthMw     *auth.Middleware
	JWKSMgr    *jwks.Manager
	OAuth2AS   *oauth2server.Server
	OAuth2Down *oauth2client.Client
	AdminTok   *admintoken.Service
	Dispatcher *jsonrpc.Dispatcher
	SSE        *sse.Manager
	RateLimit  *ratelimit.Limiter
	Settings   SettingsStore

	Issuer string
}

// RegisterRoutes wires every route group. Rate limiting applies only to
// the OAuth2 AS endpoints named in spec §4.4; every other group relies
// on JWT/admin-token auth instead of per-IP throttling.
func (h *Handlers) RegisterRoutes(app *fiber.App) {
	h.registerOAuth2Routes(app)
	h.registerWellKnownRoutes(app)
	h.registerAuthRoutes(app)
	h.registerRPCRoutes(app)
	h.registerSSERoutes(app)
	h.registerProviderRoutes(app)
	h.registerAdminRoutes(app)
}
