// cmd/container.go
//
// Root composition root. Builds every package bottom-up in the order
// data flows at runtime — keys, storage, identity, the two OAuth2
// surfaces, tools, realtime, dispatch — and hands the wired pieces to
// cmd/server.go for route registration.
package main

import (
	"context"
	"time"

	"github.com/pierre-mcp/pierre/internal/admintoken"
	"github.com/pierre-mcp/pierre/internal/auth"
	"github.com/pierre-mcp/pierre/internal/db"
	"github.com/pierre-mcp/pierre/internal/httpserver"
	"github.com/pierre-mcp/pierre/internal/jsonrpc"
	"github.com/pierre-mcp/pierre/internal/jwks"
	"github.com/pierre-mcp/pierre/internal/keymanager"
	"github.com/pierre-mcp/pierre/internal/oauth2client"
	"github.com/pierre-mcp/pierre/internal/oauth2server"
	"github.com/pierre-mcp/pierre/internal/ratelimit"
	"github.com/pierre-mcp/pierre/internal/sse"
	"github.com/pierre-mcp/pierre/internal/tenant"
	"github.com/pierre-mcp/pierre/internal/tools"
	"github.com/pierre-mcp/pierre/internal/user"
	"github.com/pierre-mcp/pierre/pkg/config"
	"github.com/pierre-mcp/pierre/pkg/logx"

	"github.com/redis/go-redis/v9"
)

// Container holds every wired package the composition root produces.
// cmd/server.go reaches into it to register routes; nothing outside
// main knows how these pieces were assembled.
type Container struct {
	Config *config.Config

	DB    *db.DB
	Redis *redis.Client

	KeyMgr *keymanager.KeyManager

	Users   *user.Service
	Tenants *tenant.Service

	JWKSMgr    *jwks.Manager
	AuthMgr    *auth.Manager
	AuthMw     *auth.Middleware
	OAuth2AS   *oauth2server.Server
	OAuth2Down *oauth2client.Client

	Tools     *tools.Registry
	Selection *tools.SelectionService

	SSE        *sse.Manager
	Dispatcher *jsonrpc.Dispatcher

	OAuth2RateLimit *ratelimit.Limiter

	Settings *db.SettingsRepo
	AdminTok *admintoken.Service

	HTTP *httpserver.Handlers
}

func NewContainer(ctx context.Context, cfg *config.Config) *Container {
	logx.Info("initializing container")

	c := &Container{Config: cfg}

	c.initKeys()
	c.initStorage(ctx)
	c.initIdentity(ctx)
	c.initOAuth2(ctx)
	c.initTools()
	c.initRealtime()
	c.initDispatch()
	c.initHTTP()

	logx.Info("container initialized")
	return c
}

// initKeys bootstraps the master encryption key before anything that
// needs to decrypt or encrypt secrets (JWKS private keys, downstream
// provider client secrets/tokens) can be built.
func (c *Container) initKeys() {
	km, err := keymanager.Bootstrap("./.pierre-dev-mek")
	if err != nil {
		logx.Fatalf("key manager bootstrap failed: %v", err)
	}
	c.KeyMgr = km
}

// initStorage opens the database (running migrations as a side effect
// of Open), completes key-manager initialization against it, and
// connects Redis when SSE fan-out needs cross-node delivery.
func (c *Container) initStorage(ctx context.Context) {
	var provider db.DatabaseProvider
	switch c.Config.Database.Driver {
	case "postgres":
		provider = db.PostgresProvider{
			MaxOpenConns:    c.Config.Database.MaxOpenConns,
			MaxIdleConns:    c.Config.Database.MaxIdleConns,
			ConnMaxLifetime: c.Config.Database.ConnMaxLifetime,
		}
	default:
		provider = db.SQLiteProvider{}
	}

	database, err := provider.Open(ctx, c.Config.Database.DSN)
	if err != nil {
		logx.Fatalf("database open failed: %v", err)
	}
	c.DB = database

	secrets := db.NewSystemSecretRepo(database)
	if err := c.KeyMgr.CompleteInitialization(ctx, secrets); err != nil {
		logx.Fatalf("key manager initialization failed: %v", err)
	}

	if c.Config.SSE.UseRedis {
		c.Redis = redis.NewClient(&redis.Options{
			Addr:     c.Config.Redis.Address(),
			Password: c.Config.Redis.Password,
			DB:       c.Config.Redis.DB,
		})
		if _, err := c.Redis.Ping(ctx).Result(); err != nil {
			logx.Fatalf("redis connect failed: %v (required when PIERRE_SSE_USE_REDIS=true)", err)
		}
	}
}

// initIdentity wires users, tenants, JWKS key rotation, first-party JWT
// issuance and its Fiber middleware.
func (c *Container) initIdentity(ctx context.Context) {
	userRepo := db.NewUserRepo(c.DB)
	c.Users = user.NewService(userRepo)

	tenantRepo := db.NewTenantRepo(c.DB)
	c.Tenants = tenant.NewService(tenantRepo, c.Users, c.DB)

	jwksRepo := db.NewJwksKeyRepo(c.DB)
	jwksMgr, err := jwks.NewManager(ctx, jwksRepo, c.KeyMgr, c.Config.JWKS.KeyRetention)
	if err != nil {
		logx.Fatalf("jwks manager init failed: %v", err)
	}
	c.JWKSMgr = jwksMgr

	c.AuthMgr = auth.NewManager(jwksMgr, c.Config.Auth.Issuer, c.Config.Auth.AccessTokenTTL, c.Config.Auth.RefreshThreshold, c.Users)
	c.AuthMw = auth.NewMiddleware(c.AuthMgr)
}

// initOAuth2 wires both OAuth2 surfaces the spec calls for: the
// authorization server Pierre exposes to its own clients, and the
// downstream client Pierre uses to connect a user's fitness provider
// accounts.
func (c *Container) initOAuth2(ctx context.Context) {
	oauthRepo := db.NewOAuth2Repository(c.DB)
	c.OAuth2AS = oauth2server.NewServer(oauthRepo, c.JWKSMgr, c.KeyMgr, c.Users, c.Config.Auth.Issuer)

	registry := oauth2client.NewRegistry()
	creds := db.NewProviderCredentialRepo(c.DB)
	tokens := db.NewProviderTokenRepo(c.DB)

	stateSecret := []byte(c.Config.Provider.StateSecret)
	if len(stateSecret) == 0 {
		logx.Warn("PIERRE_PROVIDER_STATE_SECRET not set, deriving one from the issuer and database DSN")
		stateSecret = []byte(c.Config.Auth.Issuer + c.Config.Database.DSN)
	}

	// Notifier is installed once initRealtime has built the SSE manager;
	// see the end of initRealtime.
	c.OAuth2Down = oauth2client.NewClient(registry, creds, tokens, c.KeyMgr, nil, stateSecret)
}

// initTools wires the tool catalog and the per-tenant selection
// service sitting in front of it.
func (c *Container) initTools() {
	c.Tools = tools.DefaultRegistry()

	overrides := db.NewToolOverrideRepo(c.DB)
	c.Selection = tools.NewSelectionService(c.Tools, overrides, tools.SelectionConfig{
		CacheSize:     c.Config.ToolSelection.CacheSize,
		CacheTTL:      c.Config.ToolSelection.CacheTTL,
		OverrideLimit: c.Config.ToolSelection.OverrideLimit,
	})
}

// initRealtime wires the SSE session manager (optionally backed by
// Redis pub/sub for multi-node fan-out) and plugs it into the
// downstream OAuth2 client as its connect/refresh/disconnect notifier.
func (c *Container) initRealtime() {
	c.SSE = sse.NewManager(c.AuthMgr)
	if c.Config.SSE.UseRedis && c.Redis != nil {
		c.SSE = c.SSE.WithBroadcaster(sse.NewRedisBroadcaster(c.Redis))
	}
	if interval := c.Config.SSE.CleanupInterval; interval > 0 {
		sseMgr, maxIdle := c.SSE, c.Config.SSE.MaxIdle
		go func() {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for range ticker.C {
				sseMgr.CleanupInactive(maxIdle)
			}
		}()
	}
	c.OAuth2Down.SetNotifier(c.SSE)
}

// initDispatch wires the unified MCP/A2A JSON-RPC dispatcher and the
// rate limiter guarding the OAuth2 authorization-server endpoints.
func (c *Container) initDispatch() {
	c.Dispatcher = jsonrpc.NewDispatcher(c.AuthMgr, c.Tools, c.Selection, c.Tenants, c.SSE, c.OAuth2Down)
	c.OAuth2RateLimit = ratelimit.New(ratelimit.Config{
		Limit:  c.Config.RateLimit.Limit,
		Window: c.Config.RateLimit.Window,
	})
}

// initHTTP wires the plaintext settings store, the admin bearer-token
// service and finally the httpserver.Handlers group that cmd/server.go
// registers against the Fiber app.
func (c *Container) initHTTP() {
	c.Settings = db.NewSettingsRepo(c.DB)
	c.AdminTok = admintoken.NewService(db.NewAdminTokenRepo(c.DB))

	c.HTTP = &httpserver.Handlers{
		Users:      c.Users,
		Tenants:    c.Tenants,
		AuthMgr:    c.AuthMgr,
		AuthMw:     c.AuthMw,
		JWKSMgr:    c.JWKSMgr,
		OAuth2AS:   c.OAuth2AS,
		OAuth2Down: c.OAuth2Down,
		AdminTok:   c.AdminTok,
		Dispatcher: c.Dispatcher,
		SSE:        c.SSE,
		RateLimit:  c.OAuth2RateLimit,
		Settings:   c.Settings,
		Issuer:     c.Config.Auth.Issuer,
	}
}

func (c *Container) Cleanup() {
	logx.Info("cleaning up resources")

	if c.DB != nil {
		if err := c.DB.Close(); err != nil {
			logx.Errorf("error closing database: %v", err)
		}
	}
	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			logx.Errorf("error closing redis: %v", err)
		}
	}
}
