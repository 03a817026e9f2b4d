package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"

	"github.com/pierre-mcp/pierre/pkg/config"
	"github.com/pierre-mcp/pierre/pkg/errx"
	"github.com/pierre-mcp/pierre/pkg/logx"
)

func main() {
	logLevel := getEnv("LOG_LEVEL", "info")
	switch logLevel {
	case "debug":
		logx.SetLevel(logx.LevelDebug)
	case "warn":
		logx.SetLevel(logx.LevelWarn)
	case "error":
		logx.SetLevel(logx.LevelError)
	default:
		logx.SetLevel(logx.LevelInfo)
	}

	logx.Info("starting pierre server")

	cfg := config.Load()

	container := NewContainer(context.Background(), cfg)
	defer container.Cleanup()

	app := fiber.New(fiber.Config{
		AppName:               "Pierre",
		DisableStartupMessage: true,
		ErrorHandler:          globalErrorHandler,
		IdleTimeout:           120,
		EnablePrintRoutes:     false,
	})

	app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))

	app.Use(requestid.New(requestid.Config{
		Header: "X-Request-ID",
	}))

	app.Use(cors.New(cors.Config{
		AllowOrigins:  getCORSOrigins(),
		AllowHeaders:  "Origin, Content-Type, Accept, Authorization, X-Request-ID",
		AllowMethods:  "GET, POST, PUT, DELETE, PATCH, HEAD, OPTIONS",
		ExposeHeaders: "X-Request-ID",
	}))

	app.Use(logger.New(logger.Config{
		Format:     "${time} | ${status} | ${latency} | ${method} ${path} | ${ip} | ${reqHeader:X-Request-ID}\n",
		TimeFormat: "2006-01-02 15:04:05",
		TimeZone:   "Local",
	}))

	app.Get("/health", healthCheckHandler(container))
	app.Get("/", infoHandler)
	app.Get("/api/docs", apiDocsHandler)

	container.HTTP.RegisterRoutes(app)
	logx.Info("routes registered")

	app.Use(notFoundHandler)

	printRouteSummary()

	startServer(app)
}

func healthCheckHandler(container *Container) fiber.Handler {
	return func(c *fiber.Ctx) error {
		health := fiber.Map{
			"status":  "healthy",
			"service": "pierre",
			"version": getEnv("APP_VERSION", "0.1.0"),
		}

		if err := container.DB.Ping(); err != nil {
			health["db"] = "unhealthy"
			health["db_error"] = err.Error()
			health["status"] = "degraded"
		} else {
			health["db"] = "healthy"
		}

		status := fiber.StatusOK
		if health["status"] == "degraded" {
			status = fiber.StatusServiceUnavailable
		}

		return c.Status(status).JSON(health)
	}
}

func infoHandler(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"service":     "pierre",
		"version":     getEnv("APP_VERSION", "0.1.0"),
		"description": "multi-tenant fitness intelligence server exposing MCP and A2A",
		"features": []string{
			"Multi-tenant architecture",
			"OAuth2 authorization server",
			"Downstream fitness-provider OAuth2 connections",
			"MCP and A2A JSON-RPC over HTTP and SSE",
		},
		"endpoints": fiber.Map{
			"docs":   "/api/docs",
			"health": "/health",
			"mcp":    "/mcp",
			"a2a":    "/a2a",
		},
	})
}

func apiDocsHandler(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"endpoints": fiber.Map{
			"auth": fiber.Map{
				"register": "POST /auth/register",
				"login":    "POST /auth/login",
				"refresh":  "POST /auth/refresh",
				"logout":   "POST /auth/logout",
			},
			"oauth2_authorization_server": fiber.Map{
				"register":        "POST /oauth2/register",
				"authorize":       "GET /oauth2/authorize",
				"token":           "POST /oauth2/token",
				"revoke":          "POST /oauth2/revoke",
				"validate_refresh": "POST /oauth2/validate-refresh",
				"jwks":            "GET /.well-known/jwks.json",
				"metadata":        "GET /.well-known/oauth-authorization-server",
			},
			"provider_connections": fiber.Map{
				"authorize": "GET /api/oauth/auth/:provider/:user_id",
				"callback":  "GET /api/oauth/callback/:provider",
				"stream":    "GET /api/notifications/stream",
			},
			"protocol": fiber.Map{
				"mcp": "POST /mcp",
				"a2a": "POST /a2a",
				"sse": "GET /mcp/sse/:session_id",
			},
			"admin": fiber.Map{
				"setup":          "POST /admin/setup",
				"provision":      "POST /admin/provision",
				"revoke":         "POST /admin/revoke",
				"users":          "GET /admin/users",
				"approve_user":   "POST /admin/approve-user/:user_id",
				"suspend_user":   "POST /admin/suspend-user/:user_id",
				"delete_user":    "DELETE /admin/users/:user_id",
				"pending_users":  "GET /admin/pending-users",
				"auto_approval":  "GET/PUT /admin/settings/auto-approval",
				"tokens":         "POST/GET /admin/tokens",
			},
		},
		"authentication": fiber.Map{
			"types": []string{"user JWT (Bearer or auth_token cookie)", "OAuth2 access token", "admin bearer token (padm_...)"},
		},
	})
}

func notFoundHandler(c *fiber.Ctx) error {
	return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
		"error":      "route not found",
		"code":       "NOT_FOUND",
		"path":       c.Path(),
		"method":     c.Method(),
		"request_id": c.Get("X-Request-ID"),
	})
}

// globalErrorHandler converts internal errors into a consistent HTTP
// response shape, dispatching on Fiber's own error type, then our
// errx.Error, then falling back to a generic 500.
func globalErrorHandler(c *fiber.Ctx, err error) error {
	logx.WithFields(logx.Fields{
		"path":       c.Path(),
		"method":     c.Method(),
		"ip":         c.IP(),
		"request_id": c.Get("X-Request-ID"),
	}).Errorf("request error: %v", err)

	if e, ok := err.(*fiber.Error); ok {
		return c.Status(e.Code).JSON(fiber.Map{
			"error":      e.Message,
			"code":       "FIBER_ERROR",
			"status":     e.Code,
			"request_id": c.Get("X-Request-ID"),
		})
	}

	if e, ok := err.(*errx.Error); ok {
		response := fiber.Map{
			"error":      e.Message,
			"code":       e.Code,
			"type":       string(e.Type),
			"status":     e.HTTPStatus,
			"request_id": c.Get("X-Request-ID"),
		}
		if len(e.Details) > 0 {
			response["details"] = e.Details
		}
		return c.Status(e.HTTPStatus).JSON(response)
	}

	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"error":      "internal server error",
		"code":       "INTERNAL_ERROR",
		"request_id": c.Get("X-Request-ID"),
	})
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getPort() string {
	return getEnv("PORT", "8080")
}

func getCORSOrigins() string {
	return getEnv("CORS_ORIGINS", "*")
}

func printRouteSummary() {
	logx.Info("route summary:")
	logx.Info("   - auth: /auth/*")
	logx.Info("   - oauth2 authorization server: /oauth2/*, /.well-known/*")
	logx.Info("   - protocol: /mcp, /a2a, /mcp/sse/:session_id")
	logx.Info("   - provider connections: /api/oauth/*, /api/notifications/stream")
	logx.Info("   - admin: /admin/*")
	logx.Info("   - health: /health")
}

func startServer(app *fiber.App) {
	port := getPort()

	go func() {
		logx.Infof("server listening on port %s", port)
		if err := app.Listen(":" + port); err != nil {
			logx.Fatalf("server error: %v", err)
		}
	}()

	gracefulShutdown(app)
}

func gracefulShutdown(app *fiber.App) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)

	sig := <-sigChan
	logx.Infof("received signal: %v", sig)
	logx.Info("shutting down gracefully")

	if err := app.ShutdownWithTimeout(30); err != nil {
		logx.Errorf("server forced to shutdown: %v", err)
	}

	logx.Info("server exited successfully")
}
