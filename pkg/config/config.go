// Package config centralizes environment-variable driven configuration,
// one loadXConfig function per subsystem, following the teacher's own
// per-subsystem pkg/config layout.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config aggregates every subsystem's configuration, built once at
// startup by Load and threaded through the composition root.
type Config struct {
	Database      DatabaseConfig
	Redis         RedisConfig
	Auth          AuthConfig
	JWKS          JWKSConfig
	OAuth2        OAuth2Config
	Provider      ProviderConfig
	ToolSelection ToolSelectionConfig
	SSE           SSEConfig
	RateLimit     RateLimitConfig
}

func Load() *Config {
	return &Config{
		Database:      loadDatabaseConfig(),
		Redis:         loadRedisConfig(),
		Auth:          loadAuthConfig(),
		JWKS:          loadJWKSConfig(),
		OAuth2:        loadOAuth2Config(),
		Provider:      loadProviderConfig(),
		ToolSelection: loadToolSelectionConfig(),
		SSE:           loadSSEConfig(),
		RateLimit:     loadRateLimitConfig(),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvBool(key string, fallback bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return b
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}
	return d
}

func getEnvStringSlice(key string, fallback []string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
