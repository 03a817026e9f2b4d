package config

import "time"

// ToolSelectionConfig feeds tools.SelectionConfig.
type ToolSelectionConfig struct {
	CacheSize     int
	CacheTTL      time.Duration
	OverrideLimit int
}

func loadToolSelectionConfig() ToolSelectionConfig {
	return ToolSelectionConfig{
		CacheSize:     getEnvInt("PIERRE_TOOLS_CACHE_SIZE", 1000),
		CacheTTL:      getEnvDuration("PIERRE_TOOLS_CACHE_TTL", 300*time.Second),
		OverrideLimit: getEnvInt("PIERRE_TOOLS_OVERRIDE_LIMIT", 100),
	}
}

// SSEConfig tunes session bookkeeping for internal/sse.Manager.
type SSEConfig struct {
	MaxIdle         time.Duration
	CleanupInterval time.Duration
	UseRedis        bool
}

func loadSSEConfig() SSEConfig {
	return SSEConfig{
		MaxIdle:         getEnvDuration("PIERRE_SSE_MAX_IDLE", 30*time.Minute),
		CleanupInterval: getEnvDuration("PIERRE_SSE_CLEANUP_INTERVAL", 5*time.Minute),
		UseRedis:        getEnvBool("PIERRE_SSE_USE_REDIS", false),
	}
}

// RateLimitConfig feeds ratelimit.Config for the OAuth2 AS endpoints.
type RateLimitConfig struct {
	Limit  int
	Window time.Duration
}

func loadRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Limit:  getEnvInt("PIERRE_RATE_LIMIT", 60),
		Window: getEnvDuration("PIERRE_RATE_LIMIT_WINDOW", time.Minute),
	}
}
