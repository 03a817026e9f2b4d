package config

import "time"

// OAuth2Config holds rate-limit settings for the authorization-server
// endpoints; cmd/container.go does not read it and builds that limiter
// from RateLimitConfig. Token/code lifetimes are fixed constants in
// internal/oauth2server.
type OAuth2Config struct {
	RateLimitPerMinute int
	RateLimitWindow    time.Duration
}

func loadOAuth2Config() OAuth2Config {
	return OAuth2Config{
		RateLimitPerMinute: getEnvInt("PIERRE_OAUTH2_RATE_LIMIT", 30),
		RateLimitWindow:    getEnvDuration("PIERRE_OAUTH2_RATE_LIMIT_WINDOW", time.Minute),
	}
}

// ProviderConfig carries the HMAC secret used to sign oauth2client's
// opaque state tokens; downstream provider client credentials are not
// part of it.
type ProviderConfig struct {
	StateSecret string
}

func loadProviderConfig() ProviderConfig {
	return ProviderConfig{
		StateSecret: getEnv("PIERRE_PROVIDER_STATE_SECRET", ""),
	}
}
