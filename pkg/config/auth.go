package config

import "time"

// AuthConfig feeds auth.NewManager.
type AuthConfig struct {
	Issuer           string
	AccessTokenTTL   time.Duration
	RefreshThreshold time.Duration
}

func loadAuthConfig() AuthConfig {
	return AuthConfig{
		Issuer:           getEnv("PIERRE_AUTH_ISSUER", "https://pierre.local"),
		AccessTokenTTL:   getEnvDuration("PIERRE_AUTH_ACCESS_TOKEN_TTL", 15*time.Minute),
		RefreshThreshold: getEnvDuration("PIERRE_AUTH_REFRESH_THRESHOLD", 5*time.Minute),
	}
}

// JWKSConfig feeds jwks.NewManager.
type JWKSConfig struct {
	KeyRetention time.Duration
}

func loadJWKSConfig() JWKSConfig {
	return JWKSConfig{
		KeyRetention: getEnvDuration("PIERRE_JWKS_KEY_RETENTION", 24*time.Hour),
	}
}
