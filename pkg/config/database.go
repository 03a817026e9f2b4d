package config

import "time"

// DatabaseConfig selects Postgres or SQLite and tunes the connection pool
// (Postgres only — SQLite pins a single connection itself).
type DatabaseConfig struct {
	Driver          string // "postgres" or "sqlite"
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

func loadDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:          getEnv("PIERRE_DB_DRIVER", "sqlite"),
		DSN:             getEnv("PIERRE_DB_DSN", "file:pierre.db"),
		MaxOpenConns:    getEnvInt("PIERRE_DB_MAX_OPEN_CONNS", 25),
		MaxIdleConns:    getEnvInt("PIERRE_DB_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: getEnvDuration("PIERRE_DB_CONN_MAX_LIFETIME", 30*time.Minute),
	}
}

// RedisConfig configures the shared Redis client used for SSE pub/sub
// fan-out.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

func (r RedisConfig) Address() string { return r.Addr }

func loadRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:     getEnv("PIERRE_REDIS_ADDR", "localhost:6379"),
		Password: getEnv("PIERRE_REDIS_PASSWORD", ""),
		DB:       getEnvInt("PIERRE_REDIS_DB", 0),
	}
}
