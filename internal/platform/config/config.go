package config

import (
	"os"
	"time"
)

// Server captures process-level configuration.
type Server struct {
	Addr            string
	DatabaseURL     string
	RedisURL        string
	LogFormat       string
	ShutdownTimeout time.Duration
}

// FromEnv builds a Server config from environment variables so main stays
// lean. An empty DATABASE_URL selects the in-memory store, which is only
// suitable for local development.
func FromEnv() Server {
	addr := os.Getenv("COALESCE_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	logFormat := os.Getenv("LOG_FORMAT")
	if logFormat == "" {
		logFormat = "json"
	}

	shutdownTimeout := 10 * time.Second
	if raw := os.Getenv("COALESCE_SHUTDOWN_TIMEOUT"); raw != "" {
		if d, err := time.ParseDuration(raw); err == nil {
			shutdownTimeout = d
		}
	}

	return Server{
		Addr:            addr,
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		RedisURL:        os.Getenv("REDIS_URL"),
		LogFormat:       logFormat,
		ShutdownTimeout: shutdownTimeout,
	}
}
