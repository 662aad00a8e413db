// Package config loads server configuration from the environment, with an
// optional .env file for local development.
package config

import (
	"os"
	"sync"

	"github.com/joho/godotenv"
)

// Config holds everything the server reads from the environment.
type Config struct {
	// ListenAddr is the HTTP bind address for the websocket endpoint.
	ListenAddr string
	// AuthSecret signs session tokens. Required outside development.
	AuthSecret string
	// RedisAddr enables the action history queue when non-empty.
	RedisAddr     string
	RedisPassword string
	// LogLevel is a logrus level name ("debug", "info", ...).
	LogLevel string
}

var (
	cfg      Config
	loadOnce sync.Once
)

// Load reads the environment once and returns the resulting Config. A .env
// file in the working directory is merged in when present; real environment
// variables win.
func Load() Config {
	loadOnce.Do(func() {
		godotenv.Load()
		cfg = Config{
			ListenAddr:    envOr("GOLFNINE_LISTEN_ADDR", ":8080"),
			AuthSecret:    envOr("GOLFNINE_AUTH_SECRET", "dev-secret"),
			RedisAddr:     os.Getenv("GOLFNINE_REDIS_ADDR"),
			RedisPassword: os.Getenv("GOLFNINE_REDIS_PASSWORD"),
			LogLevel:      envOr("GOLFNINE_LOG_LEVEL", "info"),
		}
	})
	return cfg
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
