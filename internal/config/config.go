// Package config collects the service configuration from the environment,
// with an optional .env file for local development.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is the resolved service configuration.
type Config struct {
	Port         string
	FeedBaseURL  string // history endpoint the engine polls; defaults to this service
	City         string
	Range        string
	PollInterval time.Duration
	Lookback     time.Duration
	StaticDir    string
	PrefsPath    string
}

// Load reads configuration from the environment. A missing .env file is not
// an error.
func Load(logger *slog.Logger) Config {
	if err := godotenv.Load(); err == nil {
		logger.Debug("loaded .env file")
	}

	port := getenv("PORT", "3000")
	return Config{
		Port:         port,
		FeedBaseURL:  getenv("FEED_URL", fmt.Sprintf("http://127.0.0.1:%s", port)),
		City:         getenv("CITY", "Yad Binyamin"),
		Range:        strings.ToLower(getenv("RANGE", "day")),
		PollInterval: getenvDuration(logger, "POLL_INTERVAL", 10*time.Second),
		Lookback:     getenvDuration(logger, "LOOKBACK", time.Minute),
		StaticDir:    getenv("STATIC_DIR", "static"),
		PrefsPath:    getenv("PREFS_PATH", "alertmon.db"),
	}
}

func getenv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getenvDuration(logger *slog.Logger, key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		logger.Warn("invalid duration in environment, using default", "key", key, "value", v, "default", def)
		return def
	}
	return d
}
