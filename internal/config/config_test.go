package config

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestLoad(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cfg := Load(testLogger())

		assert.Equal(t, "3000", cfg.Port)
		assert.Equal(t, "http://127.0.0.1:3000", cfg.FeedBaseURL)
		assert.Equal(t, "Yad Binyamin", cfg.City)
		assert.Equal(t, "day", cfg.Range)
		assert.Equal(t, 10*time.Second, cfg.PollInterval)
		assert.Equal(t, time.Minute, cfg.Lookback)
		assert.Equal(t, "static", cfg.StaticDir)
		assert.Equal(t, "alertmon.db", cfg.PrefsPath)
	})

	t.Run("environment overrides", func(t *testing.T) {
		t.Setenv("PORT", "8080")
		t.Setenv("CITY", "Haifa")
		t.Setenv("RANGE", "WEEK")
		t.Setenv("POLL_INTERVAL", "30s")

		cfg := Load(testLogger())

		assert.Equal(t, "8080", cfg.Port)
		assert.Equal(t, "http://127.0.0.1:8080", cfg.FeedBaseURL, "feed URL follows the port")
		assert.Equal(t, "Haifa", cfg.City)
		assert.Equal(t, "week", cfg.Range, "range is lowercased")
		assert.Equal(t, 30*time.Second, cfg.PollInterval)
	})

	t.Run("invalid duration falls back to the default", func(t *testing.T) {
		t.Setenv("POLL_INTERVAL", "soon")

		cfg := Load(testLogger())
		assert.Equal(t, 10*time.Second, cfg.PollInterval)
	})
}
