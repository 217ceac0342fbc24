package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Playback is one active sound session.
type Playback interface {
	// Start begins looped playback.
	Start() error
	// Stop halts playback and resets the position. Safe to call repeatedly.
	Stop()
}

// Player loads sound assets. Load blocks until the asset is ready to start
// or has failed to load, so callers get an explicit readiness point instead
// of a bare callback.
type Player interface {
	Load(ctx context.Context, soundRef string) (Playback, error)
}

// AudioController owns at most one active playback session and guarantees
// serialized, non-overlapping playback with an auto-stop timer. Playback
// failures are logged and swallowed: audio must never stall the poll loop.
type AudioController struct {
	player Player
	logger *slog.Logger

	// The auto-stop timer fires on its own goroutine, so the handle and
	// timer need a lock even though Play is only called from the scheduler.
	mu       sync.Mutex
	current  Playback
	autoStop *time.Timer
}

// NewAudioController creates a controller around the given player.
func NewAudioController(player Player, logger *slog.Logger) *AudioController {
	return &AudioController{player: player, logger: logger}
}

// Play stops any current sound, loads the asset, starts looped playback, and
// arms an auto-stop timer for the duration. All failures are contained here.
func (c *AudioController) Play(ctx context.Context, soundRef string, duration time.Duration) {
	c.Stop()

	if soundRef == "" {
		c.logger.Warn("no sound asset for alarm, skipping playback")
		return
	}

	playback, err := c.player.Load(ctx, soundRef)
	if err != nil {
		c.logger.Error("failed to load sound asset", "sound", soundRef, "error", err.Error())
		return
	}

	c.mu.Lock()
	c.current = playback
	// The timer stops only the playback it was armed for. A stale timer
	// from a previous sound that fires while a new one is being installed
	// must not kill the new playback.
	c.autoStop = time.AfterFunc(duration, func() {
		c.logger.Debug("auto-stopping sound", "sound", soundRef, "duration", duration)
		c.stopIfCurrent(playback)
	})
	c.mu.Unlock()

	if err := playback.Start(); err != nil {
		c.logger.Error("failed to start playback", "sound", soundRef, "error", err.Error())
		c.stopIfCurrent(playback)
		return
	}

	c.logger.Debug("playback started", "sound", soundRef, "duration", duration)
}

// Stop halts playback, cancels the pending auto-stop timer, and releases the
// playback handle. No-op when nothing is playing.
func (c *AudioController) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopLocked()
}

// stopIfCurrent stops playback only if p is still the active session.
func (c *AudioController) stopIfCurrent(p Playback) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current != p {
		return
	}
	c.stopLocked()
}

func (c *AudioController) stopLocked() {
	if c.autoStop != nil {
		c.autoStop.Stop()
		c.autoStop = nil
	}

	if c.current != nil {
		c.current.Stop()
		c.current = nil
	}
}
