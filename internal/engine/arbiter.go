package engine

import (
	"context"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/redalert-live/alertmon/internal/feed"
)

// playedLedgerLimit caps the alarm-played ledger. Once the size exceeds the
// limit the ledger is cleared wholesale, not per-entry: this can re-trigger
// an already-played alarm if an old identity recurs after the clear, which is
// a documented, accepted imprecision.
const playedLedgerLimit = 100

var alarmsPlayed = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "alertmon_alarms_played_total",
	Help: "Alarms started, labeled by category code",
}, []string{"category"})

// Arbiter decides whether an alarm must sound for a poll cycle's batch and
// which single alarm that is. It owns the alarm-played ledger and the
// polling-suspension window.
type Arbiter struct {
	cats   *CategoryRegistry
	audio  *AudioController
	logger *slog.Logger

	lookback   time.Duration
	played     map[string]struct{}
	pauseUntil time.Time
}

// NewArbiter creates an arbiter with the given lookback window.
func NewArbiter(cats *CategoryRegistry, audio *AudioController, lookback time.Duration, logger *slog.Logger) *Arbiter {
	return &Arbiter{
		cats:     cats,
		audio:    audio,
		logger:   logger,
		lookback: lookback,
		played:   make(map[string]struct{}),
	}
}

// SetLookback updates the freshness window.
func (a *Arbiter) SetLookback(d time.Duration) {
	a.lookback = d
}

// Lookback returns the current freshness window.
func (a *Arbiter) Lookback() time.Duration {
	return a.lookback
}

// PruneLedger bulk-clears the played ledger once it exceeds the limit. The
// scheduler calls this once per cycle before arbitration, so the ledger
// never exceeds the limit for more than one cycle.
func (a *Arbiter) PruneLedger() {
	if len(a.played) > playedLedgerLimit {
		a.logger.Debug("clearing alarm-played ledger", "entries", len(a.played))
		a.played = make(map[string]struct{})
	}
}

// Arbitrate examines the entire current fetch batch, not only this cycle's
// new records: an older alert still within the lookback window stays an
// alarm candidate every cycle. Among fresh records of enabled categories the
// single most recent wins, with ties broken by stable input order. If the
// winner's alarm has not been played yet it is marked played, the pause
// window is set to now plus the category duration, and playback starts. A
// winner already played is an idempotent no-op.
func (a *Arbiter) Arbitrate(ctx context.Context, batch []feed.AlertRecord, now time.Time) {
	fresh := make([]feed.AlertRecord, 0, len(batch))
	for _, rec := range batch {
		if rec.EventTime.IsZero() {
			a.logger.Debug("skipping record with unparseable date", "alertDate", rec.AlertDate)
			continue
		}
		if now.Sub(rec.EventTime) > a.lookback {
			continue
		}
		if !a.cats.Enabled(rec.Category) {
			continue
		}
		fresh = append(fresh, rec)
	}

	if len(fresh) == 0 {
		return
	}

	sort.SliceStable(fresh, func(i, j int) bool {
		return fresh[i].EventTime.After(fresh[j].EventTime)
	})

	newest := fresh[0]
	identity := newest.Identity()

	if _, done := a.played[identity]; done {
		a.logger.Debug("alarm already played for newest alert", "identity", identity)
		return
	}

	duration := a.cats.Duration(newest.Category)
	a.played[identity] = struct{}{}
	a.pauseUntil = now.Add(duration)

	if len(fresh) > 1 {
		a.logger.Debug("ignoring older fresh alerts", "ignored", len(fresh)-1)
	}
	a.logger.Info("sounding alarm",
		"identity", identity,
		"category", newest.Category,
		"duration", duration,
		"pauseUntil", a.pauseUntil)

	alarmsPlayed.WithLabelValues(strconv.Itoa(newest.Category)).Inc()
	a.audio.Play(ctx, a.cats.Sound(newest.Category), duration)
}

// PauseUntil returns the end of the current polling-suspension window, zero
// when no window is active.
func (a *Arbiter) PauseUntil() time.Time {
	return a.pauseUntil
}

// ClearPause lifts the polling-suspension window.
func (a *Arbiter) ClearPause() {
	a.pauseUntil = time.Time{}
}

// PlayedCount returns the size of the alarm-played ledger.
func (a *Arbiter) PlayedCount() int {
	return len(a.played)
}

// Reset clears the played ledger and the pause window.
func (a *Arbiter) Reset() {
	a.played = make(map[string]struct{})
	a.pauseUntil = time.Time{}
}

