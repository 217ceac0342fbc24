package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/redalert-live/alertmon/internal/feed"
)

const (
	// tightPollInterval is used while a pause window is active so its
	// expiry is noticed promptly without fetching.
	tightPollInterval = time.Second

	// MinPollInterval floors the configurable poll interval.
	MinPollInterval = time.Second
)

var pollCycles = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "alertmon_poll_cycles_total",
	Help: "Poll cycles by outcome (completed or skipped while paused)",
}, []string{"outcome"})

// Fetcher performs one logical feed fetch. Implemented by feed.Client.
type Fetcher interface {
	FetchHistory(ctx context.Context, city, rng string) ([]feed.AlertRecord, error)
}

// Status is the session summary broadcast after every cycle and control
// change.
type Status struct {
	City       string    `json:"city"`
	Range      string    `json:"range"`
	Interval   string    `json:"interval"`
	Lookback   string    `json:"lookback"`
	AutoPoll   bool      `json:"autoPoll"`
	SortDesc   bool      `json:"sortDesc"`
	LastUpdate time.Time `json:"lastUpdate,omitempty"`
	PausedTo   time.Time `json:"pausedTo,omitempty"`
}

// StatusSink receives session status updates.
type StatusSink interface {
	Status(s Status)
}

// SchedulerConfig carries the initial session settings.
type SchedulerConfig struct {
	City     string
	Range    string
	Interval time.Duration
}

// Scheduler drives the poll lifecycle: fetch both sources, merge, dedup,
// render, arbitrate the alarm, reschedule. All session state is owned by the
// single Run goroutine; control methods enqueue commands onto that goroutine
// so there is no parallel mutation. The in-flight flag is the sole
// mutual-exclusion mechanism against overlapping cycles, and the next-cycle
// timer is armed only in the completion path of the previous cycle.
type Scheduler struct {
	fetcher  Fetcher
	ledger   *Ledger
	cats     *CategoryRegistry
	pipeline *RenderPipeline
	arbiter  *Arbiter
	status   StatusSink
	audio    *AudioController
	logger   *slog.Logger
	clock    func() time.Time

	city       string
	histRange  string
	interval   time.Duration
	autoPoll   bool
	inFlight   bool
	lastUpdate time.Time

	timer    *time.Timer
	commands chan func()

	// runCtx is the loop's own context, set by Run. Cycles triggered by
	// control commands fetch under it, not under the caller's context: a
	// control request may be long gone while its immediate poll is still
	// in flight.
	runCtx context.Context
}

// NewScheduler wires the engine components into a poll scheduler. Call Run
// to start the loop.
func NewScheduler(
	cfg SchedulerConfig,
	fetcher Fetcher,
	ledger *Ledger,
	cats *CategoryRegistry,
	pipeline *RenderPipeline,
	arbiter *Arbiter,
	audio *AudioController,
	status StatusSink,
	logger *slog.Logger,
) *Scheduler {
	interval := cfg.Interval
	if interval < MinPollInterval {
		interval = MinPollInterval
	}
	return &Scheduler{
		fetcher:   fetcher,
		ledger:    ledger,
		cats:      cats,
		pipeline:  pipeline,
		arbiter:   arbiter,
		audio:     audio,
		status:    status,
		logger:    logger,
		clock:     time.Now,
		city:      cfg.City,
		histRange: cfg.Range,
		interval:  interval,
		autoPoll:  true,
		commands:  make(chan func()),
	}
}

// Run executes the poll loop until the context is canceled. The first cycle
// fires immediately.
func (s *Scheduler) Run(ctx context.Context) {
	s.runCtx = ctx
	s.timer = time.NewTimer(0)
	defer s.timer.Stop()

	s.logger.Info("poll scheduler started", "city", s.city, "range", s.histRange, "interval", s.interval)

	for {
		select {
		case <-ctx.Done():
			s.audio.Stop()
			s.logger.Info("poll scheduler stopped")
			return
		case cmd := <-s.commands:
			cmd()
		case <-s.timer.C:
			s.cycle(ctx)
		}
	}
}

// do hands a command to the loop goroutine and waits for it to be picked up.
// The caller's context bounds only the hand-off; the command itself executes
// under the loop's lifetime.
func (s *Scheduler) do(ctx context.Context, cmd func()) {
	select {
	case s.commands <- cmd:
	case <-ctx.Done():
	}
}

// cycle runs one poll decision. While a pause window is active the fetch
// phase is skipped entirely and a 1s re-check is scheduled instead of the
// normal interval.
func (s *Scheduler) cycle(ctx context.Context) {
	now := s.clock()

	if pauseTo := s.arbiter.PauseUntil(); !pauseTo.IsZero() {
		if now.Before(pauseTo) {
			s.logger.Debug("polling paused", "until", pauseTo)
			pollCycles.WithLabelValues("paused").Inc()
			if s.autoPoll {
				s.rearm(tightPollInterval)
			}
			return
		}
		s.arbiter.ClearPause()
		s.logger.Debug("polling pause expired, resuming")
	}

	if s.inFlight {
		s.logger.Debug("poll already in flight, skipping")
		return
	}
	s.inFlight = true
	s.stopTimer()

	s.logger.Debug("starting poll cycle", "city", s.city, "range", s.histRange)

	batch := s.fetchBoth(ctx)
	newRecords := s.dedup(batch)

	s.pipeline.Append(newRecords)
	s.pipeline.Resort()

	s.arbiter.PruneLedger()
	s.arbiter.Arbitrate(ctx, batch, now)

	s.lastUpdate = s.clock()
	s.pushStatus()
	s.inFlight = false
	pollCycles.WithLabelValues("completed").Inc()

	s.logger.Debug("poll cycle completed", "total", len(batch), "new", len(newRecords))

	if s.autoPoll {
		next := s.interval
		if s.arbiter.PauseUntil().After(now) {
			next = tightPollInterval
		}
		s.rearm(next)
	}
}

// fetchBoth runs the named-city and nationwide fetches concurrently. Their
// relative completion order does not matter: results are merged by source
// tag, and a failed source degrades to an empty set without failing the
// cycle.
func (s *Scheduler) fetchBoth(ctx context.Context) []feed.AlertRecord {
	var (
		wg    sync.WaitGroup
		local []feed.AlertRecord
		nat   []feed.AlertRecord
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		recs, err := s.fetcher.FetchHistory(ctx, s.city, s.histRange)
		if err != nil {
			s.logger.Error("local alerts fetch failed", "city", s.city, "error", err.Error())
			return
		}
		local = recs
	}()
	go func() {
		defer wg.Done()
		recs, err := s.fetcher.FetchHistory(ctx, NationwideLabel, s.histRange)
		if err != nil {
			s.logger.Error("nationwide alerts fetch failed", "error", err.Error())
			return
		}
		nat = recs
	}()
	wg.Wait()

	merged := make([]feed.AlertRecord, 0, len(local)+len(nat))
	merged = append(merged, local...)
	for _, rec := range nat {
		rec.Nationwide = true
		merged = append(merged, rec)
	}
	return merged
}

// dedup filters the batch down to records never seen this session. Invalid
// records are skipped and logged, and the cycle continues.
func (s *Scheduler) dedup(batch []feed.AlertRecord) []feed.AlertRecord {
	fresh := make([]feed.AlertRecord, 0, len(batch))
	for _, rec := range batch {
		if !rec.Valid() {
			s.logger.Debug("skipping invalid alert record", "alertDate", rec.AlertDate, "category", rec.Category)
			continue
		}
		identity := rec.Identity()
		if !s.ledger.IsNew(identity) {
			continue
		}
		s.ledger.MarkSeen(identity)
		fresh = append(fresh, rec)
	}
	return fresh
}

// reset clears all session ledgers and rendered rows and re-seeds the
// default categories. Triggered by city, range, or interval changes.
func (s *Scheduler) reset() {
	s.ledger.Reset()
	s.arbiter.Reset()
	s.cats.Reset()
	s.pipeline.Reset()
	s.lastUpdate = time.Time{}
	s.logger.Debug("session reset complete")
}

func (s *Scheduler) currentStatus() Status {
	return Status{
		City:       s.city,
		Range:      s.histRange,
		Interval:   s.interval.String(),
		Lookback:   s.arbiter.Lookback().String(),
		AutoPoll:   s.autoPoll,
		SortDesc:   s.pipeline.SortDesc(),
		LastUpdate: s.lastUpdate,
		PausedTo:   s.arbiter.PauseUntil(),
	}
}

func (s *Scheduler) pushStatus() {
	s.status.Status(s.currentStatus())
}

func (s *Scheduler) stopTimer() {
	if !s.timer.Stop() {
		select {
		case <-s.timer.C:
		default:
		}
	}
}

func (s *Scheduler) rearm(d time.Duration) {
	s.stopTimer()
	s.timer.Reset(d)
	s.logger.Debug("next poll scheduled", "in", d)
}

// PollNow triggers an immediate out-of-band cycle.
func (s *Scheduler) PollNow(ctx context.Context) {
	s.do(ctx, func() {
		s.cycle(s.runCtx)
	})
}

// SetCity changes the monitored city: full session reset plus an immediate
// poll.
func (s *Scheduler) SetCity(ctx context.Context, city string) {
	s.do(ctx, func() {
		if city == "" || city == s.city {
			return
		}
		s.city = city
		s.reset()
		s.cycle(s.runCtx)
	})
}

// SetRange changes the history range: full session reset plus an immediate
// poll.
func (s *Scheduler) SetRange(ctx context.Context, rng string) {
	s.do(ctx, func() {
		if rng == "" || rng == s.histRange {
			return
		}
		s.histRange = rng
		s.reset()
		s.cycle(s.runCtx)
	})
}

// SetInterval changes the poll interval: full session reset plus an
// immediate poll.
func (s *Scheduler) SetInterval(ctx context.Context, d time.Duration) {
	s.do(ctx, func() {
		if d < MinPollInterval {
			d = MinPollInterval
		}
		if d == s.interval {
			return
		}
		s.interval = d
		s.reset()
		s.cycle(s.runCtx)
	})
}

// SetLookback changes the freshness window without resetting the session.
func (s *Scheduler) SetLookback(ctx context.Context, d time.Duration) {
	s.do(ctx, func() {
		if d < time.Second {
			d = time.Second
		}
		s.arbiter.SetLookback(d)
		s.pushStatus()
	})
}

// SetAutoPoll toggles automatic polling. Disabling cancels the pending
// timer without clearing any ledger; enabling triggers an immediate poll.
func (s *Scheduler) SetAutoPoll(ctx context.Context, on bool) {
	s.do(ctx, func() {
		if on == s.autoPoll {
			return
		}
		s.autoPoll = on
		if on {
			s.logger.Debug("resuming automatic polling")
			s.cycle(s.runCtx)
			return
		}
		s.logger.Debug("pausing automatic polling")
		s.stopTimer()
		s.pushStatus()
	})
}

// ToggleSort flips the sort direction and reorders the rendered rows.
func (s *Scheduler) ToggleSort(ctx context.Context) {
	s.do(ctx, func() {
		s.pipeline.SetSortDesc(!s.pipeline.SortDesc())
		s.pipeline.Resort()
		s.pushStatus()
	})
}

// SetCategoryEnabled flips a category's enabled flag and updates row
// visibility. Unknown codes are ignored.
func (s *Scheduler) SetCategoryEnabled(ctx context.Context, code int, enabled bool) {
	s.do(ctx, func() {
		if !s.cats.SetEnabled(code, enabled) {
			s.logger.Debug("ignoring toggle for unknown category", "category", code)
			return
		}
		s.pipeline.SetCategoryVisible(code, enabled)
	})
}

// StopSiren stops playback and lifts the pause window so polling resumes
// immediately.
func (s *Scheduler) StopSiren(ctx context.Context) {
	s.do(ctx, func() {
		s.arbiter.ClearPause()
		s.audio.Stop()
		s.pushStatus()
	})
}

// TestSiren plays a category's sound without pausing polling.
func (s *Scheduler) TestSiren(ctx context.Context, code int) {
	s.do(ctx, func() {
		s.audio.Play(s.runCtx, s.cats.Sound(code), s.cats.Duration(code))
	})
}

// Snapshot returns the current session view, evaluated on the loop
// goroutine. Run must be active.
type Snapshot struct {
	Rows       []Row      `json:"rows"`
	Categories []Category `json:"categories"`
	Status     Status     `json:"status"`
}

// State returns a consistent snapshot of rows, categories, and status. It
// fails rather than fabricating an empty snapshot when the caller goes away
// mid-wait.
func (s *Scheduler) State(ctx context.Context) (Snapshot, error) {
	reply := make(chan Snapshot, 1)
	s.do(ctx, func() {
		reply <- Snapshot{
			Rows:       s.pipeline.Rows(),
			Categories: s.cats.All(),
			Status:     s.currentStatus(),
		}
	})

	select {
	case snap := <-reply:
		return snap, nil
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
}
