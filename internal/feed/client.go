package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	// DefaultMaxAttempts is how many times a logical fetch is tried before
	// it is surfaced as a FetchError.
	DefaultMaxAttempts = 3

	// DefaultAttemptTimeout bounds a single fetch attempt.
	DefaultAttemptTimeout = 10 * time.Second

	// backoffBase is the first inter-retry delay; it doubles per attempt.
	backoffBase = time.Second
)

var (
	fetchAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "alertmon_feed_fetch_attempts_total",
		Help: "Feed fetch attempts by outcome",
	}, []string{"outcome"})
	fetchFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "alertmon_feed_fetch_failures_total",
		Help: "Logical fetches that exhausted all retries",
	})
)

// FetchError is returned after a logical fetch exhausted its retries.
type FetchError struct {
	URL   string
	Cause error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s failed after retries: %v", e.URL, e.Cause)
}

func (e *FetchError) Unwrap() error { return e.Cause }

// Retryer runs an operation up to MaxAttempts times, sleeping Backoff(i)
// between attempt i and attempt i+1. Any network call that needs bounded
// retries with backoff goes through this.
type Retryer struct {
	MaxAttempts int
	Backoff     func(attempt int) time.Duration
}

// ExponentialBackoff doubles the base delay per attempt index, starting at 0.
func ExponentialBackoff(base time.Duration) func(int) time.Duration {
	return func(attempt int) time.Duration {
		return base << uint(attempt)
	}
}

// Do runs op until it succeeds or attempts are exhausted. The last error is
// returned. Waiting between attempts respects context cancellation.
func (r Retryer) Do(ctx context.Context, op func(ctx context.Context) error) error {
	attempts := r.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}

		if i == attempts-1 {
			break
		}

		delay := backoffBase << uint(i)
		if r.Backoff != nil {
			delay = r.Backoff(i)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	return lastErr
}

// Client fetches alert history from the feed service with bounded retries,
// exponential backoff, and a hard timeout per attempt. One Client instance
// serves both the named-city and the nationwide source.
type Client struct {
	baseURL        string
	httpClient     *http.Client
	retryer        Retryer
	attemptTimeout time.Duration
	logger         *slog.Logger
}

// Option customizes a Client.
type Option func(*Client)

// WithRetryer overrides the default retry policy. Tests use this to shrink
// backoff delays.
func WithRetryer(r Retryer) Option {
	return func(c *Client) { c.retryer = r }
}

// WithAttemptTimeout overrides the per-attempt timeout.
func WithAttemptTimeout(d time.Duration) Option {
	return func(c *Client) { c.attemptTimeout = d }
}

// NewClient creates a feed client against the given history endpoint base URL.
func NewClient(baseURL string, logger *slog.Logger, opts ...Option) *Client {
	c := &Client{
		baseURL:        baseURL,
		httpClient:     &http.Client{},
		retryer:        Retryer{MaxAttempts: DefaultMaxAttempts, Backoff: ExponentialBackoff(backoffBase)},
		attemptTimeout: DefaultAttemptTimeout,
		logger:         logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FetchHistory performs one logical fetch for a city and time-range code.
// Each attempt is bounded by the attempt timeout; a timeout cancels only that
// attempt, not the whole retry sequence. After exhausting all retries the
// failure is surfaced as a *FetchError.
func (c *Client) FetchHistory(ctx context.Context, city, rng string) ([]AlertRecord, error) {
	fetchURL := fmt.Sprintf("%s/api/history?city=%s&range=%s&ts=%d",
		c.baseURL, url.QueryEscape(city), url.QueryEscape(rng), time.Now().UnixMilli())

	var records []AlertRecord
	err := c.retryer.Do(ctx, func(ctx context.Context) error {
		attemptCtx, cancel := context.WithTimeout(ctx, c.attemptTimeout)
		defer cancel()

		recs, err := c.fetchOnce(attemptCtx, fetchURL)
		if err != nil {
			fetchAttempts.WithLabelValues("failure").Inc()
			c.logger.Debug("fetch attempt failed", "url", fetchURL, "error", err.Error())
			return err
		}

		fetchAttempts.WithLabelValues("success").Inc()
		records = recs
		return nil
	})
	if err != nil {
		fetchFailures.Inc()
		return nil, &FetchError{URL: fetchURL, Cause: err}
	}

	c.logger.Debug("fetch succeeded", "city", city, "range", rng, "records", len(records))
	return records, nil
}

func (c *Client) fetchOnce(ctx context.Context, fetchURL string) ([]AlertRecord, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fetchURL, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create history request")
	}

	// The upstream rejects requests without these identification headers.
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
	req.Header.Set("Referer", "https://alerts-history.oref.org.il/")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "history request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096)) //nolint:errcheck
		return nil, errors.Errorf("unexpected HTTP status %d", resp.StatusCode)
	}

	var records []AlertRecord
	if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
		return nil, errors.Wrap(err, "failed to parse history response")
	}

	return records, nil
}
