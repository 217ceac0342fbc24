// Package proxy exposes the upstream alert-history API in the reduced shape
// the front-end and the poll engine consume.
package proxy

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	// DefaultUpstream is the Pikud-HaOref alarm history endpoint.
	DefaultUpstream = "https://alerts-history.oref.org.il//Shared/Ajax/GetAlarmsHistory.aspx?lang=en"

	// DefaultCity is used when the city query parameter is absent.
	DefaultCity = "Yad Binyamin"
)

var upstreamErrors = promauto.NewCounter(prometheus.CounterOpts{
	Name: "alertmon_proxy_upstream_errors_total",
	Help: "Upstream history calls that failed or returned non-OK",
})

// historyRecord is the reduced wire shape returned to callers. Category is
// kept as a json.Number so numeric and string encodings both pass through
// unchanged.
type historyRecord struct {
	AlertDate    string      `json:"alertDate"`
	Category     json.Number `json:"category"`
	CategoryDesc string      `json:"category_desc"`
}

// Handler serves /api/history and /api/health.
type Handler struct {
	upstream   string
	httpClient *http.Client
	logger     *slog.Logger
}

// Option customizes a Handler.
type Option func(*Handler)

// WithUpstream overrides the upstream base URL (used by tests).
func WithUpstream(u string) Option {
	return func(h *Handler) { h.upstream = u }
}

// New creates a proxy handler.
func New(logger *slog.Logger, opts ...Option) *Handler {
	h := &Handler{
		upstream:   DefaultUpstream,
		httpClient: &http.Client{Timeout: 20 * time.Second},
		logger:     logger,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register mounts the proxy routes on the router.
func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/api/history", h.History).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/api/health", h.Health).Methods(http.MethodGet, http.MethodOptions)
}

// History proxies the upstream alarm history, reduced to
// [{alertDate, category, category_desc}]. An upstream failure is surfaced as
// HTTP 502 with {error, detail}.
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	city := CanonicalCity(r.URL.Query().Get("city"))
	rng := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("range")))

	records, err := h.fetchUpstream(r.Context(), city, rng)
	if err != nil {
		upstreamErrors.Inc()
		h.logger.Error("history fetch failed", "city", city, "range", rng, "error", err.Error())
		writeJSON(w, http.StatusBadGateway, map[string]string{
			"error":  "History fetch failed",
			"detail": err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, records)
}

// Health reports liveness.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"ts":     time.Now().UnixMilli(),
	})
}

func (h *Handler) fetchUpstream(ctx context.Context, city, rng string) ([]historyRecord, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, buildHistoryURL(h.upstream, city, rng), nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create upstream request")
	}

	// Some upstream edges require these headers.
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
	req.Header.Set("Referer", "https://alerts-history.oref.org.il/")

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "upstream request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096)) //nolint:errcheck
		return nil, errors.Errorf("upstream HTTP %d %s", resp.StatusCode, resp.Status)
	}

	var records []historyRecord
	if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
		return nil, errors.Wrap(err, "failed to parse upstream response")
	}

	if records == nil {
		records = []historyRecord{}
	}
	return records, nil
}

// buildHistoryURL maps the public range codes onto the upstream's mode
// parameters: day is the upstream default, week is mode=2, month is mode=3.
// Unknown ranges fall back to day.
func buildHistoryURL(base, city, rng string) string {
	u := base + "&city_0=" + url.QueryEscape(city)
	switch rng {
	case "week":
		return u + "&mode=2"
	case "month":
		return u + "&mode=3"
	default:
		return u
	}
}

// CORS allows any origin to call the API with GET/OPTIONS.
func CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}
