// Package server assembles the HTTP surface: the history proxy, the control
// API for the poll engine, the preference store, the SSE stream, metrics,
// and the static front-end.
package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/redalert-live/alertmon/internal/engine"
	"github.com/redalert-live/alertmon/internal/prefs"
	"github.com/redalert-live/alertmon/internal/proxy"
	"github.com/redalert-live/alertmon/internal/stream"
)

// Server holds the handler dependencies.
type Server struct {
	scheduler *engine.Scheduler
	hub       *stream.Hub
	proxy     *proxy.Handler
	prefs     *prefs.Store // nil when the store is unavailable
	logger    *slog.Logger
	staticDir string
}

// New creates a server. prefStore may be nil; the prefs endpoints then
// answer 503 while everything else keeps working.
func New(
	scheduler *engine.Scheduler,
	hub *stream.Hub,
	proxyHandler *proxy.Handler,
	prefStore *prefs.Store,
	staticDir string,
	logger *slog.Logger,
) *Server {
	return &Server{
		scheduler: scheduler,
		hub:       hub,
		proxy:     proxyHandler,
		prefs:     prefStore,
		logger:    logger,
		staticDir: staticDir,
	}
}

// Router builds the full route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(proxy.CORS)

	s.proxy.Register(r)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/state", s.handleState).Methods(http.MethodGet, http.MethodOptions)
	api.Handle("/events", s.hub).Methods(http.MethodGet)

	controls := api.PathPrefix("/controls").Subrouter()
	controls.HandleFunc("/city", s.handleSetCity).Methods(http.MethodPost)
	controls.HandleFunc("/range", s.handleSetRange).Methods(http.MethodPost)
	controls.HandleFunc("/interval", s.handleSetInterval).Methods(http.MethodPost)
	controls.HandleFunc("/lookback", s.handleSetLookback).Methods(http.MethodPost)
	controls.HandleFunc("/auto", s.handleSetAuto).Methods(http.MethodPost)
	controls.HandleFunc("/sort", s.handleToggleSort).Methods(http.MethodPost)
	controls.HandleFunc("/category/{code:[0-9]+}", s.handleSetCategory).Methods(http.MethodPost)
	controls.HandleFunc("/poll", s.handlePollNow).Methods(http.MethodPost)

	api.HandleFunc("/siren/stop", s.handleSirenStop).Methods(http.MethodPost)
	api.HandleFunc("/siren/test/{code:[0-9]+}", s.handleSirenTest).Methods(http.MethodPost)

	api.HandleFunc("/prefs/{key}", s.handleGetPref).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/prefs/{key}", s.handleSetPref).Methods(http.MethodPut)

	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.PathPrefix("/").Handler(http.FileServer(http.Dir(s.staticDir)))

	return r
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	snap, err := s.scheduler.State(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, errors.Wrap(err, "state unavailable"))
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleSetCity(w http.ResponseWriter, r *http.Request) {
	var body struct {
		City string `json:"city"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	city := proxy.CanonicalCity(body.City)
	s.scheduler.SetCity(r.Context(), city)
	writeOK(w)
}

func (s *Server) handleSetRange(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Range string `json:"range"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	switch body.Range {
	case "day", "week", "month":
	default:
		writeError(w, http.StatusBadRequest, errors.New("range must be day, week, or month"))
		return
	}
	s.scheduler.SetRange(r.Context(), body.Range)
	writeOK(w)
}

func (s *Server) handleSetInterval(w http.ResponseWriter, r *http.Request) {
	d, ok := decodeSeconds(w, r)
	if !ok {
		return
	}
	s.scheduler.SetInterval(r.Context(), d)
	writeOK(w)
}

func (s *Server) handleSetLookback(w http.ResponseWriter, r *http.Request) {
	d, ok := decodeSeconds(w, r)
	if !ok {
		return
	}
	s.scheduler.SetLookback(r.Context(), d)
	writeOK(w)
}

func (s *Server) handleSetAuto(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Enabled bool `json:"enabled"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	s.scheduler.SetAutoPoll(r.Context(), body.Enabled)
	writeOK(w)
}

func (s *Server) handleToggleSort(w http.ResponseWriter, r *http.Request) {
	s.scheduler.ToggleSort(r.Context())
	writeOK(w)
}

func (s *Server) handleSetCategory(w http.ResponseWriter, r *http.Request) {
	code, err := strconv.Atoi(mux.Vars(r)["code"])
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid category code"))
		return
	}
	var body struct {
		Enabled bool `json:"enabled"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	s.scheduler.SetCategoryEnabled(r.Context(), code, body.Enabled)
	writeOK(w)
}

func (s *Server) handlePollNow(w http.ResponseWriter, r *http.Request) {
	s.scheduler.PollNow(r.Context())
	writeOK(w)
}

func (s *Server) handleSirenStop(w http.ResponseWriter, r *http.Request) {
	s.scheduler.StopSiren(r.Context())
	writeOK(w)
}

func (s *Server) handleSirenTest(w http.ResponseWriter, r *http.Request) {
	code, err := strconv.Atoi(mux.Vars(r)["code"])
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid category code"))
		return
	}
	s.scheduler.TestSiren(r.Context(), code)
	writeOK(w)
}

func (s *Server) handleGetPref(w http.ResponseWriter, r *http.Request) {
	if s.prefs == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("preference store unavailable"))
		return
	}
	key := mux.Vars(r)["key"]
	value, err := s.prefs.Get(key)
	if errors.Is(err, prefs.ErrNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		s.logger.Error("preference read failed", "key", key, "error", err.Error())
		writeError(w, http.StatusInternalServerError, errors.New("preference read failed"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"key": key, "value": value})
}

func (s *Server) handleSetPref(w http.ResponseWriter, r *http.Request) {
	if s.prefs == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("preference store unavailable"))
		return
	}
	key := mux.Vars(r)["key"]
	var body struct {
		Value string `json:"value"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if err := s.prefs.Set(key, body.Value); err != nil {
		s.logger.Error("preference write failed", "key", key, "error", err.Error())
		writeError(w, http.StatusInternalServerError, errors.New("preference write failed"))
		return
	}
	writeOK(w)
}

// decodeSeconds reads {"seconds": N} bodies used by interval and lookback
// controls, flooring at one second.
func decodeSeconds(w http.ResponseWriter, r *http.Request) (time.Duration, bool) {
	var body struct {
		Seconds int `json:"seconds"`
	}
	if !decodeBody(w, r, &body) {
		return 0, false
	}
	if body.Seconds < 1 {
		body.Seconds = 1
	}
	return time.Duration(body.Seconds) * time.Second, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, errors.Wrap(err, "invalid request body"))
		return false
	}
	return true
}

func writeOK(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}
