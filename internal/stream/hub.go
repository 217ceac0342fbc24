// Package stream pushes engine output to connected browsers over
// Server-Sent Events. The page is a thin rendering surface: it draws rows,
// flips visibility, and drives its <audio> element from play/stop commands.
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/redalert-live/alertmon/internal/engine"
)

const (
	keepAliveInterval = 15 * time.Second
	subscriberBuffer  = 16
)

// Event is one message on the stream.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// Hub fans events out to all subscribed clients. It implements the engine's
// RowSink, StatusSink, and Player interfaces so the whole rendering surface
// and the audio command channel ride one stream.
type Hub struct {
	logger *slog.Logger

	mu   sync.Mutex
	subs map[chan Event]struct{}
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		logger: logger,
		subs:   make(map[chan Event]struct{}),
	}
}

// Subscribe registers a client. The returned stop function must be called
// when the client goes away.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)

	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	stop := func() {
		h.mu.Lock()
		if _, ok := h.subs[ch]; ok {
			delete(h.subs, ch)
			close(ch)
		}
		h.mu.Unlock()
	}
	return ch, stop
}

// Broadcast delivers an event to every subscriber. Slow clients with a full
// buffer miss the event rather than blocking the engine.
func (h *Hub) Broadcast(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for ch := range h.subs {
		select {
		case ch <- ev:
		default:
			h.logger.Debug("dropping event for slow subscriber", "type", ev.Type)
		}
	}
}

// ServeHTTP streams events to one client until it disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ctx := r.Context()
	events, stop := h.Subscribe()
	defer stop()

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-keepAlive.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
		case ev, ok := <-events:
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				h.logger.Error("failed to encode event", "type", ev.Type, "error", err.Error())
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		}
	}
}

// ---- engine.RowSink ----

// AppendRows broadcasts newly rendered rows.
func (h *Hub) AppendRows(rows []engine.Row) {
	h.Broadcast(Event{Type: "rows", Data: rows})
}

// ReplaceRows broadcasts the full reordered row list.
func (h *Hub) ReplaceRows(rows []engine.Row) {
	h.Broadcast(Event{Type: "resort", Data: rows})
}

// CategoryVisibility broadcasts a visibility flip.
func (h *Hub) CategoryVisibility(code int, visible bool) {
	h.Broadcast(Event{Type: "visibility", Data: map[string]any{
		"category": code,
		"visible":  visible,
	}})
}

// Clear tells clients to drop all rendered rows.
func (h *Hub) Clear() {
	h.Broadcast(Event{Type: "reset"})
}

// ---- engine.StatusSink ----

// Status broadcasts the session status line.
func (h *Hub) Status(s engine.Status) {
	h.Broadcast(Event{Type: "status", Data: s})
}

// ---- engine.Player ----

// Load returns a playback that drives the page's audio element through
// play/stop commands. The asset lives browser-side, so readiness is
// immediate; an empty reference is a load failure.
func (h *Hub) Load(_ context.Context, soundRef string) (engine.Playback, error) {
	if soundRef == "" {
		return nil, errors.New("empty sound reference")
	}
	return &broadcastPlayback{hub: h, soundRef: soundRef}, nil
}

type broadcastPlayback struct {
	hub      *Hub
	soundRef string
}

func (p *broadcastPlayback) Start() error {
	p.hub.Broadcast(Event{Type: "play", Data: map[string]any{"sound": p.soundRef}})
	return nil
}

func (p *broadcastPlayback) Stop() {
	p.hub.Broadcast(Event{Type: "stop"})
}
