package stream

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/redalert-live/alertmon/internal/engine"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestHubSubscribeBroadcast(t *testing.T) {
	t.Run("delivers to all subscribers", func(t *testing.T) {
		h := NewHub(testLogger())
		ch1, stop1 := h.Subscribe()
		ch2, stop2 := h.Subscribe()
		defer stop1()
		defer stop2()

		h.Broadcast(Event{Type: "status"})

		for _, ch := range []<-chan Event{ch1, ch2} {
			select {
			case ev := <-ch:
				assert.Equal(t, "status", ev.Type)
			case <-time.After(time.Second):
				t.Fatal("subscriber did not receive the event")
			}
		}
	})

	t.Run("stopped subscriber gets nothing more", func(t *testing.T) {
		h := NewHub(testLogger())
		ch, stop := h.Subscribe()
		stop()

		h.Broadcast(Event{Type: "status"})

		_, open := <-ch
		assert.False(t, open)
	})

	t.Run("stop is idempotent", func(t *testing.T) {
		h := NewHub(testLogger())
		_, stop := h.Subscribe()
		stop()
		stop()
	})

	t.Run("full subscriber buffer drops instead of blocking", func(t *testing.T) {
		h := NewHub(testLogger())
		_, stop := h.Subscribe()
		defer stop()

		done := make(chan struct{})
		go func() {
			defer close(done)
			for i := 0; i < subscriberBuffer+10; i++ {
				h.Broadcast(Event{Type: "rows"})
			}
		}()

		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("broadcast blocked on a slow subscriber")
		}
	})
}

func TestHubServeHTTP(t *testing.T) {
	h := NewHub(testLogger())
	ts := httptest.NewServer(h)
	defer ts.Close()

	resp, err := http.Get(ts.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	// Wait for the subscription to land, then push one event.
	require.Eventually(t, func() bool {
		h.mu.Lock()
		defer h.mu.Unlock()
		return len(h.subs) == 1
	}, time.Second, time.Millisecond)

	h.Broadcast(Event{Type: "play", Data: map[string]any{"sound": "audio/missiles.mp3"}})

	line, err := bufio.NewReader(resp.Body).ReadString('\n')
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(line, `data: {"type":"play"`), "got %q", line)
	assert.Contains(t, line, "audio/missiles.mp3")
}

func TestHubSinkEvents(t *testing.T) {
	h := NewHub(testLogger())
	ch, stop := h.Subscribe()
	defer stop()

	next := func() Event {
		select {
		case ev := <-ch:
			return ev
		case <-time.After(time.Second):
			t.Fatal("no event received")
			return Event{}
		}
	}

	h.AppendRows([]engine.Row{{Identity: "a"}})
	assert.Equal(t, "rows", next().Type)

	h.ReplaceRows(nil)
	assert.Equal(t, "resort", next().Type)

	h.CategoryVisibility(1, false)
	ev := next()
	assert.Equal(t, "visibility", ev.Type)
	assert.Equal(t, map[string]any{"category": 1, "visible": false}, ev.Data)

	h.Clear()
	assert.Equal(t, "reset", next().Type)

	h.Status(engine.Status{City: "Haifa"})
	assert.Equal(t, "status", next().Type)
}

func TestHubPlayer(t *testing.T) {
	t.Run("playback drives play and stop events", func(t *testing.T) {
		h := NewHub(testLogger())
		ch, stop := h.Subscribe()
		defer stop()

		playback, err := h.Load(context.Background(), "audio/flash.mp3")
		require.NoError(t, err)

		require.NoError(t, playback.Start())
		ev := <-ch
		assert.Equal(t, "play", ev.Type)
		assert.Equal(t, map[string]any{"sound": "audio/flash.mp3"}, ev.Data)

		playback.Stop()
		assert.Equal(t, "stop", (<-ch).Type)
	})

	t.Run("empty sound reference fails to load", func(t *testing.T) {
		h := NewHub(testLogger())
		_, err := h.Load(context.Background(), "")
		assert.Error(t, err)
	})
}
