package proxy

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newProxyRouter wires a fake upstream into a proxy router.
func newProxyRouter(t *testing.T, upstream http.HandlerFunc) *mux.Router {
	t.Helper()
	up := httptest.NewServer(upstream)
	t.Cleanup(up.Close)

	r := mux.NewRouter()
	New(testLogger(), WithUpstream(up.URL+"/history?lang=en")).Register(r)
	return r
}

func TestHistory(t *testing.T) {
	t.Run("reduces upstream records and forwards headers", func(t *testing.T) {
		var gotQuery, gotXRW string
		router := newProxyRouter(t, func(w http.ResponseWriter, r *http.Request) {
			gotQuery = r.URL.RawQuery
			gotXRW = r.Header.Get("X-Requested-With")
			w.Write([]byte(`[{"alertDate":"2025-06-13 08:15:00","category":1,"category_desc":"Missiles","data":"Yad Binyamin","extra":"dropped"}]`))
		})

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/history?city=Yad+Binyamin&range=day", nil))

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "XMLHttpRequest", gotXRW)
		assert.Contains(t, gotQuery, "city_0=Yad+Binyamin")
		assert.NotContains(t, gotQuery, "mode=")

		var records []map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &records))
		require.Len(t, records, 1)
		assert.Equal(t, "2025-06-13 08:15:00", records[0]["alertDate"])
		assert.NotContains(t, records[0], "data", "upstream extras must not leak through")
	})

	t.Run("missing city falls back to the default", func(t *testing.T) {
		var gotQuery string
		router := newProxyRouter(t, func(w http.ResponseWriter, r *http.Request) {
			gotQuery = r.URL.RawQuery
			w.Write([]byte(`[]`))
		})

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/history", nil))

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, gotQuery, "city_0=Yad+Binyamin")
	})

	t.Run("week and month map to upstream modes", func(t *testing.T) {
		var gotQuery string
		router := newProxyRouter(t, func(w http.ResponseWriter, r *http.Request) {
			gotQuery = r.URL.RawQuery
			w.Write([]byte(`[]`))
		})

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/history?range=week", nil))
		assert.Contains(t, gotQuery, "mode=2")

		rec = httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/history?range=month", nil))
		assert.Contains(t, gotQuery, "mode=3")
	})

	t.Run("null upstream body becomes an empty array", func(t *testing.T) {
		router := newProxyRouter(t, func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`null`))
		})

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/history", nil))

		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `[]`, rec.Body.String())
	})

	t.Run("upstream failure surfaces as 502 with detail", func(t *testing.T) {
		router := newProxyRouter(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusForbidden)
		})

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/history", nil))

		require.Equal(t, http.StatusBadGateway, rec.Code)

		var body map[string]string
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "History fetch failed", body["error"])
		assert.Contains(t, body["detail"], "403")
	})

	t.Run("string categories pass through unchanged", func(t *testing.T) {
		router := newProxyRouter(t, func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`[{"alertDate":"2025-06-13 08:15:00","category":"14","category_desc":"Flash"}]`))
		})

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/history", nil))

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"category":"14"`)
	})
}

func TestHealth(t *testing.T) {
	router := newProxyRouter(t, func(w http.ResponseWriter, r *http.Request) {})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.NotZero(t, body["ts"])
}

func TestCORS(t *testing.T) {
	handler := CORS(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	t.Run("decorates responses", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/history", nil))

		assert.Equal(t, http.StatusTeapot, rec.Code)
		assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("answers preflight without hitting the handler", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/api/history", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestCanonicalCity(t *testing.T) {
	for name, tc := range map[string]struct {
		in   string
		want string
	}{
		"empty falls back":      {"", DefaultCity},
		"whitespace falls back": {"   ", DefaultCity},
		"alias":                 {"tel aviv", "Tel Aviv - Yafo"},
		"alias case folded":     {"TEL-AVIV", "Tel Aviv - Yafo"},
		"apostrophe variant":    {"Beer Sheva", "Be'er Sheva"},
		"canonical passthrough": {"Yad Binyamin", "Yad Binyamin"},
		"unknown passthrough":   {"  Nowhere  ", "Nowhere"},
	} {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.want, CanonicalCity(tc.in))
		})
	}
}
