package httpserver

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

func TestLogging_RecordsRouteAndStatus(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.InfoLevel)
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/files/{fileId}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("abc"))
	})
	h := Logging(zap.New(core))(mux)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/files/7?key=SECRET&userId=alice", nil))

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("want 1 log entry, got %d", len(entries))
	}
	f := entries[0].ContextMap()
	if f["route"] != "GET /api/files/{fileId}" {
		t.Fatalf("route mismatch: %v", f["route"])
	}
	if f["status"] != int64(http.StatusTeapot) {
		t.Fatalf("status mismatch: %v", f["status"])
	}
	if f["bytes"] != int64(3) {
		t.Fatalf("bytes mismatch: %v", f["bytes"])
	}
	for k, v := range f {
		if s, ok := v.(string); ok && (strings.Contains(s, "SECRET") || strings.Contains(s, "alice")) {
			t.Fatalf("field %q leaks query values: %q", k, s)
		}
	}
}

func TestLogging_Unmatched(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.InfoLevel)
	h := Logging(zap.New(core))(http.NewServeMux())
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/nope", nil))

	if got := logs.All()[0].ContextMap()["route"]; got != "unmatched" {
		t.Fatalf("route = %v", got)
	}
}

func TestRecover_CatchesPanic(t *testing.T) {
	t.Parallel()

	h := Recover(zaptest.NewLogger(t))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("oh no")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("want 500, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"error"`) {
		t.Fatalf("want json error body, got %q", rec.Body.String())
	}
}

func TestRecover_NoPanicPassThrough(t *testing.T) {
	t.Parallel()

	h := Recover(zaptest.NewLogger(t))(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("want 202, got %d", rec.Code)
	}
}

func TestCORS(t *testing.T) {
	t.Parallel()

	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })

	t.Run("preflight", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/api/files/upload", nil)
		req.Header.Set("Origin", "https://app.example")
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		rec := httptest.NewRecorder()
		CORS("*")(next).ServeHTTP(rec, req)

		if rec.Code != http.StatusNoContent {
			t.Fatalf("want 204, got %d", rec.Code)
		}
		if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
			t.Fatalf("missing allow-origin")
		}
		if !strings.Contains(rec.Header().Get("Access-Control-Allow-Methods"), "DELETE") {
			t.Fatalf("allow-methods = %q", rec.Header().Get("Access-Control-Allow-Methods"))
		}
	})

	t.Run("api request", func(t *testing.T) {
		rec := httptest.NewRecorder()
		CORS("https://app.example")(next).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/files", nil))
		if rec.Header().Get("Access-Control-Allow-Origin") != "https://app.example" {
			t.Fatalf("allow-origin = %q", rec.Header().Get("Access-Control-Allow-Origin"))
		}
		if rec.Header().Get("Vary") != "Origin" {
			t.Fatalf("vary = %q", rec.Header().Get("Vary"))
		}
	})

	t.Run("outside api", func(t *testing.T) {
		rec := httptest.NewRecorder()
		CORS("*")(next).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		if rec.Header().Get("Access-Control-Allow-Origin") != "" {
			t.Fatalf("unexpected CORS header outside /api/")
		}
	})

	t.Run("disabled", func(t *testing.T) {
		rec := httptest.NewRecorder()
		CORS("")(next).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/files", nil))
		if rec.Header().Get("Access-Control-Allow-Origin") != "" {
			t.Fatalf("unexpected CORS header when disabled")
		}
	})
}
