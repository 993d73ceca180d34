package logging

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func observe(t *testing.T) *observer.ObservedLogs {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	prev := L()
	Replace(zap.New(core))
	t.Cleanup(func() { Replace(prev) })
	return logs
}

func TestMiddlewareRequestID(t *testing.T) {
	logs := observe(t)

	var seen string
	h := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest(http.MethodGet, "/webdav/pkg", nil)
	req.Header.Set("X-Request-ID", "req-1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if seen != "req-1" {
		t.Errorf("handler saw request id %q", seen)
	}
	if got := rec.Header().Get("X-Request-ID"); got != "req-1" {
		t.Errorf("response request id %q", got)
	}

	done := logs.FilterMessage("request completed").All()
	if len(done) != 1 {
		t.Fatalf("expected one completion entry, got %d", len(done))
	}
	fields := done[0].ContextMap()
	if fields["request_id"] != "req-1" || fields["status"] != int64(http.StatusTeapot) {
		t.Errorf("unexpected fields %v", fields)
	}
}

func TestMiddlewareGeneratesRequestID(t *testing.T) {
	observe(t)

	h := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("expected a generated request id")
	}
}

func TestNamedTagsComponent(t *testing.T) {
	logs := observe(t)

	Named("relay").Warn("dropped", zap.String("channel", "c"))

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected one entry, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["component"] != "relay" || fields["channel"] != "c" {
		t.Errorf("unexpected fields %v", fields)
	}
}
