package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMiddlewareCountsStatus(t *testing.T) {
	counter := httpRequestsTotal.WithLabelValues("PROPFIND", "207")
	before := testutil.ToFloat64(counter)

	h := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusMultiStatus)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("PROPFIND", "/webdav/", nil))

	if got := testutil.ToFloat64(counter) - before; got != 1 {
		t.Errorf("expected one counted request, got %v", got)
	}
}

func TestRecordHelpers(t *testing.T) {
	tests := []struct {
		name   string
		record func()
		value  func() float64
	}{
		{
			name:   "broadcast drop",
			record: func() { RecordBroadcast("dropped") },
			value:  func() float64 { return testutil.ToFloat64(broadcastMessagesTotal.WithLabelValues("dropped")) },
		},
		{
			name:   "cache hit",
			record: func() { RecordCacheLookup("json", true) },
			value:  func() float64 { return testutil.ToFloat64(cacheLookupsTotal.WithLabelValues("json", "hit")) },
		},
		{
			name:   "fetch failure",
			record: func() { RecordFetch("text", "asset", time.Millisecond, false) },
			value:  func() float64 { return testutil.ToFloat64(fetchesTotal.WithLabelValues("text", "asset", "error")) },
		},
		{
			name:   "rejected package",
			record: func() { RecordPackageRejected("types_shadowed") },
			value:  func() float64 { return testutil.ToFloat64(packagesRejectedTotal.WithLabelValues("types_shadowed")) },
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := tt.value()
			tt.record()
			if got := tt.value() - before; got != 1 {
				t.Errorf("expected increment of 1, got %v", got)
			}
		})
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	RecordVFSOperation("stat", "file")

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if !strings.Contains(rec.Body.String(), "cdnfs_vfs_operations_total") {
		t.Error("expected cdnfs_vfs_operations_total in exposition")
	}
}
