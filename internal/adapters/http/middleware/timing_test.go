package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"kafer/internal/adapters/http/perf"
)

func TestTiming_RecordsEntry(t *testing.T) {
	collector := perf.NewCollector(100)
	handler := Timing(collector)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest("GET", "/missing", nil))

	if rr.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rr.Code)
	}
	if collector.TotalRecorded() != 1 {
		t.Errorf("TotalRecorded = %d, want 1", collector.TotalRecorded())
	}
	if rr.Header().Get(RequestIDHeader) == "" {
		t.Error("response carries no request id")
	}
}

func TestTiming_SkipsHealthProbe(t *testing.T) {
	collector := perf.NewCollector(100)
	handler := Timing(collector)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest("GET", "/healthz", nil))

	if collector.TotalRecorded() != 0 {
		t.Errorf("TotalRecorded = %d, want 0 (health probe excluded)", collector.TotalRecorded())
	}
}

func TestTiming_EchoesRequestID(t *testing.T) {
	handler := Timing(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest("GET", "/api/me", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if got := rr.Header().Get(RequestIDHeader); got != "abc-123" {
		t.Errorf("%s = %q, want abc-123", RequestIDHeader, got)
	}
}

// The mux pattern, not the concrete path, labels the entry.
func TestTiming_LabelsByRoutePattern(t *testing.T) {
	collector := perf.NewCollector(10)
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/admin/refunds/{code}/approve", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	})
	handler := Timing(collector)(mux)

	for _, code := range []string{"RF-1", "RF-2"} {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, httptest.NewRequest("POST", "/api/admin/refunds/"+code+"/approve", nil))
	}

	snap := collector.Snapshot(time.Now().Add(-time.Minute), 10)
	if len(snap.SlowestPaths) != 1 {
		t.Fatalf("SlowestPaths = %+v, want one route", snap.SlowestPaths)
	}
	if got := snap.SlowestPaths[0].Path; got != "POST /api/admin/refunds/{code}/approve" {
		t.Errorf("Path = %q", got)
	}
}

func TestTiming_HandlerPanicStillRecords(t *testing.T) {
	collector := perf.NewCollector(100)
	handler := Timing(collector)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected panic to propagate, got nil")
		}
		if collector.TotalRecorded() != 1 {
			t.Errorf("TotalRecorded = %d, want 1", collector.TotalRecorded())
		}
	}()
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/api/panic", nil))
}

// A pooled writer must not leak the previous request's status.
func TestTiming_PoolNoStateLeak(t *testing.T) {
	collector := perf.NewCollector(100)
	fail := Timing(collector)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	ok := Timing(collector)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))

	fail.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/api/fail", nil))
	rr := httptest.NewRecorder()
	ok.ServeHTTP(rr, httptest.NewRequest("GET", "/api/ok", nil))

	if rr.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rr.Code)
	}
}

func BenchmarkTiming(b *testing.B) {
	collector := perf.NewCollector(perf.DefaultRingSize)
	handler := Timing(collector)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	req := httptest.NewRequest("GET", "/api/bench", nil)

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		handler.ServeHTTP(httptest.NewRecorder(), req)
	}
}
