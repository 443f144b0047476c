package middleware

import (
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"kafer/internal/adapters/http/perf"
)

// DefaultSlowRequestMs is the slow-request threshold unless
// KAFER_SLOW_REQUEST_MS overrides it. It includes the sheet round trip.
const DefaultSlowRequestMs = 3000

func slowRequestThreshold() float64 {
	if v := os.Getenv("KAFER_SLOW_REQUEST_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return float64(n)
		}
	}
	return DefaultSlowRequestMs
}

// RequestIDHeader is echoed on every response.
const RequestIDHeader = "X-Request-ID"

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

// WriteHeader captures the status code and delegates to the underlying ResponseWriter.
func (sw *statusWriter) WriteHeader(code int) {
	sw.status = code
	sw.ResponseWriter.WriteHeader(code)
}

var statusWriterPool = sync.Pool{
	New: func() any {
		return &statusWriter{}
	},
}

// Timing logs request duration and records it in collector (which may be nil).
// The health probe is excluded. Normal requests log at DEBUG; slow ones at WARN.
func Timing(collector *perf.Collector) func(http.Handler) http.Handler {
	threshold := slowRequestThreshold()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			path := r.URL.Path
			if path == "/healthz" {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			reqID := r.Header.Get(RequestIDHeader)
			if reqID == "" || len(reqID) > 64 {
				reqID = uuid.NewString()
			}
			w.Header().Set(RequestIDHeader, reqID)

			sw := statusWriterPool.Get().(*statusWriter)
			sw.ResponseWriter = w
			sw.status = http.StatusOK
			defer func() {
				durationMs := float64(time.Since(start).Microseconds()) / 1000.0
				level := slog.LevelDebug
				msg := "request"
				if durationMs >= threshold {
					level, msg = slog.LevelWarn, "slow_request"
				}
				slog.Log(r.Context(), level, msg,
					"request_id", reqID,
					"method", r.Method,
					"path", path,
					"status", sw.status,
					"duration_ms", durationMs,
				)
				collector.Record(perf.Entry{
					Kind:       perf.KindRequest,
					Path:       r.Method + " " + routeLabel(r),
					StatusCode: sw.status,
					DurationMs: durationMs,
					Timestamp:  start,
				})

				sw.ResponseWriter = nil
				statusWriterPool.Put(sw)
			}()

			next.ServeHTTP(sw, r)
		})
	}
}

// routeLabel prefers the pattern the mux matched so path parameters do not
// split the perf table. Timing must wrap the mux directly for r.Pattern to be set.
func routeLabel(r *http.Request) string {
	if r.Pattern == "" {
		return r.URL.Path
	}
	if _, path, ok := strings.Cut(r.Pattern, " "); ok {
		return path
	}
	return r.Pattern
}
