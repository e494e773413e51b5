package daemon

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/hncpd/hncpd/pkg/hncp"
)

// Rate-limit defaults for the control API. The socket is local-only, so
// this guards against a runaway local client looping on the API, not
// against an attacker.
const (
	defaultRateLimit = rate.Limit(50) // requests per second
	defaultRateBurst = 100
)

// RateLimitHandler rejects requests beyond the limiter's budget with 429.
// A nil limiter disables limiting.
func RateLimitHandler(next http.Handler, limiter *rate.Limiter) http.Handler {
	if limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !limiter.Allow() {
			respondError(w, http.StatusTooManyRequests, "rate limit exceeded, retry later")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// statusRecorder wraps http.ResponseWriter to capture the status code.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

// InstrumentHandler wraps an HTTP handler with Prometheus metrics and audit
// logging. If both metrics and audit are nil, the handler is returned
// unchanged (zero overhead).
func InstrumentHandler(next http.Handler, metrics *hncp.Metrics, audit *AuditLogger) http.Handler {
	if metrics == nil && audit == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		duration := time.Since(start).Seconds()
		path := sanitizePath(r.URL.Path)
		status := strconv.Itoa(rec.status)

		if metrics != nil {
			metrics.DaemonRequestsTotal.WithLabelValues(r.Method, path, status).Inc()
			metrics.DaemonRequestDurationSeconds.WithLabelValues(r.Method, path, status).Observe(duration)
		}
		if audit != nil {
			audit.DaemonAPIAccess(r.Method, path, rec.status)
		}
	})
}

// sanitizePath replaces dynamic path segments with fixed labels to prevent
// high cardinality in Prometheus metrics. For example:
//
//	/v1/nodes/0102030405060708 -> /v1/nodes/:id
//	/v1/tlv/<uuid> -> /v1/tlv/:id
func sanitizePath(path string) string {
	parts := strings.Split(strings.TrimRight(path, "/"), "/")
	if len(parts) == 4 && parts[1] == "v1" {
		switch parts[2] {
		case "nodes", "tlv":
			return "/v1/" + parts[2] + "/:id"
		}
	}
	return path
}
