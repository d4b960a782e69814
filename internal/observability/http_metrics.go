package observability

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"
)

// RouteNamer returns the route template used as the metrics label for r.
type RouteNamer func(r *http.Request) string

// Middleware records request counts and durations for every request passing
// through next.
func (c *TargetingCollector) Middleware(route RouteNamer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			if c == nil {
				return
			}
			name := "unknown"
			if route != nil {
				if n := route(r); n != "" {
					name = n
				}
			}
			if c.HTTPRequests != nil {
				c.HTTPRequests.WithLabelValues(name, r.Method, strconv.Itoa(rec.status)).Inc()
			}
			if c.HTTPDurations != nil {
				c.HTTPDurations.WithLabelValues(name, r.Method).Observe(time.Since(start).Seconds())
			}
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Hijack passes through to the underlying writer so websocket upgrades work
// behind the middleware.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}
