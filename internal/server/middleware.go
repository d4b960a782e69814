package server

import (
	"net/http"

	"github.com/signalsfoundry/terrainview/internal/logging"
)

// RequestIDHeader carries the request ID in both directions.
const RequestIDHeader = "X-Request-ID"

// requestLogger propagates a caller-supplied X-Request-ID (or mints one),
// echoes it on the response and stores a request-scoped logger in the
// request context.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if id := r.Header.Get(RequestIDHeader); id != "" {
			ctx = logging.ContextWithRequestID(ctx, id)
		}
		ctx, log := logging.WithRequestLogger(ctx, s.log.With(
			logging.String("method", r.Method),
			logging.String("route", routeTemplate(r)),
		))
		ctx = logging.ContextWithLogger(ctx, log)
		w.Header().Set(RequestIDHeader, logging.RequestIDFromContext(ctx))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
