package middleware

import (
	"errors"
	"net/http"
	"runtime/debug"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/fleetops/driver-ledger/internal/pkg/logger"
	"github.com/fleetops/driver-ledger/internal/pkg/metrics"
	"github.com/fleetops/driver-ledger/internal/pkg/response"
)

// Recover turns a handler panic into a 500 and counts it per route. A panic
// after the handler started writing only closes the response, and
// http.ErrAbortHandler is passed through for net/http to handle.
func Recover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if err, ok := rec.(error); ok && errors.Is(err, http.ErrAbortHandler) {
				panic(rec)
			}

			route := metrics.RoutePattern(r)
			metrics.PanicsRecovered.WithLabelValues(route).Inc()
			logger.FromContext(r.Context()).Error().
				Interface("panic", rec).
				Str("stack", string(debug.Stack())).
				Str("method", r.Method).
				Str("route", route).
				Bool("response_started", ww.Status() != 0).
				Msg("Panic recovered")

			if ww.Status() == 0 {
				response.InternalError(ww)
			}
		}()

		next.ServeHTTP(ww, r)
	})
}
