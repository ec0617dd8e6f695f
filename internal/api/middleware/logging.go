package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// Logger returns a request logging middleware using zerolog. Room slugs are
// collapsed out of the logged path, matching what the metrics middleware
// reports. A websocket upgrade hijacks the connection before any status is
// written; such requests are logged as 101 with the connection's lifetime
// as latency.
func Logger(logger zerolog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// Wrap response writer to capture status code
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				status := ww.Status()
				hijacked := status == 0
				if hijacked {
					status = http.StatusSwitchingProtocols
				}

				evt := logger.Info().
					Str("method", r.Method).
					Str("path", normalizePath(r.URL.Path)).
					Int("status", status).
					Int("bytes", ww.BytesWritten()).
					Dur("latency", time.Since(start)).
					Str("request_id", middleware.GetReqID(r.Context())).
					Str("remote_addr", r.RemoteAddr)
				if hijacked {
					evt = evt.Bool("websocket", true)
				}
				evt.Msg("request completed")
			}()

			next.ServeHTTP(ww, r)
		})
	}
}
