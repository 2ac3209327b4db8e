package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/mssola/useragent"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
)

// requestLogger attaches logger to each request context and writes one
// access line per request once the response is done.
func requestLogger(logger zerolog.Logger) []func(http.Handler) http.Handler {
	return []func(http.Handler) http.Handler{
		hlog.NewHandler(logger),
		hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
			level := zerolog.InfoLevel
			if status >= http.StatusInternalServerError {
				level = zerolog.ErrorLevel
			}
			ev := hlog.FromRequest(r).WithLevel(level)

			ua := useragent.New(r.UserAgent())
			browser, _ := ua.Browser()

			ev.
				Str("request_id", middleware.GetReqID(r.Context())).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Str("remote_ip", r.RemoteAddr).
				Int("status", status).
				Int("size", size).
				Dur("duration", duration).
				Str("browser", browser).
				Str("os", ua.OS()).
				Bool("bot", ua.Bot()).
				Msg("request")
		}),
	}
}
