package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/spherical/deck-session/internal/observability"
	"github.com/spherical/deck-session/internal/session"
)

// RouterConfig holds HTTP surface settings.
type RouterConfig struct {
	RenderDPI      float64
	MaxUploadBytes int64
}

// NewRouter creates the API router with all routes configured.
func NewRouter(logger *observability.Logger, manager *session.Manager, cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(requestLogger(logger))
	r.Use(chimiddleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"healthy","service":"deck-session"}`))
	})

	documents := NewDocumentHandler(logger, manager, cfg.RenderDPI, cfg.MaxUploadBytes)

	r.Route("/api/v1/document", func(r chi.Router) {
		r.Get("/", documents.Get)
		r.Post("/", documents.Load)
		r.Delete("/", documents.Reset)
		r.Get("/source", documents.Source)
		r.Get("/pages/{page}", documents.Page)
	})

	return r
}

// requestLogger logs one line per request through the service logger.
func requestLogger(logger *observability.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()

			next.ServeHTTP(ww, r)

			logger.Info().
				Str("request_id", chimiddleware.GetReqID(r.Context())).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Int("bytes", ww.BytesWritten()).
				Dur("elapsed", time.Since(start)).
				Msg("HTTP request")
		})
	}
}
