package server

import (
	"context"
	"log"
	"net/http"

	"github.com/cloo-solutions/deepresearch/internal/api"
	"github.com/cloo-solutions/deepresearch/internal/api/handlers"
	"github.com/cloo-solutions/deepresearch/internal/api/middleware"
	"github.com/go-chi/chi/v5"
)

const defaultMaxBodyBytes int64 = 64 * 1024

type RouterConfig struct {
	ResearchHandler *handlers.ResearchHandler
	// HealthCheck reports whether backing stores are reachable. Nil means
	// always healthy.
	HealthCheck  func(ctx context.Context) error
	MaxBodyBytes int64
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	maxBodyBytes := cfg.MaxBodyBytes
	if maxBodyBytes <= 0 {
		maxBodyBytes = defaultMaxBodyBytes
	}

	r.Use(middleware.RequestID)
	r.Use(middleware.SentryMiddleware)
	r.Use(middleware.AccessLog)
	r.Use(middleware.MaxBodyBytes(maxBodyBytes))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if cfg.HealthCheck != nil {
			if err := cfg.HealthCheck(r.Context()); err != nil {
				log.Printf("health: check failed: %v", err)
				api.Error(w, http.StatusServiceUnavailable, "unhealthy")
				return
			}
		}
		api.Success(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/research", func(r chi.Router) {
		r.Post("/", cfg.ResearchHandler.Submit)
		r.Get("/queue", cfg.ResearchHandler.Queue)
		r.Get("/events", cfg.ResearchHandler.Events)
		r.Get("/{id}", cfg.ResearchHandler.Get)
		r.Post("/{id}/cancel", cfg.ResearchHandler.Cancel)
		r.Get("/{id}/result", cfg.ResearchHandler.Result)
		r.Get("/{id}/report", cfg.ResearchHandler.Report)
	})

	return r
}
