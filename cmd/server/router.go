package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/trailblazerplus/server/pkg/bootstrap"
	"github.com/trailblazerplus/server/pkg/infrastructure/sentry"
)

// newRouter mounts the webhook, the callables and the operational endpoints.
func newRouter(svc *bootstrap.Service) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(sentry.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: svc.Config.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type", "Accept-Language"},
		MaxAge:         3600,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Handle("/strava/webhook", svc.Receiver())
	r.Mount("/", svc.API().Routes())

	return r
}
