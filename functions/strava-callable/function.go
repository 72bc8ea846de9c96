package stravacallable

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/trailblazerplus/server/pkg/bootstrap"
	"github.com/trailblazerplus/server/pkg/framework"
)

const serviceName = "strava-callable"

var (
	svc     *bootstrap.Service
	router  http.Handler
	svcOnce sync.Once
	svcErr  error
)

func init() {
	functions.HTTP("StravaCallable", StravaCallable)
}

func initService(ctx context.Context) (*bootstrap.Service, error) {
	svcOnce.Do(func() {
		baseSvc, err := bootstrap.NewService(ctx, serviceName)
		if err != nil {
			slog.Error("Failed to initialize service", "error", err)
			svcErr = err
			return
		}
		svc = baseSvc
		router = newRouter(baseSvc.API().Routes(), baseSvc.Config.AllowedOrigins)
	})
	return svc, svcErr
}

// StravaCallable serves the client callables behind one HTTPS function.
func StravaCallable(w http.ResponseWriter, r *http.Request) {
	svc, err := initService(r.Context())
	if err != nil {
		http.Error(w, "Service unavailable", http.StatusInternalServerError)
		return
	}
	framework.WrapHTTP(serviceName, svc, callableHandler(router))(w, r)
}

func newRouter(routes http.Handler, allowedOrigins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type", "Accept-Language"},
		MaxAge:         3600,
	}))
	r.Mount("/", routes)
	return r
}

func callableHandler(h http.Handler) framework.HTTPHandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, fwCtx *framework.FrameworkContext) {
		// Functions are invoked under their own name; strip it so the
		// router sees the same paths as the standalone server.
		if rest, ok := strings.CutPrefix(r.URL.Path, "/StravaCallable"); ok {
			r.URL.Path = rest
			if r.URL.Path == "" {
				r.URL.Path = "/"
			}
		}
		h.ServeHTTP(w, r)
	}
}
