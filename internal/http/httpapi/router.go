package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"skyforge/internal/http/handlers"
	"skyforge/internal/infra"
	"skyforge/internal/middleware"
)

// Options configures the router's middleware.
type Options struct {
	Logger    infra.Logger
	JWTSecret string
	// AllowHeaderAuth accepts the requester header in place of a token.
	AllowHeaderAuth bool
	CORSOrigins     []string
	RateLimitPerMin int
	// StaticDir serves filesystem-stored assets under /static when set.
	StaticDir string
}

func NewRouter(app *handlers.App, opts Options) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Logger(opts.Logger),
		middleware.CORS(opts.CORSOrigins),
	)

	r.Get("/v1/healthz", app.Health)
	r.Get("/v1/openapi.json", app.OpenAPIJSON)
	r.Get("/v1/docs", app.OpenAPIDocs)
	r.Get("/v1/assets/proxy", app.AssetProxy)

	if opts.StaticDir != "" {
		fs := http.StripPrefix("/static/", http.FileServer(http.Dir(opts.StaticDir)))
		r.Get("/static/*", fs.ServeHTTP)
	}

	r.Route("/v1/generations", func(r chi.Router) {
		r.Use(middleware.AuthJWT(opts.JWTSecret, opts.AllowHeaderAuth))

		limited := middleware.RateLimit(opts.RateLimitPerMin, time.Minute)
		r.With(limited).Post("/", app.CreateGeneration)
		r.Get("/{id}", app.GetGeneration)
		r.Post("/{id}/cancel", app.CancelGeneration)
		r.With(limited).Post("/{id}/retry", app.RetryGeneration)
		r.Get("/{id}/progress", app.GetProgress)
		r.Get("/{id}/events", app.StreamEvents)
		r.Get("/{id}/bundle", app.DownloadBundle)
	})

	return r
}
