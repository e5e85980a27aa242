package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"imageworker/internal/http/handlers"
	"imageworker/internal/infra"
	"imageworker/internal/middleware"
)

// RouterOptions tunes the invocation routes.
type RouterOptions struct {
	// MaxInFlight caps concurrent invocations; zero means unlimited.
	MaxInFlight int
	// RetryAfter is the hint, in seconds, sent with 429 responses.
	RetryAfter int
}

func NewRouter(app *handlers.App, opts RouterOptions, logger *infra.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Logger(*infra.LoggerOrDiscard(logger)),
	)

	r.Get("/healthz", app.Health)
	r.Get("/variants", app.ListVariants)

	r.Group(func(r chi.Router) {
		r.Use(middleware.InFlight(opts.MaxInFlight, opts.RetryAfter))
		r.Post("/runsync", app.RunSync)
		r.Post("/run", app.Run)
	})

	return r
}
