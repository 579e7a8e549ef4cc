package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/sheikh-saqib/allowance-ledger/internal/api/handlers"
	"github.com/sheikh-saqib/allowance-ledger/internal/api/middleware"
	"github.com/sheikh-saqib/allowance-ledger/internal/models"
)

// RateLimit configures the redis limiter. A nil Client disables it.
type RateLimit struct {
	Client redis.UniversalClient
	Limit  int
	Window time.Duration
}

func (rl RateLimit) middleware(prefix string, log zerolog.Logger) func(http.Handler) http.Handler {
	if rl.Client == nil || rl.Limit <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	return middleware.RateLimiter(rl.Client, rl.Limit, rl.Window, rl.Window, prefix, log)
}

func NewRouter(h *handlers.Handler, tokens middleware.TokenParser, rl RateLimit, log zerolog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(log))
	r.Use(middleware.Recovery(log))
	r.Use(middleware.CORS)
	r.Use(chimw.Timeout(30 * time.Second))

	r.Get("/health", h.Health)

	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(rl.middleware("rl:auth", log))
			r.Post("/auth/register", h.Register)
			r.Post("/auth/login", h.Login)
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.Authenticate(tokens))
			r.Use(rl.middleware("rl:api", log))

			r.Get("/users/profile", h.Profile)
			r.Put("/users/profile", h.UpdateProfile)

			r.Route("/children", func(r chi.Router) {
				r.With(middleware.RequireRole(models.KindParent)).Get("/", h.ListChildren)
				r.With(middleware.RequireRole(models.KindParent)).Post("/", h.CreateChild)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", h.GetChild)
					r.Get("/transactions", h.Transactions)
					r.Post("/purchases", h.Purchase)

					r.Group(func(r chi.Router) {
						r.Use(middleware.RequireRole(models.KindParent))
						r.Put("/", h.UpdateChild)
						r.Delete("/", h.DeleteChild)
						r.Put("/spending-limit", h.SetSpendingLimit)
						r.Put("/active", h.SetActive)
						r.Post("/fund", h.Fund)
						r.Get("/reconcile", h.Reconcile)
					})
				})
			})
		})
	})

	return r
}
