package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
	"github.com/ulule/limiter/v3"

	"github.com/ibero-data/licensor/internal/auth"
	"github.com/ibero-data/licensor/internal/config"
	"github.com/ibero-data/licensor/internal/database"
	"github.com/ibero-data/licensor/internal/licensing"
	"github.com/ibero-data/licensor/internal/metrics"
	"github.com/ibero-data/licensor/internal/payment"
	"github.com/ibero-data/licensor/internal/settings"
	"github.com/ibero-data/licensor/internal/trials"
)

// Deps are the long-lived collaborators the handlers share. They are built
// once at startup and never mutated by handlers.
type Deps struct {
	Config   *config.Config
	DB       *database.DB
	Licenses *licensing.Store
	Trials   *trials.Store
	Payments payment.Authority
	Admins   *auth.Store
	Auth     *auth.Auth
	Settings *settings.Service
	Metrics  *metrics.Metrics
	Limiter  *limiter.Limiter
	Logger   zerolog.Logger
}

// NewRouter creates the HTTP router
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(deps.Logger)...)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   deps.Config.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Requested-With", "Authorization"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	authMiddleware := auth.NewMiddleware(deps.Auth)

	h := &Handlers{
		cfg:      deps.Config,
		db:       deps.DB,
		licenses: deps.Licenses,
		trials:   deps.Trials,
		payments: deps.Payments,
		admins:   deps.Admins,
		auth:     deps.Auth,
		settings: deps.Settings,
		metrics:  deps.Metrics,
		logger:   deps.Logger.With().Str("component", "api").Logger(),
	}

	r.Get("/health", h.Health)
	r.Get("/api/version", h.GetVersion)
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics.Handler())
	}

	// ========== Client endpoints ==========
	r.Group(func(r chi.Router) {
		r.Use(RateLimit(deps.Limiter))

		r.Post("/check_user", h.CheckUser)
		r.Post("/validate", h.Validate)
		r.Post("/submit_user_data", h.SubmitUserData)
		r.Get("/generate_license", h.GenerateLicense)
		r.Get("/initdb", h.InitDB)

		r.Get("/get-amount", h.GetAmount)
		r.Post("/create-order", h.CreateOrder)
		r.Post("/capture-order", h.CaptureOrder)

		r.Post("/update_free_trial", h.UpdateFreeTrial)
		r.Post("/free_trial_count", h.FreeTrialCount)
	})

	// ========== Admin API ==========
	r.Route("/api/admin", func(r chi.Router) {
		r.With(RateLimit(deps.Limiter)).Post("/login", h.Login)
		r.Post("/logout", h.Logout)

		r.Group(func(r chi.Router) {
			r.Use(authMiddleware.RequireAdmin)
			r.Get("/me", h.GetCurrentAdmin)
			r.Get("/licenses", h.ListLicenses)
			r.Post("/licenses", h.CreateLicense)
			r.Get("/licenses/{key}", h.GetLicense)
			r.Get("/stats", h.GetStats)
			r.Get("/settings", h.GetSettings)
		})
	})

	return r
}
