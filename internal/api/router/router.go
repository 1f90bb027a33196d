package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wolfman30/haulops-crm/internal/calendar"
	"github.com/wolfman30/haulops-crm/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/haulops-crm/internal/http/middleware"
	"github.com/wolfman30/haulops-crm/pkg/logging"
)

// Config holds router configuration
type Config struct {
	Logger         *logging.Logger
	AutoReply      *handlers.AutoReplyHandler
	Audit          *handlers.AuditHandler
	CalendarHook   *calendar.WebhookHandler
	MetricsHandler http.Handler
	HealthChecks   map[string]handlers.Pinger

	// InternalToken protects /internal routes; empty disables the check.
	InternalToken string
	// InternalRateLimit is requests per second per client; zero disables it.
	InternalRateLimit float64
	InternalBurst     int
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	// Public endpoints (webhooks, health checks)
	r.Group(func(public chi.Router) {
		public.Get("/health", handlers.Health(cfg.HealthChecks))
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
		if cfg.CalendarHook != nil {
			public.Post("/api/calendar/webhook", cfg.CalendarHook.ServeHTTP)
		}
	})

	r.Route("/internal", func(internal chi.Router) {
		internal.Use(httpmiddleware.RateLimit(cfg.InternalRateLimit, cfg.InternalBurst))
		internal.Use(requireInternalToken(cfg.InternalToken))

		if cfg.AutoReply != nil {
			internal.Get("/auto-reply/stats", cfg.AutoReply.Stats)
			internal.Post("/auto-reply/{messageID}", cfg.AutoReply.Trigger)
		}
		if cfg.Audit != nil {
			internal.Get("/audit-events", cfg.Audit.List)
		}
	})

	return r
}
