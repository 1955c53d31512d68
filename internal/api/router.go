// Package api provides the local HTTP API of a crossnotify device.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/crossnotify/crossnotify/internal/api/handler"
	"github.com/crossnotify/crossnotify/internal/api/middleware"
	"github.com/crossnotify/crossnotify/internal/auth"
	"github.com/crossnotify/crossnotify/internal/intelligence"
	"github.com/crossnotify/crossnotify/internal/preferences"
	"github.com/crossnotify/crossnotify/internal/relay"
	"github.com/crossnotify/crossnotify/internal/routing"
)

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	Version   string
	BuildTime string
	Logger    zerolog.Logger

	// DeviceID tags every request span. Optional.
	DeviceID string

	// RequireTLS rejects requests forwarded over plain HTTP.
	RequireTLS bool

	// AllowedOrigins lists browser origins of local UIs allowed to call
	// the API. Empty disables CORS.
	AllowedOrigins []string

	Metrics      *middleware.Metrics
	AuthService  *auth.Service
	Relay        *relay.Service
	Router       *routing.Service
	Intelligence *intelligence.Service
	Preferences  *preferences.Engine

	// Stream serves GET /v1/stream. Optional.
	Stream http.Handler

	// Probes are extra readiness checks.
	Probes []handler.Probe
}

// NewRouter creates a new chi router with all API routes configured.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware - order matters
	r.Use(middleware.RequestID) // Generate/propagate request ID first
	if len(cfg.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: cfg.AllowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", middleware.RequestIDHeader},
			ExposedHeaders: []string{middleware.RequestIDHeader, "Location", "Retry-After"},
			MaxAge:         300,
		}))
	}
	r.Use(middleware.Tracing(cfg.DeviceID)) // Distributed tracing
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Middleware()) // HTTP metrics
	}
	r.Use(middleware.Logger(cfg.Logger))         // Structured logging
	r.Use(middleware.Recovery(cfg.Logger))       // Panic recovery
	r.Use(chimiddleware.RealIP)                  // Real IP extraction
	r.Use(middleware.SecurityHeaders)            // Security headers (HSTS, CSP, etc.)
	r.Use(middleware.RequireTLS(cfg.RequireTLS)) // TLS enforcement
	r.Use(middleware.ContentTypeJSON)            // JSON content type

	opsHandler := handler.NewOpsHandler(cfg.Version, cfg.BuildTime, cfg.Relay, cfg.Probes...)
	deviceHandler := handler.NewDeviceHandler(cfg.Relay, cfg.AuthService)
	notificationHandler := handler.NewNotificationHandler(cfg.Relay)
	routingHandler := handler.NewRoutingHandler(cfg.Router)
	intelligenceHandler := handler.NewIntelligenceHandler(cfg.Intelligence)
	preferencesHandler := handler.NewPreferencesHandler(cfg.Preferences, cfg.Relay)

	authMiddleware := middleware.Auth(cfg.AuthService)

	registerRateLimit := middleware.RateLimitByIP(middleware.RegisterRateLimit)     // 10 req/min
	sendRateLimit := middleware.RateLimitByDevice(middleware.SendRateLimit)         // 60 req/min
	standardRateLimit := middleware.RateLimitByDevice(middleware.StandardRateLimit) // 300 req/min

	r.Route("/v1", func(r chi.Router) {
		// Ops endpoints (public)
		r.Route("/ops", func(r chi.Router) {
			r.Get("/health", opsHandler.HealthCheck)
			r.Get("/ready", opsHandler.ReadinessCheck)
		})

		if cfg.Stream != nil {
			r.Get("/stream", cfg.Stream.ServeHTTP)
		}

		r.Route("/devices", func(r chi.Router) {
			// Registration is how a device gets its token, so it is public.
			r.With(registerRateLimit, middleware.RequireJSON).Post("/", deviceHandler.RegisterDevice)

			r.Group(func(r chi.Router) {
				r.Use(authMiddleware)
				r.Use(standardRateLimit)
				r.Get("/", deviceHandler.ListDevices)
				r.Get("/current", deviceHandler.GetCurrentDevice)
				r.Delete("/current", deviceHandler.UnregisterDevice)
			})
		})

		// Everything else acts on behalf of a registered device.
		r.Group(func(r chi.Router) {
			r.Use(authMiddleware)
			r.Use(middleware.RequireJSON)

			r.Route("/notifications", func(r chi.Router) {
				r.With(sendRateLimit).Post("/", notificationHandler.SendNotification)
				r.With(sendRateLimit).Post("/{kind}", notificationHandler.SendKind)
				r.With(standardRateLimit).Post("/{notificationId}/ack", notificationHandler.Acknowledge)
				r.With(standardRateLimit).Get("/{notificationId}/deliveries", notificationHandler.ListDeliveries)
			})

			r.Route("/routing", func(r chi.Router) {
				r.With(standardRateLimit).Get("/mode", routingHandler.GetMode)
				r.With(standardRateLimit).Put("/mode", routingHandler.SetMode)
				r.With(standardRateLimit).Get("/devices", routingHandler.ListOnlineDevices)
				r.With(sendRateLimit).Post("/notifications", routingHandler.RouteNotification)
				r.With(sendRateLimit).Post("/notifications:urgent", routingHandler.RouteUrgentNotification)
				r.With(sendRateLimit).Post("/notifications:data", routingHandler.RouteDataNotification)
			})

			r.Route("/intelligence", func(r chi.Router) {
				r.Use(standardRateLimit)
				r.Post("/classify", intelligenceHandler.Classify)
				r.Post("/clear", intelligenceHandler.Clear)
				r.Post("/clearances:fetch", intelligenceHandler.FetchClearances)
				r.Get("/history", intelligenceHandler.ListHistory)
				r.Get("/apps/{appId}", intelligenceHandler.GetAppSettings)
				r.Put("/apps/{appId}", intelligenceHandler.PutAppSettings)
			})

			r.With(standardRateLimit).Get("/preferences", preferencesHandler.GetPreferences)
			r.With(standardRateLimit).Put("/preferences", preferencesHandler.PutPreferences)
			r.With(standardRateLimit).Post("/preferences:evaluate", preferencesHandler.Evaluate)
		})
	})

	return r
}
