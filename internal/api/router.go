package api

import (
	"log/slog"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/hugh/quanty/internal/analytics"
	"github.com/hugh/quanty/internal/api/handlers"
	"github.com/hugh/quanty/internal/api/middleware"
	"github.com/hugh/quanty/internal/auth"
	"github.com/hugh/quanty/internal/invitation"
	"github.com/hugh/quanty/internal/isolation"
	"github.com/hugh/quanty/internal/metrics"
	"github.com/hugh/quanty/internal/tables"
	"github.com/hugh/quanty/internal/tasks"
	"github.com/hugh/quanty/internal/workspace"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

type Router struct {
	chi.Router
}

type RouterConfig struct {
	DB      *gorm.DB
	Redis   *redis.Client
	Queue   handlers.QueueInspector // nil skips the task queue health check
	Logger  *slog.Logger
	Metrics *metrics.Metrics

	Resolver auth.IdentityResolver
	// AuthService enables local registration and login. It is nil when
	// identities come from an external provider.
	AuthService auth.Authenticator
	TokenExpiry time.Duration

	Directory   *workspace.Directory
	Invitations *invitation.Manager
	Filter      *isolation.Filter
	Builder     *tables.Builder
	Analytics   *analytics.Service

	Limiter        middleware.Limiter    // nil disables rate limiting
	CSRF           *middleware.CSRFStore // nil disables CSRF checks
	AllowedOrigins []string
	SecureCookies  bool
}

func NewRouter(cfg RouterConfig) *Router {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.Recovery(cfg.Logger))
	r.Use(middleware.Logging(cfg.Logger))
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Middleware)
	}

	// CORS - restrict to configured origins
	allowedOrigins := cfg.AllowedOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"http://localhost:3000", "http://localhost:8080"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token", "X-Auth-Token"},
		ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	healthHandler := handlers.NewHealthHandler(cfg.DB, cfg.Redis, cfg.Queue, tasks.QueueInvitations)
	authHandler := handlers.NewAuthHandler(cfg.AuthService, cfg.SecureCookies, cfg.TokenExpiry)
	workspaceHandler := handlers.NewWorkspaceHandler(cfg.Directory)
	invitationHandler := handlers.NewInvitationHandler(cfg.Invitations)
	tableHandler := handlers.NewTableHandler(cfg.Directory, cfg.Builder, cfg.Filter)
	analyticsHandler := handlers.NewAnalyticsHandler(cfg.Directory, cfg.Analytics)

	// Health endpoints (no auth required)
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)
	if cfg.Metrics != nil {
		r.Handle("/metrics", cfg.Metrics.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		if cfg.CSRF != nil {
			r.Use(middleware.CSRF(cfg.CSRF))
		}

		// Public auth endpoints
		r.Group(func(r chi.Router) {
			if cfg.Limiter != nil {
				r.Use(middleware.RateLimit(cfg.Limiter, cfg.Metrics))
			}
			if cfg.AuthService != nil {
				r.Post("/auth/register", authHandler.Register)
				r.Post("/auth/login", authHandler.Login)
			}
			r.Post("/auth/logout", authHandler.Logout)
		})

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(cfg.Resolver))
			if cfg.Limiter != nil {
				r.Use(middleware.RateLimit(cfg.Limiter, cfg.Metrics))
			}

			r.Get("/me", authHandler.Me)
			r.Post("/invitations/accept", invitationHandler.Accept)

			r.Route("/workspaces", func(r chi.Router) {
				r.Get("/", workspaceHandler.List)
				r.Post("/", workspaceHandler.Create)

				r.Route("/{workspaceID}", func(r chi.Router) {
					r.Get("/", workspaceHandler.Get)
					r.Patch("/", workspaceHandler.Update)
					r.Delete("/", workspaceHandler.Delete)
					r.Post("/transfer", workspaceHandler.TransferOwnership)
					r.Get("/audit", workspaceHandler.AuditLog)

					r.Get("/members", workspaceHandler.ListMembers)
					r.Put("/members/{userID}", workspaceHandler.ChangeMemberRole)
					r.Delete("/members/{userID}", workspaceHandler.RemoveMember)

					r.Get("/invitations", invitationHandler.ListPending)
					r.Post("/invitations", invitationHandler.Create)
					r.Delete("/invitations/{invitationID}", invitationHandler.Revoke)

					r.Route("/tables", func(r chi.Router) {
						r.Get("/", tableHandler.List)
						r.Post("/", tableHandler.Create)
						r.Post("/preview", tableHandler.Preview)

						r.Route("/{table}", func(r chi.Router) {
							r.Get("/", tableHandler.Metadata)
							r.Delete("/", tableHandler.Drop)
							r.Post("/rename", tableHandler.Rename)
							r.Post("/truncate", tableHandler.Truncate)
							r.Get("/changelog", tableHandler.Changelog)
							r.Post("/columns/{column}/rename", tableHandler.RenameColumn)
							r.Put("/columns/{column}/visibility", tableHandler.SetColumnVisibility)

							r.Get("/rows", tableHandler.ListRows)
							r.Post("/rows", tableHandler.InsertRow)
							r.Patch("/rows/{key}", tableHandler.UpdateRow)
							r.Delete("/rows/{key}", tableHandler.DeleteRow)
						})
					})

					r.Post("/analyze", analyticsHandler.Analyze)
					r.Post("/dashboard/execute-widget", analyticsHandler.ExecuteWidget)
					r.Post("/dashboard/execute-all", analyticsHandler.ExecuteAll)
				})
			})
		})
	})

	return &Router{r}
}
