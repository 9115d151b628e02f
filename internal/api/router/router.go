package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/irgordon/slipway/internal/api/handlers"
	"github.com/irgordon/slipway/internal/api/middleware"
)

// Config collects everything the router wires together.
type Config struct {
	AllowedOrigins []string

	Auth        *middleware.AuthMiddleware
	AuthHandler *handlers.AuthHandler
	Projects    *handlers.ProjectHandler
	Servers     *handlers.ServerHandler
	Deployments *handlers.DeploymentHandler
	SSE         *handlers.SSEHandler
	WS          *handlers.WSHandler
	AuditLog    *handlers.AuditHandler
}

func New(cfg Config) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(middleware.Metrics())
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(cfg.Auth.RateLimit)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/login", cfg.AuthHandler.Login)

		r.Group(func(r chi.Router) {
			r.Use(cfg.Auth.RequireAuthentication)

			r.Get("/auth/me", cfg.AuthHandler.Me)

			// Streaming endpoints are exempt from the request timeout.
			r.Get("/deployments/{id}/logs", cfg.SSE.Stream)
			r.Get("/deployments/{id}/logs/ws", cfg.WS.Stream)

			r.Group(func(r chi.Router) {
				r.Use(chimw.Timeout(60 * time.Second))

				r.Get("/projects", cfg.Projects.List)
				r.Get("/projects/{id}", cfg.Projects.Get)
				r.Get("/projects/{id}/branches", cfg.Projects.Branches)
				r.Get("/servers", cfg.Servers.List)
				r.Get("/servers/{id}", cfg.Servers.Get)
				r.Get("/server-groups", cfg.Servers.ListGroups)
				r.Get("/server-groups/{id}", cfg.Servers.GetGroup)
				r.Get("/deployments", cfg.Deployments.List)
				r.Get("/deployments/{id}", cfg.Deployments.Get)

				r.Group(func(r chi.Router) {
					r.Use(cfg.Auth.RequireOperator)

					r.Post("/projects", cfg.Projects.Create)
					r.Put("/projects/{id}", cfg.Projects.Update)
					r.Delete("/projects/{id}", cfg.Projects.Delete)

					r.Post("/servers", cfg.Servers.Create)
					r.Put("/servers/{id}", cfg.Servers.Update)
					r.Delete("/servers/{id}", cfg.Servers.Delete)
					r.Post("/servers/{id}/test", cfg.Servers.Test)

					r.Post("/server-groups", cfg.Servers.CreateGroup)
					r.Put("/server-groups/{id}", cfg.Servers.UpdateGroup)
					r.Delete("/server-groups/{id}", cfg.Servers.DeleteGroup)

					r.Post("/deployments", cfg.Deployments.Create)
					r.Post("/deployments/upload", cfg.Deployments.Upload)
					r.Delete("/deployments/{id}", cfg.Deployments.Cancel)
					r.Post("/deployments/{id}/rollback", cfg.Deployments.Rollback)
				})

				r.Group(func(r chi.Router) {
					r.Use(cfg.Auth.RequireAdmin)

					r.Post("/users", cfg.AuthHandler.CreateUser)
					r.Get("/users", cfg.AuthHandler.ListUsers)
					r.Get("/audit-logs", cfg.AuditLog.List)
				})
			})
		})
	})

	return r
}
