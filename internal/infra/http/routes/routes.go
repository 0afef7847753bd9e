// Package routes registers the HTTP routes of the webhook and admin APIs.
package routes

import (
	"github.com/prometheus/client_golang/prometheus/promhttp"

	infrahttp "github.com/openctemio/scangate/internal/infra/http"
	"github.com/openctemio/scangate/internal/infra/http/handler"
	"github.com/openctemio/scangate/internal/infra/http/middleware"
)

// Middleware is an alias to the http package's Middleware type.
type Middleware = infrahttp.Middleware

// Router is an alias to the http package's Router interface.
type Router = infrahttp.Router

// Handlers holds all HTTP handlers for route registration.
type Handlers struct {
	Health    *handler.HealthHandler
	Webhook   *handler.WebhookHandler
	Whitelist *handler.WhitelistHandler
	Incident  *handler.IncidentHandler
	Scan      *handler.ScanHandler
}

// WebhookGuards are applied to the public webhook route in order.
type WebhookGuards struct {
	MaxBodySize int64
	RateLimit   Middleware
}

// Register registers all application routes.
func Register(router Router, h Handlers, guards WebhookGuards, adminAuth *middleware.AdminAuth) {
	router.GET("/health", h.Health.Health)
	router.GET("/ready", h.Health.Ready)
	router.GET("/metrics", promhttp.Handler().ServeHTTP)

	webhookChain := []Middleware{
		middleware.Decompress(nil),
		middleware.BodyLimit(guards.MaxBodySize),
	}
	if guards.RateLimit != nil {
		webhookChain = append(webhookChain, guards.RateLimit)
	}
	router.POST("/webhook/{vcType}/{vcID}", h.Webhook.Receive, webhookChain...)

	router.Group("/api/v1", func(r Router) {
		registerWhitelistRoutes(r, h.Whitelist)
		registerIncidentRoutes(r, h.Incident)
		registerScanRoutes(r, h.Scan)
	}, adminAuth.Authenticate, middleware.BodyLimit(1<<20))
}

func registerWhitelistRoutes(r Router, h *handler.WhitelistHandler) {
	r.Group("/whitelists", func(r Router) {
		r.GET("/", h.List)
		r.POST("/", h.Create)
		r.GET("/{id}", h.Get)
		r.PATCH("/{id}", h.Update)
		r.POST("/{id}/comments", h.AddComment)
	})
}

func registerIncidentRoutes(r Router, h *handler.IncidentHandler) {
	r.Group("/incidents", func(r Router) {
		r.GET("/{id}", h.Get)
		r.PATCH("/{id}/status", h.UpdateStatus)
		r.POST("/{id}/comments", h.AddComment)
	})
}

func registerScanRoutes(r Router, h *handler.ScanHandler) {
	r.GET("/scans/{target}/{id}", h.Get)
	r.GET("/repository-scans/{id}", h.GetRepositoryScan)
	r.POST("/vcs/{vcID}/scans", h.TriggerVC)
	r.POST("/repositories/{repoID}/scans", h.TriggerRepository)
}
