package main

import (
	"github.com/openctemio/scangate/internal/infra/http/handler"
	"github.com/openctemio/scangate/internal/infra/http/routes"
	"github.com/openctemio/scangate/internal/infra/postgres"
	"github.com/openctemio/scangate/internal/infra/redis"
	"github.com/openctemio/scangate/pkg/logger"
	"github.com/openctemio/scangate/pkg/validator"
)

// HandlerDeps contains dependencies needed to create handlers.
type HandlerDeps struct {
	Log         *logger.Logger
	Validator   *validator.Validator
	DB          *postgres.DB
	RedisClient *redis.Client
	Services    *Services
}

// NewHandlers creates the HTTP handlers.
func NewHandlers(deps *HandlerDeps) routes.Handlers {
	log := deps.Log
	svc := deps.Services

	return routes.Handlers{
		Health: handler.NewHealthHandler(
			handler.WithDatabase(deps.DB),
			handler.WithRedis(deps.RedisClient),
		),
		Webhook:   handler.NewWebhookHandler(svc.Ingress, log),
		Whitelist: handler.NewWhitelistHandler(svc.Whitelist, deps.Validator, log),
		Incident:  handler.NewIncidentHandler(svc.Incident, deps.Validator, log),
		Scan:      handler.NewScanHandler(svc.ScanQuery, svc.RepositoryScan, log),
	}
}
