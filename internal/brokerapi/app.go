// Package brokerapi is the broker's HTTP surface: tenant registration and
// catalog management plus the per-tenant authentication endpoints backed by
// the federation broker.
package brokerapi

import (
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"canopy/internal/federation"
	"canopy/internal/session"
	"canopy/internal/setuptoken"
	"canopy/pkg/config"
	"canopy/pkg/middleware"
	"canopy/pkg/tenants"
)

// App is the broker application container. Handlers are methods on this
// type; shared deps and config only, request-scoped work uses context.
type App struct {
	log      *zap.SugaredLogger
	cfg      config.Config
	store    tenants.Store
	broker   *federation.Broker
	sessions *session.Manager
	tokens   *setuptoken.Issuer
	limiter  *middleware.RateLimiter
}

func New(log *zap.SugaredLogger, cfg config.Config, store tenants.Store, tokenStore setuptoken.Store, rdb *redis.Client) *App {
	sessions := session.NewManager(cfg.SessionKey, cfg.SessionTTL, cfg.Env != "dev")
	return &App{
		log:      log,
		cfg:      cfg,
		store:    store,
		broker:   federation.NewBroker(log, cfg, store, sessions),
		sessions: sessions,
		tokens:   setuptoken.NewIssuer(tokenStore),
		limiter:  middleware.NewRateLimiter(log, rdb, cfg.RegisterLimit, cfg.RegisterWindow),
	}
}
