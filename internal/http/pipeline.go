package http

import (
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"consulate/internal/audit"
	"consulate/internal/config"
	"consulate/internal/gate"
	"consulate/internal/metrics"
	"consulate/internal/ratelimit"
)

// GateDeps are the collaborators of the gate chain.
type GateDeps struct {
	Verifier gate.TokenVerifier
	Tenants  gate.TenantStore
	Owners   gate.OwnerStore
	Tiers    map[gate.RateTier]gate.Tier
	Audit    *audit.Emitter
	Metrics  *metrics.Metrics
}

// NewGatePipeline assembles the gates in their fixed order: principal,
// tenant, role, ownership, isolation, rate limit.
func NewGatePipeline(cfg *config.Config, deps GateDeps, logger *slog.Logger) *gate.Pipeline {
	tenants := gate.NewTenantResolver(deps.Tenants, deps.Audit, logger)
	tenants.BaseDomain = cfg.Tenancy.BaseDomain
	tenants.PublicPaths = cfg.Tenancy.PublicPaths

	p := gate.NewPipeline(
		gate.NewPrincipalResolver(deps.Verifier, logger),
		tenants,
		gate.NewRoleGate(gate.RoleTableFrom(Routes()), logger),
		gate.NewOwnershipGate(deps.Owners, deps.Audit, logger),
		gate.NewIsolationGate(logger),
		gate.NewRateLimitGate(deps.Tiers, deps.Audit, logger),
	)
	if deps.Metrics != nil {
		p = p.WithObserver(deps.Metrics)
	}
	return p
}

// RateTiers builds one limiter per configured tier. Counters live in Redis
// when client is non-nil and in process memory otherwise. A nil map
// disables rate limiting.
func RateTiers(cfg config.RateLimitConfig, client redis.Scripter, logger *slog.Logger) map[gate.RateTier]gate.Tier {
	if cfg.Disabled {
		return nil
	}
	build := func(t config.RateTierConfig) gate.Tier {
		window := time.Duration(t.WindowSeconds) * time.Second
		if client == nil {
			return gate.Tier{Limiter: ratelimit.NewInMemory(window), Limit: t.Limit}
		}
		rl := ratelimit.NewRedis(client, window)
		rl.Logger = logger
		return gate.Tier{Limiter: rl, Limit: t.Limit}
	}
	return map[gate.RateTier]gate.Tier{
		gate.TierAuth:    build(cfg.Auth),
		gate.TierGeneral: build(cfg.General),
		gate.TierBulk:    build(cfg.Bulk),
	}
}
