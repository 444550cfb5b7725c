package gate

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"consulate/internal/audit"
	"consulate/internal/ratelimit"
)

// Tier pairs a limiter (which owns the window) with its request budget.
type Tier struct {
	Limiter ratelimit.Limiter
	Limit   int
}

type RateLimitGate struct {
	Tiers  map[RateTier]Tier
	Audit  *audit.Emitter
	Logger *slog.Logger
	now    func() time.Time
}

func NewRateLimitGate(tiers map[RateTier]Tier, emitter *audit.Emitter, logger *slog.Logger) *RateLimitGate {
	if logger == nil {
		logger = slog.Default()
	}
	return &RateLimitGate{Tiers: tiers, Audit: emitter, Logger: logger, now: time.Now}
}

func (g *RateLimitGate) Name() string { return "ratelimit" }

// RateKey builds the counter key: per principal when authenticated,
// otherwise per caller IP.
func RateKey(tier RateTier, p *Principal, ip string) string {
	if p != nil {
		return string(tier) + ":user:" + p.ID
	}
	return string(tier) + ":ip:" + ip
}

func (g *RateLimitGate) Evaluate(ctx context.Context, ev *Evaluation) error {
	tierName := ev.Request.Route.RateTier
	if tierName == TierNone {
		return nil
	}
	tier, ok := g.Tiers[tierName]
	if !ok || tier.Limiter == nil {
		return nil
	}

	key := RateKey(tierName, ev.Principal, ev.Request.IP)
	d := tier.Limiter.Allow(ctx, key, tier.Limit)
	ev.RateLimit = &d
	if d.Allowed {
		return nil
	}

	retry := int(d.RetryAfter(g.now()).Round(time.Second) / time.Second)
	if retry < 1 {
		retry = 1
	}
	g.Logger.WarnContext(ctx, "rate limit exceeded",
		"request_id", ev.Request.CorrelationID,
		"key", key,
		"path", ev.Request.Path,
		"count", d.Count,
		"limit", d.Limit,
	)

	e := audit.Event{
		Action:     "rate_limit.exceeded",
		Resource:   "route",
		Method:     ev.Request.Method,
		Endpoint:   ev.Request.Path,
		IP:         ev.Request.IP,
		UserAgent:  ev.Request.UserAgent,
		StatusCode: KindRateLimitExceeded.Status(),
		Category:   audit.CategoryRateLimit,
		Severity:   audit.SeverityWarning,
		Metadata:   map[string]any{"tier": string(tierName), "limit": d.Limit},
	}
	if ev.Principal != nil {
		e.PrincipalID = ev.Principal.ID
	}
	if ev.Tenant != nil {
		e.TenantID = ev.Tenant.ID
	}
	g.Audit.Emit(ctx, e)

	gerr := newError(KindRateLimitExceeded, "Too many requests, please try again later").
		withDebug("tier", string(tierName))
	gerr.Headers = map[string]string{
		"Retry-After":           strconv.Itoa(retry),
		"X-RateLimit-Limit":     strconv.Itoa(d.Limit),
		"X-RateLimit-Remaining": "0",
	}
	return gerr
}
