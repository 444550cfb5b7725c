package gate

import (
	"context"
	"log/slog"
)

// IsolationGate re-checks that a non-privileged principal acts inside its
// home tenant, whatever the resolver attached.
type IsolationGate struct {
	Logger *slog.Logger
}

func NewIsolationGate(logger *slog.Logger) *IsolationGate {
	if logger == nil {
		logger = slog.Default()
	}
	return &IsolationGate{Logger: logger}
}

func (g *IsolationGate) Name() string { return "isolation" }

func (g *IsolationGate) Evaluate(ctx context.Context, ev *Evaluation) error {
	p := ev.Principal
	if p == nil || p.Privileged() || p.HomeTenantID == "" || ev.Tenant == nil {
		return nil
	}
	home := NormalizeID(p.HomeTenantID)
	if ev.Tenant.ID == home {
		return nil
	}

	g.Logger.WarnContext(ctx, "cross-tenant access blocked",
		"request_id", ev.Request.CorrelationID,
		"principal_id", p.ID,
		"home_tenant_id", home,
		"tenant_id", ev.Tenant.ID,
		"path", ev.Request.Path,
	)
	return newError(KindCrossTenantAccessDenied, "Cross-tenant access denied").
		withDebug("home_tenant_id", home).
		withDebug("tenant_id", ev.Tenant.ID)
}
