package gate

import (
	"context"
	"log/slog"
	"strings"
)

// RouteKey identifies a registered route by method and template.
type RouteKey struct {
	Method   string
	Template string
}

// RoleTable maps route keys to the roles allowed on them.
type RoleTable map[RouteKey][]Role

// RoleTableFrom builds a table from route policies that list roles.
func RoleTableFrom(routes []Route) RoleTable {
	t := make(RoleTable, len(routes))
	for _, r := range routes {
		if len(r.Roles) > 0 {
			t[r.Key()] = append([]Role(nil), r.Roles...)
		}
	}
	return t
}

// Allowed reports whether role may call key. Unmapped keys allow every role.
func (t RoleTable) Allowed(key RouteKey, role Role) bool {
	if role.Privileged() {
		return true
	}
	allowed, ok := t[key]
	if !ok {
		return true
	}
	for _, r := range allowed {
		if r == role {
			return true
		}
	}
	return false
}

type RoleGate struct {
	Table  RoleTable
	Logger *slog.Logger
}

func NewRoleGate(table RoleTable, logger *slog.Logger) *RoleGate {
	if logger == nil {
		logger = slog.Default()
	}
	return &RoleGate{Table: table, Logger: logger}
}

func (g *RoleGate) Name() string { return "role" }

func (g *RoleGate) Evaluate(ctx context.Context, ev *Evaluation) error {
	if ev.Principal == nil {
		return nil
	}
	key := RouteKey{Method: strings.ToUpper(ev.Request.Method), Template: ev.Request.Route.Template}
	if g.Table.Allowed(key, ev.Principal.Role) {
		return nil
	}

	allowed := make([]string, 0, len(g.Table[key]))
	for _, r := range g.Table[key] {
		allowed = append(allowed, string(r))
	}
	g.Logger.WarnContext(ctx, "role not permitted on route",
		"request_id", ev.Request.CorrelationID,
		"principal_id", ev.Principal.ID,
		"role", ev.Principal.Role,
		"allowed", allowed,
		"route", key.Method+" "+key.Template,
	)
	return newError(KindForbidden, "Insufficient role for this operation").
		withDebug("role", string(ev.Principal.Role)).
		withDebug("allowed", allowed)
}
