package gate

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"consulate/internal/audit"
)

// ResourceKind names what a route parameter identifies.
type ResourceKind string

const (
	ResourceNone        ResourceKind = ""
	ResourceUser        ResourceKind = "user"
	ResourceTeamMember  ResourceKind = "team_member"
	ResourceClient      ResourceKind = "client"
	ResourceApplication ResourceKind = "application"
	ResourceDocument    ResourceKind = "document"
)

// selfAccess kinds are identities, so a principal may always reach its own record.
var selfAccess = map[ResourceKind]bool{
	ResourceUser:       true,
	ResourceTeamMember: true,
	ResourceClient:     true,
}

// Owner is what the owner lookup returns for a resource.
type Owner struct {
	TenantID string
	// OwnerID is the owning client for applications and documents, and the
	// record's own id for identity kinds.
	OwnerID string
}

type OwnerStore interface {
	ResourceOwner(ctx context.Context, kind ResourceKind, id string) (Owner, error)
}

type ownershipRule int

const (
	ruleDeny ownershipRule = iota
	ruleSameTenant
	ruleOwner
	// ruleAssignmentPending blocks access until team assignments exist.
	ruleAssignmentPending
)

var ownershipRules = map[Role]map[ResourceKind]ownershipRule{
	RoleTenantAdmin: {
		ResourceUser:        ruleSameTenant,
		ResourceTeamMember:  ruleSameTenant,
		ResourceClient:      ruleSameTenant,
		ResourceApplication: ruleSameTenant,
		ResourceDocument:    ruleSameTenant,
	},
	RoleTeamMember: {
		ResourceClient:      ruleAssignmentPending,
		ResourceApplication: ruleAssignmentPending,
	},
	RoleClient: {
		ResourceApplication: ruleOwner,
		ResourceDocument:    ruleOwner,
	},
}

// OwnershipGate checks that the principal may touch the resource named by
// the route's id parameter.
type OwnershipGate struct {
	Store  OwnerStore
	Audit  *audit.Emitter
	Logger *slog.Logger
}

func NewOwnershipGate(store OwnerStore, emitter *audit.Emitter, logger *slog.Logger) *OwnershipGate {
	if logger == nil {
		logger = slog.Default()
	}
	return &OwnershipGate{Store: store, Audit: emitter, Logger: logger}
}

func (g *OwnershipGate) Name() string { return "ownership" }

func (g *OwnershipGate) Evaluate(ctx context.Context, ev *Evaluation) error {
	route := ev.Request.Route
	if route.Resource == ResourceNone {
		return nil
	}
	p := ev.Principal
	if p != nil && p.Privileged() {
		return nil
	}

	raw := strings.TrimSpace(ev.Request.Param(route.ResourceParam))
	if !ValidID(raw) {
		return newError(KindInvalidID, "Resource id is malformed").
			withDebug("param", route.ResourceParam)
	}
	id := NormalizeID(raw)

	if p == nil {
		return g.deny(ctx, ev, id, "no principal")
	}
	if selfAccess[route.Resource] && id == p.ID {
		return nil
	}

	switch ownershipRules[p.Role][route.Resource] {
	case ruleSameTenant:
		owner, err := g.lookup(ctx, ev, id)
		if err != nil {
			return err
		}
		if owner.TenantID == "" || NormalizeID(owner.TenantID) != NormalizeID(p.HomeTenantID) {
			return g.deny(ctx, ev, id, "resource belongs to another tenant")
		}
		return nil
	case ruleOwner:
		owner, err := g.lookup(ctx, ev, id)
		if err != nil {
			return err
		}
		if NormalizeID(owner.OwnerID) != p.ID || NormalizeID(owner.TenantID) != NormalizeID(p.HomeTenantID) {
			return g.deny(ctx, ev, id, "principal does not own resource")
		}
		return nil
	case ruleAssignmentPending:
		g.Logger.ErrorContext(ctx, "team member access blocked: assignment model not implemented",
			"request_id", ev.Request.CorrelationID,
			"principal_id", p.ID,
			"resource_kind", route.Resource,
			"resource_id", id,
		)
		return g.deny(ctx, ev, id, "assignment model pending")
	default:
		return g.deny(ctx, ev, id, "role has no access to resource kind")
	}
}

// lookup maps a missing resource to a denial and any other failure to a
// 500 so that an error is never read as an allow.
func (g *OwnershipGate) lookup(ctx context.Context, ev *Evaluation, id string) (Owner, error) {
	owner, err := g.Store.ResourceOwner(ctx, ev.Request.Route.Resource, id)
	if err == nil {
		return owner, nil
	}
	if errors.Is(err, ErrNotFound) {
		return Owner{}, g.deny(ctx, ev, id, "resource not found")
	}

	g.Logger.ErrorContext(ctx, "ownership lookup failed",
		"request_id", ev.Request.CorrelationID,
		"principal_id", ev.Principal.ID,
		"resource_kind", ev.Request.Route.Resource,
		"resource_id", id,
		"error", err,
	)
	g.Audit.Emit(ctx, g.event(ev, id, "authorization.check_failed", http.StatusInternalServerError, audit.SeverityError, nil))
	return Owner{}, wrapError(KindAuthorizationCheckFailed, "Authorization check failed", err)
}

func (g *OwnershipGate) deny(ctx context.Context, ev *Evaluation, id, reason string) error {
	attrs := []any{
		"request_id", ev.Request.CorrelationID,
		"resource_kind", ev.Request.Route.Resource,
		"resource_id", id,
		"reason", reason,
	}
	if ev.Principal != nil {
		attrs = append(attrs, "principal_id", ev.Principal.ID, "role", ev.Principal.Role)
	}
	g.Logger.WarnContext(ctx, "resource access denied", attrs...)
	g.Audit.Emit(ctx, g.event(ev, id, "authorization.denied", http.StatusForbidden, audit.SeverityWarning,
		map[string]any{"reason": reason}))

	return newError(KindAccessDenied, "You do not have access to this resource").
		withDebug("resource_kind", string(ev.Request.Route.Resource)).
		withDebug("reason", reason)
}

func (g *OwnershipGate) event(ev *Evaluation, id, action string, status int, sev audit.Severity, meta map[string]any) audit.Event {
	e := audit.Event{
		Action:     action,
		Resource:   string(ev.Request.Route.Resource),
		ResourceID: id,
		Method:     ev.Request.Method,
		Endpoint:   ev.Request.Path,
		IP:         ev.Request.IP,
		UserAgent:  ev.Request.UserAgent,
		StatusCode: status,
		Category:   audit.CategoryAuthorization,
		Severity:   sev,
		Metadata:   meta,
	}
	if ev.Principal != nil {
		e.PrincipalID = ev.Principal.ID
	}
	if ev.Tenant != nil {
		e.TenantID = ev.Tenant.ID
	}
	return e
}
