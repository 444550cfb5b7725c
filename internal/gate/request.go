package gate

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"consulate/internal/ratelimit"
)

// AuthMode controls how the Principal Resolver treats a route.
type AuthMode int

const (
	// AuthRequired rejects requests without a valid bearer token.
	AuthRequired AuthMode = iota
	// AuthOptional resolves a principal when possible and otherwise continues anonymously.
	AuthOptional
	// AuthNone skips principal resolution entirely.
	AuthNone
)

// RateTier names one of the rate-limit windows.
type RateTier string

const (
	TierNone    RateTier = ""
	TierAuth    RateTier = "auth"
	TierGeneral RateTier = "general"
	TierBulk    RateTier = "bulk"
)

// Route is the static policy attached to a registered route template.
type Route struct {
	Method   string
	Template string
	Auth     AuthMode
	Roles    []Role
	// Resource enables the Ownership Gate for the id found in ResourceParam.
	Resource      ResourceKind
	ResourceParam string
	RateTier      RateTier
}

// Key returns the role-table key for the route.
func (r Route) Key() RouteKey {
	return RouteKey{Method: strings.ToUpper(r.Method), Template: r.Template}
}

// Request is the transport-independent view of an incoming request.
type Request struct {
	Method string
	// Path is the dispatched path, not the template.
	Path  string
	Route Route

	Authorization string
	// TenantHeader holds every value of the tenant selector header.
	TenantHeader []string
	Host         string
	IP           string
	UserAgent    string
	Params       map[string]string

	CorrelationID string
}

// Param returns a route parameter.
func (r *Request) Param(name string) string {
	if r.Params == nil {
		return ""
	}
	return r.Params[name]
}

// Evaluation is the pipeline's working state for one request. Gates fill
// it in order; it is frozen into a RequestContext once every gate passed.
type Evaluation struct {
	Request   *Request
	Principal *Principal
	Tenant    *TenantContext
	RateLimit *ratelimit.Decision

	candidateTenantID string
	// exempt is set for public paths; no tenant is resolved for them.
	exempt bool
}

// Exempt reports whether the request hit a public path.
func (ev *Evaluation) Exempt() bool { return ev.exempt }

// RequestContext is the immutable result of a full pass through the gate
// chain. Handlers receive it explicitly.
type RequestContext struct {
	principal     *Principal
	tenant        *TenantContext
	correlationID string
	rateLimit     *ratelimit.Decision
}

func (ev *Evaluation) freeze() *RequestContext {
	rc := &RequestContext{
		correlationID: ev.Request.CorrelationID,
	}
	if ev.Principal != nil {
		p := *ev.Principal
		rc.principal = &p
	}
	if ev.Tenant != nil {
		t := *ev.Tenant
		rc.tenant = &t
	}
	if ev.RateLimit != nil {
		d := *ev.RateLimit
		rc.rateLimit = &d
	}
	return rc
}

// NewRequestContext builds a context directly; used by tests and by
// handlers that run outside the pipeline.
func NewRequestContext(p *Principal, t *TenantContext, correlationID string) *RequestContext {
	ev := &Evaluation{Request: &Request{CorrelationID: correlationID}, Principal: p, Tenant: t}
	return ev.freeze()
}

// Principal returns the authenticated principal, if any.
func (rc *RequestContext) Principal() (Principal, bool) {
	if rc == nil || rc.principal == nil {
		return Principal{}, false
	}
	return *rc.principal, true
}

// Tenant returns the acting tenant, if any.
func (rc *RequestContext) Tenant() (TenantContext, bool) {
	if rc == nil || rc.tenant == nil {
		return TenantContext{}, false
	}
	return *rc.tenant, true
}

// TenantID is the acting tenant id or "".
func (rc *RequestContext) TenantID() string {
	if rc == nil || rc.tenant == nil {
		return ""
	}
	return rc.tenant.ID
}

func (rc *RequestContext) CorrelationID() string {
	if rc == nil {
		return ""
	}
	return rc.correlationID
}

// RateLimit returns the admission decision, when the route is rate limited.
func (rc *RequestContext) RateLimit() (ratelimit.Decision, bool) {
	if rc == nil || rc.rateLimit == nil {
		return ratelimit.Decision{}, false
	}
	return *rc.rateLimit, true
}

type requestContextKey struct{}

// WithRequestContext stores rc in ctx for code paths below the handler.
func WithRequestContext(ctx context.Context, rc *RequestContext) context.Context {
	return context.WithValue(ctx, requestContextKey{}, rc)
}

// FromContext returns the RequestContext stored by WithRequestContext.
func FromContext(ctx context.Context) (*RequestContext, bool) {
	rc, ok := ctx.Value(requestContextKey{}).(*RequestContext)
	return rc, ok && rc != nil
}

// ValidID reports whether s is a canonical, hyphenated UUID.
func ValidID(s string) bool {
	if len(s) != 36 {
		return false
	}
	_, err := uuid.Parse(s)
	return err == nil
}

// NormalizeID lowercases a valid id so comparisons are case-insensitive.
func NormalizeID(s string) string {
	return strings.ToLower(s)
}
