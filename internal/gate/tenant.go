package gate

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"strings"

	"consulate/internal/audit"
)

type TenantStatus string

const (
	TenantActive    TenantStatus = "active"
	TenantInactive  TenantStatus = "inactive"
	TenantSuspended TenantStatus = "suspended"
)

// ParseTenantStatus accepts the three stored statuses.
func ParseTenantStatus(s string) (TenantStatus, bool) {
	switch st := TenantStatus(strings.ToLower(strings.TrimSpace(s))); st {
	case TenantActive, TenantInactive, TenantSuspended:
		return st, true
	}
	return "", false
}

// Source records how the acting tenant was determined.
type Source string

const (
	SourcePlatformAdminBypass Source = "platform-admin-bypass"
	SourceToken               Source = "token"
	SourceHeader              Source = "header"
	SourceDomain              Source = "domain"
	SourceSubdomain           Source = "subdomain"
)

// Tenant is the stored tenant record the resolver reads.
type Tenant struct {
	ID     string
	Name   string
	Slug   string
	Domain string
	Status TenantStatus
	Plan   string
}

// TenantContext is the acting tenant attached to a request.
type TenantContext struct {
	ID     string
	Name   string
	Domain string
	Status TenantStatus
	Plan   string
	Source Source
}

// TenantStore is the read side the resolver needs. Lookups return
// ErrNotFound (possibly wrapped) when nothing matches.
type TenantStore interface {
	TenantByID(ctx context.Context, id string) (Tenant, error)
	ActiveTenantBySubdomain(ctx context.Context, slug string) (Tenant, error)
	ActiveTenantByDomain(ctx context.Context, domain string) (Tenant, error)
}

// TenantResolver determines the acting tenant from the token, the tenant
// header, or the request host, in that order of authority.
type TenantResolver struct {
	Store       TenantStore
	Audit       *audit.Emitter
	Logger      *slog.Logger
	BaseDomain  string
	PublicPaths []string
}

func NewTenantResolver(store TenantStore, emitter *audit.Emitter, logger *slog.Logger) *TenantResolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &TenantResolver{Store: store, Audit: emitter, Logger: logger}
}

func (r *TenantResolver) Name() string { return "tenant" }

// Exempt reports whether path is on the public allow-list. An entry
// ending in "/*" matches the prefix and everything below it on a segment
// boundary; any other entry must match exactly.
func (r *TenantResolver) Exempt(path string) bool {
	return MatchPublicPath(r.PublicPaths, path)
}

func MatchPublicPath(patterns []string, path string) bool {
	for _, p := range patterns {
		if prefix, ok := strings.CutSuffix(p, "/*"); ok {
			if path == prefix || strings.HasPrefix(path, prefix+"/") {
				return true
			}
			continue
		}
		if path == p {
			return true
		}
	}
	return false
}

// exemptionPath prefers the matched route template. The router matches
// case-insensitively and ignores a trailing slash, so the raw path can
// differ from the allow-list entry for the same route.
func exemptionPath(req *Request) string {
	if req.Route.Template != "" {
		return req.Route.Template
	}
	return req.Path
}

func (r *TenantResolver) Evaluate(ctx context.Context, ev *Evaluation) error {
	if r.Exempt(exemptionPath(ev.Request)) {
		ev.exempt = true
		return nil
	}

	var (
		tc  *TenantContext
		err error
	)
	switch {
	case ev.Principal != nil && ev.Principal.Privileged():
		tc, err = r.resolvePrivileged(ctx, ev)
		if err == nil && tc == nil {
			r.emitResolved(ctx, ev, nil, SourcePlatformAdminBypass)
			return nil
		}
	case ev.Principal != nil:
		tc, err = r.resolveFromToken(ctx, ev)
	default:
		tc, err = r.resolveFromHost(ctx, ev)
	}
	if err != nil {
		return err
	}
	if tc == nil {
		return newError(KindTenantRequired, "Tenant context is required").
			withDebug("host", ev.Request.Host)
	}

	if tc.Status != TenantActive {
		return newError(KindTenantInactive, "Tenant is not active").
			withDebug("tenant_id", tc.ID).
			withDebug("status", string(tc.Status))
	}

	ev.Tenant = tc
	r.emitResolved(ctx, ev, tc, tc.Source)
	return nil
}

// resolvePrivileged returns nil with no error when the admin sent no
// header and acts unscoped.
func (r *TenantResolver) resolvePrivileged(ctx context.Context, ev *Evaluation) (*TenantContext, error) {
	values := ev.Request.TenantHeader
	if len(values) == 0 {
		return nil, nil
	}
	if len(values) != 1 || !ValidID(strings.TrimSpace(values[0])) {
		return nil, newError(KindInvalidTenantID, "Tenant header must be a single valid tenant id").
			withDebug("header_values", values)
	}
	id := NormalizeID(strings.TrimSpace(values[0]))

	t, err := r.Store.TenantByID(ctx, id)
	if err != nil {
		return nil, r.lookupError(ctx, ev, err, "header_tenant_id", id)
	}
	return contextFor(t, SourceHeader), nil
}

func (r *TenantResolver) resolveFromToken(ctx context.Context, ev *Evaluation) (*TenantContext, error) {
	claimed := strings.TrimSpace(ev.candidateTenantID)
	if claimed == "" {
		return nil, newError(KindTenantRequired, "Token carries no tenant")
	}
	if !ValidID(claimed) {
		return nil, newError(KindInvalidTenantID, "Token tenant id is malformed")
	}
	claimed = NormalizeID(claimed)

	if values := ev.Request.TenantHeader; len(values) > 0 {
		if len(values) != 1 || NormalizeID(strings.TrimSpace(values[0])) != claimed {
			r.Logger.WarnContext(ctx, "tenant header does not match token tenant",
				"request_id", ev.Request.CorrelationID,
				"principal_id", ev.Principal.ID,
				"role", ev.Principal.Role,
				"token_tenant_id", claimed,
				"header_tenant_id", values,
				"path", ev.Request.Path,
			)
			gerr := newError(KindTenantMismatch, "Tenant header does not match the authenticated tenant").
				withDebug("token_tenant_id", claimed).
				withDebug("header_tenant_id", values)
			r.Audit.Emit(ctx, r.event(ev, claimed, "tenant.mismatch", gerr.Kind.Status(), audit.SeverityWarning,
				map[string]any{"header_tenant_id": strings.Join(values, ",")}))
			return nil, gerr
		}
	}

	t, err := r.Store.TenantByID(ctx, claimed)
	if err != nil {
		return nil, r.lookupError(ctx, ev, err, "token_tenant_id", claimed)
	}
	return contextFor(t, SourceToken), nil
}

func (r *TenantResolver) resolveFromHost(ctx context.Context, ev *Evaluation) (*TenantContext, error) {
	host := normalizeHost(ev.Request.Host)
	if host == "" {
		return nil, nil
	}

	if sub := r.subdomain(host); sub != "" {
		t, err := r.Store.ActiveTenantBySubdomain(ctx, sub)
		switch {
		case err == nil:
			return contextFor(t, SourceSubdomain), nil
		case !errors.Is(err, ErrNotFound):
			return nil, r.lookupError(ctx, ev, err, "subdomain", sub)
		}
	}

	t, err := r.Store.ActiveTenantByDomain(ctx, host)
	switch {
	case err == nil:
		return contextFor(t, SourceDomain), nil
	case errors.Is(err, ErrNotFound):
		return nil, nil
	default:
		return nil, r.lookupError(ctx, ev, err, "domain", host)
	}
}

func (r *TenantResolver) subdomain(host string) string {
	base := r.BaseDomain
	if base == "" || !strings.HasSuffix(host, "."+base) {
		return ""
	}
	label := strings.TrimSuffix(host, "."+base)
	if label == "" || label == "www" || strings.Contains(label, ".") {
		return ""
	}
	return label
}

func (r *TenantResolver) lookupError(ctx context.Context, ev *Evaluation, err error, field, value string) error {
	if errors.Is(err, ErrNotFound) {
		return newError(KindTenantNotFound, "Tenant not found").withDebug(field, value)
	}
	r.Logger.ErrorContext(ctx, "tenant lookup failed",
		"request_id", ev.Request.CorrelationID,
		field, value,
		"error", err,
	)
	return wrapError(KindTenantResolutionFailed, "Tenant could not be resolved", err)
}

func (r *TenantResolver) emitResolved(ctx context.Context, ev *Evaluation, tc *TenantContext, source Source) {
	severity := audit.SeverityInfo
	if source == SourceHeader || source == SourcePlatformAdminBypass {
		severity = audit.SeverityNotice
	}
	tenantID := ""
	if tc != nil {
		tenantID = tc.ID
	}
	r.Audit.Emit(ctx, r.event(ev, tenantID, "tenant.resolved", 200, severity,
		map[string]any{"source": string(source)}))
}

func (r *TenantResolver) event(ev *Evaluation, tenantID, action string, status int, sev audit.Severity, meta map[string]any) audit.Event {
	e := audit.Event{
		TenantID:   tenantID,
		Action:     action,
		Resource:   "tenant",
		ResourceID: tenantID,
		Method:     ev.Request.Method,
		Endpoint:   ev.Request.Path,
		IP:         ev.Request.IP,
		UserAgent:  ev.Request.UserAgent,
		StatusCode: status,
		Category:   audit.CategoryTenancy,
		Severity:   sev,
		Metadata:   meta,
	}
	if ev.Principal != nil {
		e.PrincipalID = ev.Principal.ID
	}
	return e
}

func contextFor(t Tenant, source Source) *TenantContext {
	return &TenantContext{
		ID:     NormalizeID(t.ID),
		Name:   t.Name,
		Domain: t.Domain,
		Status: t.Status,
		Plan:   t.Plan,
		Source: source,
	}
}

func normalizeHost(host string) string {
	host = strings.ToLower(strings.TrimSpace(host))
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return strings.TrimSuffix(host, ".")
}
