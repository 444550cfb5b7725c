package gate

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"consulate/internal/audit"
	"consulate/internal/ratelimit"
)

const (
	tenantA = "11111111-1111-4111-8111-111111111111"
	tenantB = "22222222-2222-4222-8222-222222222222"
	tenantC = "33333333-3333-4333-8333-333333333333"

	platformAdminID = "aaaaaaaa-0000-4000-8000-000000000001"
	tenantAdminID   = "aaaaaaaa-0000-4000-8000-000000000002"
	teamMemberID    = "aaaaaaaa-0000-4000-8000-000000000003"
	clientID        = "aaaaaaaa-0000-4000-8000-000000000004"
	otherClientID   = "aaaaaaaa-0000-4000-8000-000000000005"

	applicationID = "bbbbbbbb-0000-4000-8000-000000000001"

	platformAdminToken = "token-platform-admin-0001"
	tenantAdminToken   = "token-tenant-admin-00002"
	teamMemberToken    = "token-team-member-000003"
	clientToken        = "token-client-0000000004"
	noTenantToken      = "token-no-tenant-0000005"
	badTenantToken     = "token-bad-tenant-000006"
)

type fakeVerifier map[string]Claims

func (f fakeVerifier) VerifyClaims(raw string) (Claims, error) {
	c, ok := f[raw]
	if !ok {
		return Claims{}, errors.New("signature is invalid: hmac mismatch")
	}
	return c, nil
}

func defaultVerifier() fakeVerifier {
	return fakeVerifier{
		platformAdminToken: {Subject: platformAdminID, Role: "platform_admin", Email: "root@consulate.test"},
		tenantAdminToken:   {Subject: tenantAdminID, Role: "tenant_admin", TenantID: tenantA, Email: "admin@a.test", Permissions: []string{"clients:read", "team:manage"}},
		teamMemberToken:    {Subject: teamMemberID, Role: "team_member", TenantID: tenantA, Email: "member@a.test"},
		clientToken:        {Subject: clientID, Role: "client", TenantID: tenantA, Email: "client@a.test"},
		noTenantToken:      {Subject: clientID, Role: "client", Email: "client@a.test"},
		badTenantToken:     {Subject: clientID, Role: "client", TenantID: "not-a-uuid", Email: "client@a.test"},
	}
}

type fakeTenants struct {
	mu      sync.Mutex
	tenants []Tenant
	err     error
	calls   int
}

func (f *fakeTenants) record() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.err
}

func (f *fakeTenants) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeTenants) TenantByID(_ context.Context, id string) (Tenant, error) {
	if err := f.record(); err != nil {
		return Tenant{}, err
	}
	for _, t := range f.tenants {
		if t.ID == id {
			return t, nil
		}
	}
	return Tenant{}, ErrNotFound
}

func (f *fakeTenants) ActiveTenantBySubdomain(_ context.Context, slug string) (Tenant, error) {
	if err := f.record(); err != nil {
		return Tenant{}, err
	}
	for _, t := range f.tenants {
		if t.Slug == slug && t.Status == TenantActive {
			return t, nil
		}
	}
	return Tenant{}, ErrNotFound
}

func (f *fakeTenants) ActiveTenantByDomain(_ context.Context, domain string) (Tenant, error) {
	if err := f.record(); err != nil {
		return Tenant{}, err
	}
	for _, t := range f.tenants {
		if t.Domain == domain && t.Status == TenantActive {
			return t, nil
		}
	}
	return Tenant{}, ErrNotFound
}

type fakeOwners struct {
	mu     sync.Mutex
	owners map[string]Owner
	err    error
	calls  int
}

func (f *fakeOwners) ResourceOwner(_ context.Context, _ ResourceKind, id string) (Owner, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return Owner{}, f.err
	}
	o, ok := f.owners[id]
	if !ok {
		return Owner{}, ErrNotFound
	}
	return o, nil
}

func (f *fakeOwners) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type recordingObserver struct {
	mu      sync.Mutex
	outcome []string
}

func (o *recordingObserver) ObserveGate(gate, code string, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outcome = append(o.outcome, gate+"="+code)
}

var (
	routeHealth = Route{Method: "GET", Template: "/health", Auth: AuthNone}
	routeLogin  = Route{Method: "POST", Template: "/api/auth/login", Auth: AuthNone, RateTier: TierAuth}
	routeSite   = Route{Method: "GET", Template: "/api/site", Auth: AuthOptional}
	routeMe     = Route{Method: "GET", Template: "/api/auth/me", RateTier: TierGeneral}

	routeClients = Route{
		Method: "GET", Template: "/api/clients",
		Roles:    []Role{RoleTenantAdmin, RoleTeamMember},
		RateTier: TierGeneral,
	}
	routeClient = Route{
		Method: "GET", Template: "/api/clients/:id",
		Roles:    []Role{RoleTenantAdmin, RoleTeamMember, RoleClient},
		Resource: ResourceClient, ResourceParam: "id",
		RateTier: TierGeneral,
	}
	routeApplication = Route{
		Method: "GET", Template: "/api/applications/:id",
		Resource: ResourceApplication, ResourceParam: "id",
		RateTier: TierGeneral,
	}
	routeUser = Route{
		Method: "GET", Template: "/api/users/:id",
		Resource: ResourceUser, ResourceParam: "id",
	}
)

type harness struct {
	pipeline *Pipeline
	tenants  *fakeTenants
	owners   *fakeOwners
	audit    *audit.MemorySink
	logs     *bytes.Buffer
	observer *recordingObserver
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logs := &bytes.Buffer{}
	logger := slog.New(slog.NewTextHandler(logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	sink := &audit.MemorySink{}
	emitter := audit.NewEmitter(logger, sink)

	tenants := &fakeTenants{tenants: []Tenant{
		{ID: tenantA, Name: "Acme Immigration", Slug: "acme", Domain: "portal.acme.test", Status: TenantActive, Plan: "pro"},
		{ID: tenantB, Name: "Borealis Visas", Slug: "borealis", Domain: "borealis.test", Status: TenantActive, Plan: "basic"},
		{ID: tenantC, Name: "Closed Co", Slug: "closed", Domain: "closed.test", Status: TenantSuspended, Plan: "basic"},
	}}
	owners := &fakeOwners{owners: map[string]Owner{
		clientID:      {TenantID: tenantA, OwnerID: clientID},
		otherClientID: {TenantID: tenantB, OwnerID: otherClientID},
		teamMemberID:  {TenantID: tenantA, OwnerID: teamMemberID},
		applicationID: {TenantID: tenantA, OwnerID: clientID},
	}}

	resolver := NewTenantResolver(tenants, emitter, logger)
	resolver.BaseDomain = "consulate.test"
	resolver.PublicPaths = []string{"/health", "/api/auth/login", "/api/public/*"}

	tiers := map[RateTier]Tier{
		TierAuth:    {Limiter: ratelimit.NewInMemory(15 * time.Minute), Limit: 20},
		TierGeneral: {Limiter: ratelimit.NewInMemory(15 * time.Minute), Limit: 300},
		TierBulk:    {Limiter: ratelimit.NewInMemory(time.Minute), Limit: 10},
	}
	table := RoleTableFrom([]Route{routeClients, routeClient, routeApplication, routeUser})
	observer := &recordingObserver{}

	p := NewPipeline(
		NewPrincipalResolver(defaultVerifier(), logger),
		resolver,
		NewRoleGate(table, logger),
		NewOwnershipGate(owners, emitter, logger),
		NewIsolationGate(logger),
		NewRateLimitGate(tiers, emitter, logger),
	).WithObserver(observer)

	return &harness{pipeline: p, tenants: tenants, owners: owners, audit: sink, logs: logs, observer: observer}
}

func request(route Route, token string, params map[string]string, tenantHeader ...string) *Request {
	req := &Request{
		Method:        route.Method,
		Path:          route.Template,
		Route:         route,
		TenantHeader:  tenantHeader,
		Host:          "api.internal:8080",
		IP:            "10.0.0.1",
		UserAgent:     "gate-test",
		Params:        params,
		CorrelationID: "req-1",
	}
	if token != "" {
		req.Authorization = "Bearer " + token
	}
	if id, ok := params["id"]; ok {
		req.Path = route.Template[:len(route.Template)-len(":id")] + id
	}
	return req
}

func (h *harness) eventsByAction(action string) []audit.Event {
	var out []audit.Event
	for _, e := range h.audit.Events() {
		if e.Action == action {
			out = append(out, e)
		}
	}
	return out
}
