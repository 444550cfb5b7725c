package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"consulate/internal/audit"
	"consulate/internal/config"
	"consulate/internal/gate"
	"consulate/internal/metrics"
	"consulate/internal/ratelimit"
	"consulate/internal/services"
	"consulate/internal/store"
	"consulate/internal/token"
)

const (
	tenantA = "11111111-1111-4111-8111-111111111111"
	tenantB = "22222222-2222-4222-8222-222222222222"

	adminID       = "aaaaaaaa-0000-4000-8000-000000000001"
	tenantAdminID = "aaaaaaaa-0000-4000-8000-000000000002"
	staffID       = "aaaaaaaa-0000-4000-8000-000000000003"
	clientID      = "aaaaaaaa-0000-4000-8000-000000000004"
	otherClientID = "aaaaaaaa-0000-4000-8000-000000000005"
	orphanID      = "aaaaaaaa-0000-4000-8000-000000000006"

	applicationID = "bbbbbbbb-0000-4000-8000-000000000001"
	foreignAppID  = "bbbbbbbb-0000-4000-8000-000000000002"
	documentID    = "cccccccc-0000-4000-8000-000000000001"

	testPassword = "correct horse battery"
)

// memStore backs both the handlers and the gates.
type memStore struct {
	mu      sync.Mutex
	tenants map[string]gate.Tenant
	users   map[string]store.User
	apps    map[string]store.Application
	docs    map[string]store.Document
}

func newMemStore(t *testing.T) *memStore {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(testPassword), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	user := func(id, tenant, email, role string) store.User {
		return store.User{ID: id, TenantID: tenant, Email: email, Name: email, Role: role,
			PasswordHash: string(hash), Active: true, CreatedAt: now}
	}
	return &memStore{
		tenants: map[string]gate.Tenant{
			tenantA: {ID: tenantA, Name: "Acme Immigration", Slug: "acme", Domain: "portal.acme.test", Status: gate.TenantActive, Plan: "pro"},
			tenantB: {ID: tenantB, Name: "Borealis Visas", Slug: "borealis", Status: gate.TenantActive, Plan: "basic"},
		},
		users: map[string]store.User{
			adminID:       user(adminID, "", "root@consulate.test", "platform_admin"),
			tenantAdminID: user(tenantAdminID, tenantA, "owner@acme.test", "tenant_admin"),
			staffID:       user(staffID, tenantA, "staff@acme.test", "team_member"),
			clientID:      user(clientID, tenantA, "client@acme.test", "client"),
			otherClientID: user(otherClientID, tenantB, "client@borealis.test", "client"),
			// A client row with no tenant cannot become a principal.
			orphanID: user(orphanID, "", "orphan@acme.test", "client"),
		},
		apps: map[string]store.Application{
			applicationID: {ID: applicationID, TenantID: tenantA, ClientID: clientID, Title: "Work permit", VisaType: "H-1B", Status: "draft", CreatedAt: now},
			foreignAppID:  {ID: foreignAppID, TenantID: tenantB, ClientID: otherClientID, Title: "Study permit", Status: "draft", CreatedAt: now},
		},
		docs: map[string]store.Document{
			documentID: {ID: documentID, TenantID: tenantA, ClientID: clientID, ApplicationID: applicationID, FileName: "passport.pdf", CreatedAt: now},
		},
	}
}

func (m *memStore) TenantByID(_ context.Context, id string) (gate.Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tenants[id]
	if !ok {
		return gate.Tenant{}, store.ErrNotFound
	}
	return t, nil
}

func (m *memStore) ActiveTenantBySubdomain(_ context.Context, slug string) (gate.Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tenants {
		if t.Slug == slug && t.Status == gate.TenantActive {
			return t, nil
		}
	}
	return gate.Tenant{}, store.ErrNotFound
}

func (m *memStore) ActiveTenantByDomain(_ context.Context, domain string) (gate.Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tenants {
		if t.Domain == domain && t.Status == gate.TenantActive {
			return t, nil
		}
	}
	return gate.Tenant{}, store.ErrNotFound
}

func (m *memStore) ListTenants(_ context.Context, limit, offset int) ([]gate.Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []gate.Tenant
	for _, t := range m.tenants {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slug < out[j].Slug })
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) SetTenantStatus(_ context.Context, id string, status gate.TenantStatus) (gate.Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tenants[id]
	if !ok {
		return gate.Tenant{}, store.ErrNotFound
	}
	t.Status = status
	m.tenants[id] = t
	return t, nil
}

func (m *memStore) UserByEmail(_ context.Context, email string) (store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			return u, nil
		}
	}
	return store.User{}, store.ErrNotFound
}

func (m *memStore) GetUser(_ context.Context, tenantID, id string) (store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok || (tenantID != "" && u.TenantID != tenantID) {
		return store.User{}, store.ErrNotFound
	}
	return u, nil
}

func (m *memStore) ListUsersByRole(_ context.Context, tenantID, role string, limit, offset int) ([]store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.User
	for _, u := range m.users {
		if u.Role == role && (tenantID == "" || u.TenantID == tenantID) {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) UpdateUserName(_ context.Context, tenantID, role, id, name string) (store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok || u.Role != role || (tenantID != "" && u.TenantID != tenantID) {
		return store.User{}, store.ErrNotFound
	}
	u.Name = name
	m.users[id] = u
	return u, nil
}

func (m *memStore) GetApplication(_ context.Context, tenantID, id string) (store.Application, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.apps[id]
	if !ok || (tenantID != "" && a.TenantID != tenantID) {
		return store.Application{}, store.ErrNotFound
	}
	return a, nil
}

func (m *memStore) ReorderApplications(_ context.Context, tenantID string, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		if a, ok := m.apps[id]; !ok || a.TenantID != tenantID {
			return store.ErrNotFound
		}
	}
	for i, id := range ids {
		a := m.apps[id]
		a.Position = i
		m.apps[id] = a
	}
	return nil
}

func (m *memStore) GetDocument(_ context.Context, tenantID, id string) (store.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[id]
	if !ok || (tenantID != "" && d.TenantID != tenantID) {
		return store.Document{}, store.ErrNotFound
	}
	return d, nil
}

func (m *memStore) ResourceOwner(_ context.Context, kind gate.ResourceKind, id string) (gate.Owner, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch kind {
	case gate.ResourceUser, gate.ResourceTeamMember, gate.ResourceClient:
		u, ok := m.users[id]
		if !ok ||
			(kind == gate.ResourceClient && u.Role != "client") ||
			(kind == gate.ResourceTeamMember && u.Role != "team_member") {
			return gate.Owner{}, store.ErrNotFound
		}
		return gate.Owner{TenantID: u.TenantID, OwnerID: u.ID}, nil
	case gate.ResourceApplication:
		a, ok := m.apps[id]
		if !ok {
			return gate.Owner{}, store.ErrNotFound
		}
		return gate.Owner{TenantID: a.TenantID, OwnerID: a.ClientID}, nil
	case gate.ResourceDocument:
		d, ok := m.docs[id]
		if !ok {
			return gate.Owner{}, store.ErrNotFound
		}
		return gate.Owner{TenantID: d.TenantID, OwnerID: d.ClientID}, nil
	}
	return gate.Owner{}, errors.New("unknown resource kind")
}

type testEnv struct {
	server  *Server
	store   *memStore
	codec   *token.Codec
	audit   *audit.MemorySink
	metrics *metrics.Metrics
	logs    *bytes.Buffer
}

type testOptions struct {
	environment  string
	tenantHeader string
	tiers        map[gate.RateTier]gate.Tier
	checks       map[string]HealthCheck
}

func newTestEnv(t *testing.T, opts testOptions) *testEnv {
	t.Helper()
	if opts.environment == "" {
		opts.environment = "development"
	}

	cfg := &config.Config{Environment: opts.environment}
	cfg.Tenancy.BaseDomain = "consulate.test"
	cfg.Tenancy.HeaderName = "X-Tenant-ID"
	if opts.tenantHeader != "" {
		cfg.Tenancy.HeaderName = opts.tenantHeader
	}
	cfg.Tenancy.PublicPaths = config.DefaultPublicPaths

	logs := &bytes.Buffer{}
	logger := slog.New(slog.NewTextHandler(logs, &slog.HandlerOptions{Level: slog.LevelDebug}))

	codec, err := token.NewCodec("test-secret-0123456789abcdef", "consulate", time.Hour)
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}

	st := newMemStore(t)
	sink := &audit.MemorySink{}
	emitter := audit.NewEmitter(logger, sink)
	m := metrics.New()

	if opts.tiers == nil {
		opts.tiers = map[gate.RateTier]gate.Tier{
			gate.TierAuth:    {Limiter: ratelimit.NewInMemory(15 * time.Minute), Limit: 20},
			gate.TierGeneral: {Limiter: ratelimit.NewInMemory(15 * time.Minute), Limit: 300},
			gate.TierBulk:    {Limiter: ratelimit.NewInMemory(time.Minute), Limit: 10},
		}
	}

	pipeline := NewGatePipeline(cfg, GateDeps{
		Verifier: codec,
		Tenants:  st,
		Owners:   st,
		Tiers:    opts.tiers,
		Audit:    emitter,
		Metrics:  m,
	}, logger)

	srv := NewServer(cfg, Deps{
		Store:    st,
		Auth:     services.NewAuthService(st, codec),
		Pipeline: pipeline,
		Audit:    emitter,
		Metrics:  m,
		Checks:   opts.checks,
	}, logger)

	return &testEnv{server: srv, store: st, codec: codec, audit: sink, metrics: m, logs: logs}
}

// tokenFor issues a bearer token for a seeded user.
func (e *testEnv) tokenFor(t *testing.T, userID string) string {
	t.Helper()
	p, err := services.PrincipalFromUser(e.store.users[userID])
	if err != nil {
		t.Fatalf("PrincipalFromUser: %v", err)
	}
	raw, _, err := e.codec.Issue(p)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	return raw
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Debug   map[string]any `json:"debug"`
	} `json:"error"`
}

// do sends a request through the fiber app. headers alternate key, value.
func (e *testEnv) do(t *testing.T, method, path, bearer string, body any, headers ...string) (*http.Response, envelope) {
	t.Helper()
	var r io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		r = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Add(headers[i], headers[i+1])
	}

	resp, err := e.server.App().Test(req, -1)
	if err != nil {
		t.Fatalf("app.Test error: %v", err)
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	var env envelope
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &env); err != nil {
			t.Fatalf("decode body %q: %v", raw, err)
		}
	}
	return resp, env
}

func expectError(t *testing.T, resp *http.Response, env envelope, status int, code string) {
	t.Helper()
	if resp.StatusCode != status {
		t.Fatalf("expected status %d, got %d (%+v)", status, resp.StatusCode, env.Error)
	}
	if env.Success || env.Error == nil {
		t.Fatalf("expected error envelope, got %+v", env)
	}
	if env.Error.Code != code {
		t.Fatalf("expected code %s, got %s (%s)", code, env.Error.Code, env.Error.Message)
	}
}

func (e *testEnv) actions() []string {
	var out []string
	for _, ev := range e.audit.Events() {
		out = append(out, ev.Action)
	}
	return out
}
