package http

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"

	"consulate/internal/audit"
	"consulate/internal/gate"
	"consulate/internal/store"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// page reads limit/offset query parameters with sane bounds.
func page(c *fiber.Ctx) (limit, offset int) {
	limit = c.QueryInt("limit", defaultPageSize)
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	offset = c.QueryInt("offset", 0)
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// requireTenant returns the acting tenant id, writing TENANT_REQUIRED when
// the request runs unscoped.
func requireTenant(c *fiber.Ctx, rc *gate.RequestContext) (string, bool) {
	if tid := rc.TenantID(); tid != "" {
		return tid, true
	}
	_ = writeError(c, gate.KindTenantRequired.Status(), gate.KindTenantRequired.Code(),
		"This operation requires a tenant context")
	return "", false
}

func (s *Server) currentTenantHandler(c *fiber.Ctx, rc *gate.RequestContext) error {
	tc, ok := rc.Tenant()
	if !ok {
		return writeError(c, gate.KindTenantRequired.Status(), gate.KindTenantRequired.Code(),
			"No tenant is associated with this request")
	}
	return writeData(c, fiber.StatusOK, tenantContextView(tc))
}

// brandingHandler serves the tenant-branded entry point. Anonymous callers
// get the tenant behind the request host; signed-in callers get their own.
func (s *Server) brandingHandler(c *fiber.Ctx, rc *gate.RequestContext) error {
	tc, ok := rc.Tenant()
	if !ok {
		return writeError(c, gate.KindTenantRequired.Status(), gate.KindTenantRequired.Code(),
			"No tenant is associated with this host")
	}
	_, signedIn := rc.Principal()
	return writeData(c, fiber.StatusOK, BrandingView{
		TenantID:      tc.ID,
		Name:          tc.Name,
		Domain:        tc.Domain,
		Source:        string(tc.Source),
		Authenticated: signedIn,
	})
}

func (s *Server) adminListTenantsHandler(c *fiber.Ctx, rc *gate.RequestContext) error {
	limit, offset := page(c)
	tenants, err := s.store.ListTenants(c.UserContext(), limit, offset)
	if err != nil {
		return err
	}
	out := make([]TenantView, 0, len(tenants))
	for _, t := range tenants {
		out = append(out, tenantView(t))
	}
	return writeData(c, fiber.StatusOK, out)
}

// adminSetTenantStatusHandler changes a tenant's lifecycle status. Resolution
// reads status on every request, so a suspension applies immediately.
func (s *Server) adminSetTenantStatusHandler(c *fiber.Ctx, rc *gate.RequestContext) error {
	id := c.Params("id")
	if !gate.ValidID(id) {
		return writeError(c, gate.KindInvalidID.Status(), gate.KindInvalidID.Code(), "Tenant id is malformed")
	}
	id = gate.NormalizeID(id)

	var req UpdateTenantStatusRequest
	if err := c.BodyParser(&req); err != nil {
		return writeError(c, fiber.StatusBadRequest, "BAD_REQUEST_INVALID_JSON", "Bad request, malformed JSON")
	}
	status, ok := gate.ParseTenantStatus(strings.TrimSpace(req.Status))
	if !ok {
		return writeError(c, fiber.StatusBadRequest, "INVALID_STATUS", "status must be one of active, inactive, suspended")
	}

	before, err := s.store.TenantByID(c.UserContext(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return writeError(c, fiber.StatusNotFound, "NOT_FOUND", "Tenant not found")
		}
		return err
	}

	t, err := s.store.SetTenantStatus(c.UserContext(), id, status)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return writeError(c, fiber.StatusNotFound, "NOT_FOUND", "Tenant not found")
		}
		return err
	}

	p, _ := rc.Principal()
	s.audit.Emit(c.UserContext(), audit.Event{
		PrincipalID: p.ID,
		TenantID:    t.ID,
		Action:      "tenant.status_changed",
		Resource:    "tenant",
		ResourceID:  t.ID,
		Method:      c.Method(),
		Endpoint:    c.Path(),
		IP:          c.IP(),
		UserAgent:   c.Get(fiber.HeaderUserAgent),
		StatusCode:  fiber.StatusOK,
		Category:    audit.CategoryTenancy,
		Severity:    audit.SeverityNotice,
		Metadata:    map[string]any{"from": string(before.Status), "to": string(t.Status)},
	})

	return writeData(c, fiber.StatusOK, tenantView(t))
}
