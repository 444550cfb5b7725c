package http

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"

	"consulate/internal/gate"
)

var (
	adminOnly  = []gate.Role{gate.RolePlatformAdmin}
	staff      = []gate.Role{gate.RoleTenantAdmin, gate.RoleTeamMember}
	caseAccess = []gate.Role{gate.RoleTenantAdmin, gate.RoleTeamMember, gate.RoleClient}
)

// Routes is the static policy table. Every route the server registers goes
// through the gate pipeline with the policy listed here, and the role table
// is built from the same slice.
func Routes() []gate.Route {
	return []gate.Route{
		{Method: fiber.MethodGet, Template: "/health", Auth: gate.AuthNone},
		{Method: fiber.MethodPost, Template: "/api/auth/login", Auth: gate.AuthNone, RateTier: gate.TierAuth},

		{Method: fiber.MethodGet, Template: "/api/auth/me", RateTier: gate.TierGeneral},
		{Method: fiber.MethodGet, Template: "/api/tenants/current", RateTier: gate.TierGeneral},
		{Method: fiber.MethodGet, Template: "/api/tenants/branding", Auth: gate.AuthOptional, RateTier: gate.TierGeneral},

		{Method: fiber.MethodGet, Template: "/api/admin/tenants", Roles: adminOnly, RateTier: gate.TierGeneral},
		{Method: fiber.MethodPatch, Template: "/api/admin/tenants/:id/status", Roles: adminOnly, RateTier: gate.TierGeneral},

		{Method: fiber.MethodGet, Template: "/api/clients", Roles: staff, RateTier: gate.TierGeneral},
		{Method: fiber.MethodGet, Template: "/api/clients/:id", Roles: caseAccess,
			Resource: gate.ResourceClient, ResourceParam: "id", RateTier: gate.TierGeneral},
		{Method: fiber.MethodPatch, Template: "/api/clients/:id", Roles: []gate.Role{gate.RoleTenantAdmin, gate.RoleClient},
			Resource: gate.ResourceClient, ResourceParam: "id", RateTier: gate.TierGeneral},

		{Method: fiber.MethodPost, Template: "/api/applications/reorder", Roles: []gate.Role{gate.RoleTenantAdmin},
			RateTier: gate.TierBulk},
		{Method: fiber.MethodGet, Template: "/api/applications/:id", Roles: caseAccess,
			Resource: gate.ResourceApplication, ResourceParam: "id", RateTier: gate.TierGeneral},
		{Method: fiber.MethodGet, Template: "/api/documents/:id", Roles: caseAccess,
			Resource: gate.ResourceDocument, ResourceParam: "id", RateTier: gate.TierGeneral},

		{Method: fiber.MethodGet, Template: "/api/team/:id", Roles: staff,
			Resource: gate.ResourceTeamMember, ResourceParam: "id", RateTier: gate.TierGeneral},
		{Method: fiber.MethodGet, Template: "/api/users/:id",
			Resource: gate.ResourceUser, ResourceParam: "id", RateTier: gate.TierGeneral},
	}
}

func (s *Server) handlers() map[gate.RouteKey]handlerFunc {
	key := func(method, template string) gate.RouteKey {
		return gate.Route{Method: method, Template: template}.Key()
	}
	return map[gate.RouteKey]handlerFunc{
		key(fiber.MethodGet, "/health"):          s.healthHandler,
		key(fiber.MethodPost, "/api/auth/login"): s.loginHandler,

		key(fiber.MethodGet, "/api/auth/me"):          s.meHandler,
		key(fiber.MethodGet, "/api/tenants/current"):  s.currentTenantHandler,
		key(fiber.MethodGet, "/api/tenants/branding"): s.brandingHandler,

		key(fiber.MethodGet, "/api/admin/tenants"):              s.adminListTenantsHandler,
		key(fiber.MethodPatch, "/api/admin/tenants/:id/status"): s.adminSetTenantStatusHandler,

		key(fiber.MethodGet, "/api/clients"):       s.listClientsHandler,
		key(fiber.MethodGet, "/api/clients/:id"):   s.getClientHandler,
		key(fiber.MethodPatch, "/api/clients/:id"): s.updateClientHandler,

		key(fiber.MethodPost, "/api/applications/reorder"): s.reorderApplicationsHandler,
		key(fiber.MethodGet, "/api/applications/:id"):      s.getApplicationHandler,
		key(fiber.MethodGet, "/api/documents/:id"):         s.getDocumentHandler,

		key(fiber.MethodGet, "/api/team/:id"):  s.getTeamMemberHandler,
		key(fiber.MethodGet, "/api/users/:id"): s.getUserHandler,
	}
}

func (s *Server) healthHandler(c *fiber.Ctx, _ *gate.RequestContext) error {
	// Shallow health: process is up
	if c.Query("deep") != "true" {
		return c.JSON(fiber.Map{"status": "ok"})
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
	defer cancel()

	status := "ok"
	out := fiber.Map{}
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			s.logger.Warn("health check failed", "check", name, "error", err)
			out[name] = "error"
			status = "error"
			continue
		}
		out[name] = "ok"
	}
	out["status"] = status

	code := fiber.StatusOK
	if status != "ok" {
		code = fiber.StatusServiceUnavailable
	}
	return c.Status(code).JSON(out)
}
