package http

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"

	"consulate/internal/audit"
	"consulate/internal/gate"
	"consulate/internal/store"
)

const maxReorderIDs = 500

// notFoundOr writes a 404 for a missing record and passes any other error
// to the fiber error handler.
func notFoundOr(c *fiber.Ctx, err error, what string) error {
	if errors.Is(err, store.ErrNotFound) {
		return writeError(c, fiber.StatusNotFound, "NOT_FOUND", what+" not found")
	}
	return err
}

// The ownership gate has already validated and authorized :id for every
// handler below; the tenant scoping here is a second, query-level fence.

func (s *Server) listClientsHandler(c *fiber.Ctx, rc *gate.RequestContext) error {
	tenantID, ok := requireTenant(c, rc)
	if !ok {
		return nil
	}
	limit, offset := page(c)
	users, err := s.store.ListUsersByRole(c.UserContext(), tenantID, string(gate.RoleClient), limit, offset)
	if err != nil {
		return err
	}
	out := make([]UserView, 0, len(users))
	for _, u := range users {
		out = append(out, userView(u))
	}
	return writeData(c, fiber.StatusOK, out)
}

func (s *Server) getClientHandler(c *fiber.Ctx, rc *gate.RequestContext) error {
	return s.getUserWithRole(c, rc, string(gate.RoleClient), "Client")
}

func (s *Server) getTeamMemberHandler(c *fiber.Ctx, rc *gate.RequestContext) error {
	return s.getUserWithRole(c, rc, string(gate.RoleTeamMember), "Team member")
}

func (s *Server) getUserHandler(c *fiber.Ctx, rc *gate.RequestContext) error {
	return s.getUserWithRole(c, rc, "", "User")
}

func (s *Server) getUserWithRole(c *fiber.Ctx, rc *gate.RequestContext, role, what string) error {
	id := gate.NormalizeID(c.Params("id"))
	u, err := s.store.GetUser(c.UserContext(), rc.TenantID(), id)
	if err != nil {
		return notFoundOr(c, err, what)
	}
	if role != "" && u.Role != role {
		return writeError(c, fiber.StatusNotFound, "NOT_FOUND", what+" not found")
	}
	return writeData(c, fiber.StatusOK, userView(u))
}

func (s *Server) updateClientHandler(c *fiber.Ctx, rc *gate.RequestContext) error {
	var req UpdateClientRequest
	if err := c.BodyParser(&req); err != nil {
		return writeError(c, fiber.StatusBadRequest, "BAD_REQUEST_INVALID_JSON", "Bad request, malformed JSON")
	}
	name := strings.TrimSpace(req.Name)
	if name == "" || len(name) > 200 {
		return writeError(c, fiber.StatusBadRequest, "INVALID_NAME", "name must be between 1 and 200 characters")
	}

	id := gate.NormalizeID(c.Params("id"))
	u, err := s.store.UpdateUserName(c.UserContext(), rc.TenantID(), string(gate.RoleClient), id, name)
	if err != nil {
		return notFoundOr(c, err, "Client")
	}
	return writeData(c, fiber.StatusOK, userView(u))
}

func (s *Server) getApplicationHandler(c *fiber.Ctx, rc *gate.RequestContext) error {
	id := gate.NormalizeID(c.Params("id"))
	a, err := s.store.GetApplication(c.UserContext(), rc.TenantID(), id)
	if err != nil {
		return notFoundOr(c, err, "Application")
	}
	return writeData(c, fiber.StatusOK, applicationView(a))
}

func (s *Server) getDocumentHandler(c *fiber.Ctx, rc *gate.RequestContext) error {
	id := gate.NormalizeID(c.Params("id"))
	d, err := s.store.GetDocument(c.UserContext(), rc.TenantID(), id)
	if err != nil {
		return notFoundOr(c, err, "Document")
	}
	return writeData(c, fiber.StatusOK, documentView(d))
}

// reorderApplicationsHandler is the bulk operation. Every id is checked
// before the store is touched and the update is all or nothing.
func (s *Server) reorderApplicationsHandler(c *fiber.Ctx, rc *gate.RequestContext) error {
	tenantID, ok := requireTenant(c, rc)
	if !ok {
		return nil
	}

	var req ReorderApplicationsRequest
	if err := c.BodyParser(&req); err != nil {
		return writeError(c, fiber.StatusBadRequest, "BAD_REQUEST_INVALID_JSON", "Bad request, malformed JSON")
	}
	if len(req.IDs) == 0 || len(req.IDs) > maxReorderIDs {
		return writeError(c, fiber.StatusBadRequest, "INVALID_REQUEST", "ids must contain between 1 and 500 application ids")
	}

	seen := make(map[string]struct{}, len(req.IDs))
	ids := make([]string, 0, len(req.IDs))
	for _, raw := range req.IDs {
		if !gate.ValidID(raw) {
			return writeError(c, gate.KindInvalidID.Status(), gate.KindInvalidID.Code(), "Application id is malformed")
		}
		id := gate.NormalizeID(raw)
		if _, dup := seen[id]; dup {
			return writeError(c, fiber.StatusBadRequest, "INVALID_REQUEST", "ids must not repeat")
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}

	if err := s.store.ReorderApplications(c.UserContext(), tenantID, ids); err != nil {
		return notFoundOr(c, err, "One or more applications")
	}

	p, _ := rc.Principal()
	s.audit.Emit(c.UserContext(), audit.Event{
		PrincipalID: p.ID,
		TenantID:    tenantID,
		Action:      "applications.reordered",
		Resource:    "application",
		Method:      c.Method(),
		Endpoint:    c.Path(),
		IP:          c.IP(),
		UserAgent:   c.Get(fiber.HeaderUserAgent),
		StatusCode:  fiber.StatusOK,
		Category:    audit.CategoryAuthorization,
		Severity:    audit.SeverityInfo,
		Metadata:    map[string]any{"count": len(ids)},
	})

	return writeData(c, fiber.StatusOK, fiber.Map{"reordered": len(ids)})
}
