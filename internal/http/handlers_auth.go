package http

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"

	"consulate/internal/audit"
	"consulate/internal/gate"
	"consulate/internal/services"
)

func (s *Server) loginHandler(c *fiber.Ctx, rc *gate.RequestContext) error {
	var req LocalLoginRequest
	if err := c.BodyParser(&req); err != nil {
		return writeError(c, fiber.StatusBadRequest, "BAD_REQUEST_INVALID_JSON", "Bad request, malformed JSON")
	}

	res, err := s.auth.LoginLocal(c.UserContext(), req.Email, req.Password)
	if err != nil {
		s.metrics.RecordLogin(false)

		email := strings.ToLower(strings.TrimSpace(req.Email))
		status, code, msg := fiber.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error"
		reason := code
		switch {
		case errors.Is(err, services.ErrInvalidCredentials):
			status, code, msg = fiber.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password"
			reason = code
		case errors.Is(err, services.ErrAccountMisconfigured):
			// Same answer as a wrong password: the caller must not learn the
			// credentials were right.
			status, code, msg = fiber.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password"
			reason = "ACCOUNT_MISCONFIGURED"
			s.logger.Warn("login rejected for misconfigured account",
				"request_id", rc.CorrelationID(), "email", email, "error", err)
		default:
			s.logger.Error("login failed", "request_id", rc.CorrelationID(), "error", err)
		}

		s.audit.Emit(c.UserContext(), s.loginEvent(c, "", "", "auth.login.failed", status, audit.SeverityWarning,
			map[string]any{"email": email, "reason": reason}))
		return writeError(c, status, code, msg)
	}

	s.metrics.RecordLogin(true)
	s.audit.Emit(c.UserContext(), s.loginEvent(c, res.Principal.ID, res.Principal.HomeTenantID,
		"auth.login.succeeded", fiber.StatusOK, audit.SeverityInfo, map[string]any{"role": res.Principal.Role.String()}))

	return writeData(c, fiber.StatusOK, LocalLoginResponse{
		Token:     res.Token,
		TokenType: "Bearer",
		ExpiresAt: res.ExpiresAt,
		Principal: principalView(res.Principal),
	})
}

func (s *Server) loginEvent(c *fiber.Ctx, principalID, tenantID, action string, status int, sev audit.Severity, meta map[string]any) audit.Event {
	return audit.Event{
		PrincipalID: principalID,
		TenantID:    tenantID,
		Action:      action,
		Resource:    "session",
		Method:      c.Method(),
		Endpoint:    c.Path(),
		IP:          c.IP(),
		UserAgent:   c.Get(fiber.HeaderUserAgent),
		StatusCode:  status,
		Category:    audit.CategoryAuthentication,
		Severity:    sev,
		Metadata:    meta,
	}
}

// meHandler returns the request context as the gates resolved it.
func (s *Server) meHandler(c *fiber.Ctx, rc *gate.RequestContext) error {
	p, _ := rc.Principal()
	resp := MeResponse{
		Principal:     principalView(p),
		CorrelationID: rc.CorrelationID(),
	}
	if tc, ok := rc.Tenant(); ok {
		v := tenantContextView(tc)
		resp.Tenant = &v
	}
	return writeData(c, fiber.StatusOK, resp)
}
