package http

import (
	"strconv"

	"github.com/gofiber/fiber/v2"

	"consulate/internal/gate"
)

// requestContextKey is the fiber Locals key holding the *gate.RequestContext.
const requestContextKey = "gateContext"

// handlerFunc is a route handler that has already passed the gate pipeline.
type handlerFunc func(c *fiber.Ctx, rc *gate.RequestContext) error

// guard runs the gate pipeline for route before h. A rejection is written
// as the error envelope and h never runs.
func (s *Server) guard(route gate.Route, h handlerFunc) fiber.Handler {
	return func(c *fiber.Ctx) error {
		req := s.gateRequest(c, route)

		rc, err := s.pipeline.Run(c.UserContext(), req)
		if err != nil {
			return s.writeGateError(c, route, gate.AsError(err))
		}

		if d, ok := rc.RateLimit(); ok {
			c.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
			c.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
		}

		c.Locals(requestContextKey, rc)
		c.SetUserContext(gate.WithRequestContext(c.UserContext(), rc))
		return h(c, rc)
	}
}

// gateRequest copies the transport fields the gates need out of fiber.
func (s *Server) gateRequest(c *fiber.Ctx, route gate.Route) *gate.Request {
	var tenantHeader []string
	for _, v := range c.Request().Header.PeekAll(s.config.Tenancy.HeaderName) {
		tenantHeader = append(tenantHeader, string(v))
	}

	reqID, _ := c.Locals("request_id").(string)

	return &gate.Request{
		Method:        c.Method(),
		Path:          c.Path(),
		Route:         route,
		Authorization: c.Get(fiber.HeaderAuthorization),
		TenantHeader:  tenantHeader,
		Host:          c.Hostname(),
		IP:            c.IP(),
		UserAgent:     c.Get(fiber.HeaderUserAgent),
		Params:        c.AllParams(),
		CorrelationID: reqID,
	}
}

func (s *Server) writeGateError(c *fiber.Ctx, route gate.Route, gerr *gate.Error) error {
	for k, v := range gerr.Headers {
		c.Set(k, v)
	}
	if gerr.Kind == gate.KindRateLimitExceeded {
		s.metrics.RecordRateLimited(string(route.RateTier))
	}

	body := ErrorBody{Code: gerr.Kind.Code(), Message: gerr.Message}
	if !s.config.IsProduction() {
		if len(gerr.Debug) > 0 || gerr.Err != nil {
			body.Debug = make(map[string]any, len(gerr.Debug)+1)
			for k, v := range gerr.Debug {
				body.Debug[k] = v
			}
			if gerr.Err != nil {
				body.Debug["cause"] = gerr.Err.Error()
			}
		}
	}
	return c.Status(gerr.Kind.Status()).JSON(ErrorResponse{Success: false, Error: body})
}
