package http

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/google/uuid"

	"consulate/internal/audit"
	"consulate/internal/config"
	"consulate/internal/gate"
	"consulate/internal/metrics"
	"consulate/internal/services"
	"consulate/internal/store"
)

// DataStore is the persistence surface the handlers read and write.
type DataStore interface {
	TenantByID(ctx context.Context, id string) (gate.Tenant, error)
	ListTenants(ctx context.Context, limit, offset int) ([]gate.Tenant, error)
	SetTenantStatus(ctx context.Context, id string, status gate.TenantStatus) (gate.Tenant, error)
	GetUser(ctx context.Context, tenantID, id string) (store.User, error)
	ListUsersByRole(ctx context.Context, tenantID, role string, limit, offset int) ([]store.User, error)
	UpdateUserName(ctx context.Context, tenantID, role, id, name string) (store.User, error)
	GetApplication(ctx context.Context, tenantID, id string) (store.Application, error)
	ReorderApplications(ctx context.Context, tenantID string, ids []string) error
	GetDocument(ctx context.Context, tenantID, id string) (store.Document, error)
}

// HealthCheck pings one dependency for /health?deep=true.
type HealthCheck func(ctx context.Context) error

type Deps struct {
	Store    DataStore
	Auth     services.AuthService
	Pipeline *gate.Pipeline
	Audit    *audit.Emitter
	Metrics  *metrics.Metrics
	// Checks are keyed by dependency name, e.g. "db" or "redis".
	Checks map[string]HealthCheck
}

type Server struct {
	app      *fiber.App
	config   *config.Config
	store    DataStore
	auth     services.AuthService
	pipeline *gate.Pipeline
	audit    *audit.Emitter
	metrics  *metrics.Metrics
	checks   map[string]HealthCheck
	logger   *slog.Logger
}

func NewServer(cfg *config.Config, deps Deps, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New()
	}

	s := &Server{
		config:   cfg,
		store:    deps.Store,
		auth:     deps.Auth,
		pipeline: deps.Pipeline,
		audit:    deps.Audit,
		metrics:  deps.Metrics,
		checks:   deps.Checks,
		logger:   logger,
	}

	app := fiber.New(fiber.Config{
		ErrorHandler:          s.errorHandler,
		DisableStartupMessage: true,
	})

	// Request logging + metrics middleware
	app.Use(func(c *fiber.Ctx) error {
		start := time.Now()

		// Ensure a request ID exists
		reqID := c.Get("X-Request-Id")
		if reqID == "" {
			reqID = uuid.New().String()
		}
		c.Locals("request_id", reqID)
		c.Set("X-Request-Id", reqID)

		err := c.Next()
		if err != nil {
			// Let the error handler set the final status before we record it.
			if herr := s.errorHandler(c, err); herr != nil {
				return herr
			}
		}

		latency := time.Since(start)
		status := c.Response().StatusCode()
		method := c.Method()
		route := c.Route().Path

		s.metrics.RecordRequest(method, route, status, latency)

		attrs := []any{
			"request_id", reqID,
			"method", method,
			"path", c.Path(),
			"route", route,
			"status", status,
			"latency_ms", latency.Milliseconds(),
		}
		if rc, ok := c.Locals(requestContextKey).(*gate.RequestContext); ok {
			if p, ok := rc.Principal(); ok {
				attrs = append(attrs, "principal_id", p.ID, "role", p.Role)
			}
			if tid := rc.TenantID(); tid != "" {
				attrs = append(attrs, "tenant_id", tid)
			}
		}
		logger.Info("request", attrs...)

		return nil
	})

	// Prometheus metrics endpoint
	app.Get("/metrics", adaptor.HTTPHandler(s.metrics.Handler()))

	s.app = app
	s.registerRoutes()
	return s
}

// App exposes the fiber app, mainly for tests.
func (s *Server) App() *fiber.App { return s.app }

func (s *Server) Listen() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	return s.app.Listen(addr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

// registerRoutes attaches every policy in Routes to its handler behind the
// gate pipeline.
func (s *Server) registerRoutes() {
	handlers := s.handlers()
	for _, route := range Routes() {
		h, ok := handlers[route.Key()]
		if !ok {
			panic(fmt.Sprintf("no handler for %s %s", route.Method, route.Template))
		}
		s.app.Add(route.Method, route.Template, s.guard(route, h))
	}
}

func (s *Server) errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
	}

	switch code {
	case fiber.StatusNotFound:
		return writeError(c, code, "NOT_FOUND", "Route not found")
	case fiber.StatusMethodNotAllowed:
		return writeError(c, code, "METHOD_NOT_ALLOWED", "Method not allowed")
	case fiber.StatusInternalServerError:
		s.logger.Error("unhandled error", "request_id", c.Locals("request_id"), "path", c.Path(), "error", err)
		return writeError(c, code, "INTERNAL_ERROR", "Internal server error")
	default:
		return writeError(c, code, "REQUEST_ERROR", fe.Message)
	}
}
