package audit

import (
	"context"
	"log/slog"
	"time"
)

// Category groups events for filtering in the audit store.
type Category string

const (
	CategoryAuthentication Category = "authentication"
	CategoryTenancy        Category = "tenancy"
	CategoryAuthorization  Category = "authorization"
	CategoryRateLimit      Category = "rate_limit"
)

type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityNotice  Severity = "notice"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Event is a write-once security record.
type Event struct {
	PrincipalID string         `json:"principalId,omitempty"`
	TenantID    string         `json:"tenantId,omitempty"`
	Action      string         `json:"action"`
	Resource    string         `json:"resource"`
	ResourceID  string         `json:"resourceId,omitempty"`
	Method      string         `json:"method"`
	Endpoint    string         `json:"endpoint"`
	IP          string         `json:"ip,omitempty"`
	UserAgent   string         `json:"userAgent,omitempty"`
	StatusCode  int            `json:"statusCode"`
	Category    Category       `json:"category"`
	Severity    Severity       `json:"severity"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	OccurredAt  time.Time      `json:"occurredAt"`
}

// Sink persists or forwards events. Implementations must not mutate ev.
type Sink interface {
	Write(ctx context.Context, ev Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, ev Event) error

func (f SinkFunc) Write(ctx context.Context, ev Event) error { return f(ctx, ev) }

// Emitter fans an event out to every configured sink. A sink failure is
// logged and never changes the outcome of the request that produced it.
type Emitter struct {
	sinks   []Sink
	logger  *slog.Logger
	timeout time.Duration
	now     func() time.Time
}

func NewEmitter(logger *slog.Logger, sinks ...Sink) *Emitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Emitter{
		sinks:   sinks,
		logger:  logger,
		timeout: 3 * time.Second,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Emit writes ev to every sink. The write is detached from request
// cancellation so a dropped client cannot erase the record.
func (e *Emitter) Emit(ctx context.Context, ev Event) {
	if e == nil {
		return
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = e.now()
	}
	if ev.Severity == "" {
		ev.Severity = SeverityInfo
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.timeout)
	defer cancel()

	for _, s := range e.sinks {
		if err := s.Write(ctx, ev); err != nil {
			e.logger.Error("audit sink write failed",
				"action", ev.Action,
				"tenant_id", ev.TenantID,
				"error", err,
			)
		}
	}
}
