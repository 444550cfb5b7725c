package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// PostgresSink appends events to the audit_events table.
type PostgresSink struct {
	DB execer
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func (s *PostgresSink) Write(ctx context.Context, ev Event) error {
	meta := []byte("{}")
	if len(ev.Metadata) > 0 {
		b, err := json.Marshal(ev.Metadata)
		if err != nil {
			return fmt.Errorf("marshal audit metadata: %w", err)
		}
		meta = b
	}

	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO audit_events
		(principal_id, tenant_id, action, resource, resource_id, method, endpoint, ip, user_agent, status_code, category, severity, metadata, occurred_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
	`,
		nullString(ev.PrincipalID),
		nullString(ev.TenantID),
		ev.Action,
		ev.Resource,
		nullString(ev.ResourceID),
		ev.Method,
		ev.Endpoint,
		nullString(ev.IP),
		nullString(ev.UserAgent),
		ev.StatusCode,
		string(ev.Category),
		string(ev.Severity),
		meta,
		ev.OccurredAt,
	)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

type kafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
	// Logger receives delivery failures reported after Write returns.
	Logger *slog.Logger
}

// KafkaSink publishes events as JSON, keyed by tenant so one tenant's
// events stay ordered within a partition.
type KafkaSink struct {
	writer kafkaWriter
}

func NewKafkaSink(cfg KafkaConfig) (*KafkaSink, error) {
	brokers := make([]string, 0, len(cfg.Brokers))
	for _, b := range cfg.Brokers {
		trimmed := strings.TrimSpace(b)
		if trimmed != "" {
			brokers = append(brokers, trimmed)
		}
	}
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers required")
	}
	if strings.TrimSpace(cfg.Topic) == "" {
		return nil, fmt.Errorf("kafka topic required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	// Async keeps request paths off the broker round trip; delivery
	// failures surface through Completion instead of Write.
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 50 * time.Millisecond,
		Async:        true,
		Completion:   kafkaCompletion(logger, cfg.Topic),
	}
	return &KafkaSink{writer: w}, nil
}

func kafkaCompletion(logger *slog.Logger, topic string) func([]kafka.Message, error) {
	return func(msgs []kafka.Message, err error) {
		if err == nil {
			return
		}
		logger.Error("audit kafka delivery failed", "topic", topic, "messages", len(msgs), "error", err)
	}
}

func (s *KafkaSink) Write(ctx context.Context, ev Event) error {
	if s == nil || s.writer == nil {
		return fmt.Errorf("kafka sink not initialized")
	}
	b, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}
	key := ev.TenantID
	if key == "" {
		key = "platform"
	}
	return s.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(key),
		Value: b,
		Time:  ev.OccurredAt,
	})
}

func (s *KafkaSink) Close() error {
	if s == nil || s.writer == nil {
		return nil
	}
	return s.writer.Close()
}

// LogSink writes events to a structured logger.
type LogSink struct {
	Logger *slog.Logger
}

func (s *LogSink) Write(ctx context.Context, ev Event) error {
	level := slog.LevelInfo
	switch ev.Severity {
	case SeverityWarning:
		level = slog.LevelWarn
	case SeverityError:
		level = slog.LevelError
	}
	s.Logger.Log(ctx, level, "audit",
		"action", ev.Action,
		"category", ev.Category,
		"principal_id", ev.PrincipalID,
		"tenant_id", ev.TenantID,
		"resource", ev.Resource,
		"resource_id", ev.ResourceID,
		"method", ev.Method,
		"endpoint", ev.Endpoint,
		"status", ev.StatusCode,
		"ip", ev.IP,
		"metadata", ev.Metadata,
	)
	return nil
}

// MemorySink keeps events in memory; used by tests and local runs.
type MemorySink struct {
	mu     sync.Mutex
	events []Event
}

func (m *MemorySink) Write(_ context.Context, ev Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return nil
}

// Events returns a copy of everything written so far.
func (m *MemorySink) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Event(nil), m.events...)
}
