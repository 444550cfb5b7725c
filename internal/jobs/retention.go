package jobs

import (
	"context"
	"log/slog"
	"time"
)

// AuditPruner deletes stored audit events older than a cutoff.
type AuditPruner interface {
	DeleteAuditEventsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// PruneRecorder receives the number of pruned events; *metrics.Metrics
// satisfies it.
type PruneRecorder interface {
	RecordAuditPruned(n int64)
}

// Retention periodically removes audit events past their retention window
// so the table does not grow without bound.
type Retention struct {
	Store    AuditPruner
	Days     int
	Interval time.Duration
	Metrics  PruneRecorder
	Logger   *slog.Logger

	now func() time.Time
}

func NewRetention(st AuditPruner, days int, interval time.Duration, logger *slog.Logger) *Retention {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = time.Hour
	}
	return &Retention{
		Store:    st,
		Days:     days,
		Interval: interval,
		Logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Cleanup runs one pruning pass. It is a no-op when Days is not positive.
func (r *Retention) Cleanup(ctx context.Context) (int64, error) {
	if r.Days <= 0 {
		return 0, nil
	}
	cutoff := r.now().AddDate(0, 0, -r.Days)
	n, err := r.Store.DeleteAuditEventsBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 && r.Metrics != nil {
		r.Metrics.RecordAuditPruned(n)
	}
	return n, nil
}

// Start runs Cleanup once and then on every Interval until ctx is done.
func (r *Retention) Start(ctx context.Context) {
	if r.Days <= 0 {
		return
	}
	ticker := time.NewTicker(r.Interval)
	defer ticker.Stop()

	for {
		if n, err := r.Cleanup(ctx); err != nil {
			r.Logger.Error("audit retention cleanup failed", "error", err)
		} else if n > 0 {
			r.Logger.Info("audit retention cleanup", "deleted", n, "retention_days", r.Days)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
