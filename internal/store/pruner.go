package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/adhocore/gronx"
)

// Pruner deletes message log entries older than a retention window on a
// cron schedule.
type Pruner struct {
	log       MessageLog
	schedule  string
	retention time.Duration
	now       func() time.Time
}

// NewPruner validates schedule and returns a pruner for log.
func NewPruner(log MessageLog, schedule string, retention time.Duration) (*Pruner, error) {
	if retention <= 0 {
		return nil, fmt.Errorf("prune retention must be positive, got %s", retention)
	}
	if !gronx.New().IsValid(schedule) {
		return nil, fmt.Errorf("invalid prune schedule %q", schedule)
	}
	return &Pruner{log: log, schedule: schedule, retention: retention, now: time.Now}, nil
}

// PruneOnce removes entries older than the retention window.
func (p *Pruner) PruneOnce(ctx context.Context) (int64, error) {
	n, err := p.log.Prune(ctx, p.now().Add(-p.retention))
	if err != nil {
		return 0, fmt.Errorf("prune message log: %w", err)
	}
	return n, nil
}

// Run prunes on every schedule tick until ctx is cancelled. Failed prunes
// are logged and retried on the next tick.
func (p *Pruner) Run(ctx context.Context) error {
	slog.Info("message log pruner started", "schedule", p.schedule, "retention", p.retention)
	for {
		next, err := gronx.NextTickAfter(p.schedule, p.now(), false)
		if err != nil {
			return fmt.Errorf("next prune tick: %w", err)
		}

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			slog.Info("message log pruner stopped")
			return nil
		case <-timer.C:
		}

		n, err := p.PruneOnce(ctx)
		if err != nil {
			slog.Warn("message log prune failed", "error", err)
			continue
		}
		if n > 0 {
			slog.Info("message log pruned", "removed", n)
		}
	}
}
