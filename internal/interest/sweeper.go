package interest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/adhocore/gronx"
)

// DefaultSweepSchedule runs the sweeper once a minute.
const DefaultSweepSchedule = "* * * * *"

// Sweeper periodically drops decayed chats from a Store. Lookups already
// evict lazily; the sweeper bounds memory for chats that never come back.
type Sweeper struct {
	store    *Store
	schedule string
	now      func() time.Time
}

// NewSweeper validates the cron expression and returns a sweeper for store.
// An empty schedule uses DefaultSweepSchedule.
func NewSweeper(store *Store, schedule string) (*Sweeper, error) {
	if schedule == "" {
		schedule = DefaultSweepSchedule
	}
	if !gronx.New().IsValid(schedule) {
		return nil, fmt.Errorf("invalid sweep schedule %q", schedule)
	}
	return &Sweeper{store: store, schedule: schedule, now: time.Now}, nil
}

// Run sweeps on every schedule tick until ctx is cancelled.
func (sw *Sweeper) Run(ctx context.Context) error {
	slog.Info("interest sweeper started", "schedule", sw.schedule)
	for {
		next, err := gronx.NextTickAfter(sw.schedule, sw.now(), false)
		if err != nil {
			return fmt.Errorf("next sweep tick: %w", err)
		}

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			slog.Info("interest sweeper stopped")
			return nil
		case <-timer.C:
		}

		if n := sw.store.Sweep(sw.now()); n > 0 {
			slog.Debug("interest sweep", "removed", n, "remaining", sw.store.Len())
		}
	}
}
