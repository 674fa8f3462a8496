package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nextlevelbuilder/replygate/internal/interest"
)

type fakeLog struct {
	before time.Time
	n      int64
	err    error
}

func (f *fakeLog) Append(context.Context, Record) error { return nil }
func (f *fakeLog) Recent(context.Context, string, int) ([]Record, error) {
	return nil, nil
}
func (f *fakeLog) RecentOwnMessages(context.Context, string, int) ([]interest.TrackedMessage, error) {
	return nil, nil
}
func (f *fakeLog) Prune(_ context.Context, before time.Time) (int64, error) {
	f.before = before
	return f.n, f.err
}
func (f *fakeLog) Close() error { return nil }

func TestNewPruner_Validates(t *testing.T) {
	tests := []struct {
		name      string
		schedule  string
		retention time.Duration
		wantErr   bool
	}{
		{"valid", "0 * * * *", time.Hour, false},
		{"bad schedule", "every hour", time.Hour, true},
		{"zero retention", "0 * * * *", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewPruner(&fakeLog{}, tt.schedule, tt.retention)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewPruner() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestPruneOnce(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	log := &fakeLog{n: 4}
	p, err := NewPruner(log, "0 * * * *", 24*time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	p.now = func() time.Time { return now }

	n, err := p.PruneOnce(context.Background())
	if err != nil || n != 4 {
		t.Fatalf("PruneOnce() = %d, %v", n, err)
	}
	if want := now.Add(-24 * time.Hour); !log.before.Equal(want) {
		t.Errorf("cutoff = %v, want %v", log.before, want)
	}

	log.err = errors.New("disk full")
	if _, err := p.PruneOnce(context.Background()); !errors.Is(err, log.err) {
		t.Errorf("PruneOnce() error = %v, want wrapped disk full", err)
	}
}

func TestPruner_StopsOnCancel(t *testing.T) {
	p, err := NewPruner(&fakeLog{}, "0 0 1 1 *", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
