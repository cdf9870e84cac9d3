package workers

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"adwatch/models"
)

type ReaperStore interface {
	GetStaleRuns(ctx context.Context, maxAge time.Duration) ([]models.Run, error)
	ForceFailRun(ctx context.Context, runID int64) error
}

// Reaper force-fails runs stuck in a non-terminal state longer than maxAge,
// so a crawler that died mid-run cannot block its monitor forever.
type Reaper struct {
	store     ReaperStore
	maxAge    time.Duration
	triggerCh chan struct{}
}

func NewReaper(store ReaperStore, maxAge time.Duration) *Reaper {
	return &Reaper{
		store:     store,
		maxAge:    maxAge,
		triggerCh: make(chan struct{}, 1),
	}
}

// Trigger requests an immediate sweep.
func (w *Reaper) Trigger() {
	select {
	case w.triggerCh <- struct{}{}:
	default:
	}
}

func (w *Reaper) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.sweep(ctx)
		case <-w.triggerCh:
			w.sweep(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (w *Reaper) sweep(ctx context.Context) {
	stale, err := w.store.GetStaleRuns(ctx, w.maxAge)
	if err != nil {
		logrus.WithError(err).Error("Reaper: failed to list stale runs")
		return
	}

	for _, run := range stale {
		if err := w.store.ForceFailRun(ctx, run.ID); err != nil {
			logrus.WithError(err).Errorf("Reaper: failed to fail run %d", run.ID)
			continue
		}
		logrus.Warnf("Reaper: run %d (monitor %d, %s since %s) forced to failed",
			run.ID, run.MonitorID, run.Status, run.CreatedAt.Format(time.RFC3339))
	}
}
