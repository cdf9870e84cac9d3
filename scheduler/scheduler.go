package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"adwatch/models"
)

// Store is the slice of the run state store scheduling needs.
type Store interface {
	GetDueMonitors(ctx context.Context) ([]models.Monitor, error)
	CreateRun(ctx context.Context, monitorID int64) (*models.Run, error)
	GetScheduledRuns(ctx context.Context) ([]models.Run, error)
	GetMonitor(ctx context.Context, id int64) (*models.Monitor, error)
	MarkRunQueued(ctx context.Context, runID int64) error
}

type Publisher interface {
	Publish(ctx context.Context, queueName string, body any) error
}

// Scheduler decides which monitors are due, creates their runs, and queues
// them. Pass is serialized by a process-wide mutex; with a single scheduler
// instance that is the whole mutual-exclusion story.
type Scheduler struct {
	store     Store
	publisher Publisher
	taskQueue string

	mu     sync.Mutex
	cron   *cron.Cron
	ticker *time.Ticker
	stopCh chan struct{}
}

func New(store Store, publisher Publisher, taskQueue string) *Scheduler {
	return &Scheduler{
		store:     store,
		publisher: publisher,
		taskQueue: taskQueue,
		cron:      cron.New(),
		stopCh:    make(chan struct{}),
	}
}

// Pass runs one scheduling pass: create runs for due monitors, then sweep
// every scheduled run (including leftovers from a crashed pass) into the
// task queue. The task is published before the run transitions to queued;
// if the process dies in between, the next delivery of the duplicate task is
// dropped by the crawl engine's transition guard.
//
// Consistency errors abort the pass; the next tick retries.
func (s *Scheduler) Pass(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	due, err := s.store.GetDueMonitors(ctx)
	if err != nil {
		return fmt.Errorf("select due monitors: %w", err)
	}

	for _, monitor := range due {
		if _, err := s.store.CreateRun(ctx, monitor.ID); err != nil {
			return fmt.Errorf("create run for monitor %d: %w", monitor.ID, err)
		}
	}

	scheduled, err := s.store.GetScheduledRuns(ctx)
	if err != nil {
		return fmt.Errorf("select scheduled runs: %w", err)
	}

	queued := 0
	for _, run := range scheduled {
		monitor, err := s.store.GetMonitor(ctx, run.MonitorID)
		if err != nil {
			return fmt.Errorf("get monitor %d: %w", run.MonitorID, err)
		}
		if monitor == nil {
			return fmt.Errorf("run %d references missing monitor %d", run.ID, run.MonitorID)
		}

		task := models.ScrapeTask{
			MonitorID:   monitor.ID,
			MonitorURL:  monitor.URL,
			RunID:       run.ID,
			Marketplace: monitor.Marketplace,
		}
		if err := s.publisher.Publish(ctx, s.taskQueue, &task); err != nil {
			return fmt.Errorf("publish task for run %d: %w", run.ID, err)
		}
		if err := s.store.MarkRunQueued(ctx, run.ID); err != nil {
			return fmt.Errorf("queue run %d: %w", run.ID, err)
		}
		queued++
	}

	logrus.Infof("Scheduling pass: %d monitors due, %d tasks queued", len(due), queued)
	return nil
}

// Start begins periodic triggering, either on a cron expression or a fixed
// interval. Each tick publishes to the trigger queue; the trigger consumer
// runs the pass. With neither configured the scheduler only reacts to
// external triggers.
func (s *Scheduler) Start(ctx context.Context, triggerQueue, cronExpr string, interval time.Duration) error {
	tick := func() {
		if err := s.publisher.Publish(ctx, triggerQueue, struct{}{}); err != nil {
			logrus.WithError(err).Error("Failed to publish trigger")
		}
	}

	if cronExpr != "" {
		logrus.Infof("Starting scheduler with cron: %s", cronExpr)
		if _, err := s.cron.AddFunc(cronExpr, tick); err != nil {
			return fmt.Errorf("invalid cron expression: %w", err)
		}
		s.cron.Start()
		return nil
	}

	if interval > 0 {
		logrus.Infof("Starting scheduler with interval: %s", interval)
		s.ticker = time.NewTicker(interval)
		go func() {
			for {
				select {
				case <-s.ticker.C:
					tick()
				case <-s.stopCh:
					return
				case <-ctx.Done():
					return
				}
			}
		}()
		return nil
	}

	logrus.Info("No schedule configured, waiting for external triggers")
	return nil
}

func (s *Scheduler) Stop() {
	if s.cron != nil {
		s.cron.Stop()
	}
	if s.ticker != nil {
		s.ticker.Stop()
	}
	close(s.stopCh)
}
