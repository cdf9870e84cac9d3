package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"adwatch/config"
	"adwatch/crawler"
	"adwatch/httputil"
	"adwatch/ingest"
	"adwatch/logging"
	"adwatch/marketplace"
	"adwatch/models"
	"adwatch/notify"
	"adwatch/queue"
	"adwatch/scheduler"
	"adwatch/storage"
	"adwatch/workers"
)

var (
	triggerNow = flag.Bool("trigger", false, "Run one scheduling pass and exit")
)

func main() {
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}
	logging.Setup(cfg.LogLevel)

	logrus.Info("Starting adwatch...")
	logrus.Infof("Loaded %d marketplace configs", len(cfg.Marketplaces))
	for id, mp := range cfg.Marketplaces {
		logrus.Infof("  - %s (%s)", mp.Name, id)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := storage.NewPostgresStore(ctx, cfg.Database.URL)
	if err != nil {
		logrus.Fatalf("Failed to connect to Postgres: %v", err)
	}
	defer store.Close()
	logrus.Info("Connected to Postgres")

	broker, err := queue.Connect(cfg.AMQP.URL, cfg.AMQP.TriggerQueue, cfg.AMQP.TaskQueue, cfg.AMQP.ResultQueue)
	if err != nil {
		logrus.Fatalf("Failed to connect to broker: %v", err)
	}
	defer broker.Close()
	logrus.Info("Connected to broker")

	sched := scheduler.New(store, broker, cfg.AMQP.TaskQueue)

	if *triggerNow {
		logrus.Info("Running scheduling pass...")
		if err := sched.Pass(ctx); err != nil {
			logrus.Fatalf("Scheduling pass failed: %v", err)
		}
		logrus.Info("Scheduling pass complete")
		return
	}

	clients := httputil.NewClients(cfg.Crawler.UserAgent, cfg.Crawler.Timeout)

	shafaPageSize := 0
	if mp, ok := cfg.Marketplaces["shafa_ua"]; ok {
		shafaPageSize = mp.PageSize
	}
	registry := marketplace.NewRegistry(
		marketplace.NewOLXAdapter(),
		marketplace.NewShafaAdapter(shafaPageSize),
	)

	rateLimits := make(map[string]time.Duration)
	for id, mp := range cfg.Marketplaces {
		rateLimits[id] = time.Duration(mp.RateLimitMS) * time.Millisecond
	}
	opts := crawler.Options{
		Concurrency: cfg.Crawler.Concurrency,
		LogDir:      cfg.RunLogDir,
		RateLimits:  rateLimits,
	}

	var engine *crawler.Engine
	if cfg.Crawler.DebugMode {
		debugStore, err := storage.NewDebugStore(cfg.DebugDBPath)
		if err != nil {
			logrus.Fatalf("Failed to open debug store: %v", err)
		}
		defer debugStore.Close()
		engine = crawler.NewDebugEngine(store, registry, clients.Scraping, debugStore, opts)
		logrus.Warnf("Debug mode: crawled records go to %s", cfg.DebugDBPath)
	} else {
		engine = crawler.NewEngine(store, registry, clients.Scraping, broker, cfg.AMQP.ResultQueue, opts)
	}

	notifier := notify.NewTelegramNotifier(cfg.Notifier.TelegramToken, clients.API)
	ingester := ingest.NewIngester(store, notifier)

	go consume(ctx, broker, cfg.AMQP.TriggerQueue, func(ctx context.Context, _ []byte) error {
		return sched.Pass(ctx)
	})
	go consume(ctx, broker, cfg.AMQP.TaskQueue, func(ctx context.Context, body []byte) error {
		var task models.ScrapeTask
		if err := json.Unmarshal(body, &task); err != nil {
			return err
		}
		return engine.Execute(ctx, &task)
	})
	go consume(ctx, broker, cfg.AMQP.ResultQueue, func(ctx context.Context, body []byte) error {
		var draft models.ListingDraft
		if err := json.Unmarshal(body, &draft); err != nil {
			return err
		}
		return ingester.Ingest(ctx, &draft)
	})
	logrus.Info("Consumers started")

	if err := sched.Start(ctx, cfg.AMQP.TriggerQueue, cfg.Scheduler.Cron, cfg.Scheduler.Interval); err != nil {
		logrus.Fatalf("Failed to start scheduler: %v", err)
	}

	reaper := workers.NewReaper(store, cfg.Crawler.MaxRunAge)
	go reaper.Run(ctx, 5*time.Minute)
	logrus.Info("Reaper started")

	logrus.Info("Daemon running. Press Ctrl+C to stop.")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logrus.Info("Shutting down...")
	sched.Stop()
	cancel()
	logrus.Info("Goodbye!")
}

func consume(ctx context.Context, broker *queue.Broker, queueName string, handler func(context.Context, []byte) error) {
	if err := broker.Consume(ctx, queueName, handler); err != nil && ctx.Err() == nil {
		logrus.WithError(err).Errorf("Consumer for %s stopped", queueName)
	}
}
