package crawler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"adwatch/logging"
	"adwatch/marketplace"
	"adwatch/models"
	"adwatch/storage"
)

// RunStore is the slice of the run state store the engine needs.
type RunStore interface {
	MarkRunRunning(ctx context.Context, runID int64, logFile string) error
	FinishRun(ctx context.Context, runID int64, status models.RunStatus, duration time.Duration) error
}

type Publisher interface {
	Publish(ctx context.Context, queueName string, body any) error
}

type DebugStore interface {
	SaveDraft(d *models.ListingDraft) error
}

type Ingester interface {
	Ingest(ctx context.Context, d *models.ListingDraft) error
}

// Engine executes scrape tasks end to end: run state transitions, the
// bounded-concurrency paginated crawl, and the emission pipeline.
type Engine struct {
	store       RunStore
	registry    *marketplace.Registry
	client      *http.Client
	concurrency int
	logDir      string
	rateLimits  map[string]time.Duration

	// exactly one of these is set; it becomes the final pipeline stage
	publisher Publisher
	queueName string
	debug     DebugStore
	ingester  Ingester
}

type Options struct {
	Concurrency int
	LogDir      string
	RateLimits  map[string]time.Duration
}

// NewEngine builds an engine that publishes emitted drafts to the result
// queue.
func NewEngine(store RunStore, registry *marketplace.Registry, client *http.Client, publisher Publisher, queueName string, opts Options) *Engine {
	e := newEngine(store, registry, client, opts)
	e.publisher = publisher
	e.queueName = queueName
	return e
}

// NewDebugEngine builds an engine that routes drafts to the local debug
// store instead of the live pipeline.
func NewDebugEngine(store RunStore, registry *marketplace.Registry, client *http.Client, debug DebugStore, opts Options) *Engine {
	e := newEngine(store, registry, client, opts)
	e.debug = debug
	return e
}

// NewDirectEngine builds an engine that ingests drafts synchronously,
// without a broker in between.
func NewDirectEngine(store RunStore, registry *marketplace.Registry, client *http.Client, ingester Ingester, opts Options) *Engine {
	e := newEngine(store, registry, client, opts)
	e.ingester = ingester
	return e
}

func newEngine(store RunStore, registry *marketplace.Registry, client *http.Client, opts Options) *Engine {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	return &Engine{
		store:       store,
		registry:    registry,
		client:      client,
		concurrency: opts.Concurrency,
		logDir:      opts.LogDir,
		rateLimits:  opts.RateLimits,
	}
}

// Execute runs one scrape task. The run transitions queued -> running ->
// success/failed; every crawl error is contained here and reflected only in
// the terminal run state plus the run log. A nil return means the task is
// consumed, not that the crawl succeeded.
func (e *Engine) Execute(ctx context.Context, task *models.ScrapeTask) error {
	runLog, err := logging.NewRunLog(e.logDir, task.RunID, logrus.GetLevel())
	if err != nil {
		return fmt.Errorf("open run log: %w", err)
	}
	defer runLog.Close()

	if err := e.store.MarkRunRunning(ctx, task.RunID, runLog.Name); err != nil {
		if errors.Is(err, storage.ErrRowMismatch) {
			// Duplicate delivery: the run already moved past queued.
			logrus.Warnf("Dropping duplicate scrape task for run %d", task.RunID)
			return nil
		}
		return fmt.Errorf("mark run %d running: %w", task.RunID, err)
	}

	start := time.Now()
	runLog.Logger.Infof("Starting crawl: monitor=%d run=%d marketplace=%s url=%s",
		task.MonitorID, task.RunID, task.Marketplace, task.MonitorURL)

	crawlErr := e.crawl(ctx, runLog.Logger, task)
	elapsed := time.Since(start)

	if crawlErr != nil {
		runLog.Logger.WithError(crawlErr).Error("Crawl failed")
		logrus.WithError(crawlErr).Errorf("Run %d failed after %s", task.RunID, elapsed.Round(time.Millisecond))
		if err := e.store.FinishRun(ctx, task.RunID, models.RunStatusFailed, elapsed); err != nil {
			return fmt.Errorf("finish run %d: %w", task.RunID, err)
		}
		return nil
	}

	runLog.Logger.Infof("Crawl finished in %s", elapsed.Round(time.Millisecond))
	if err := e.store.FinishRun(ctx, task.RunID, models.RunStatusSuccess, elapsed); err != nil {
		return fmt.Errorf("finish run %d: %w", task.RunID, err)
	}
	logrus.Infof("Run %d succeeded in %s", task.RunID, elapsed.Round(time.Millisecond))
	return nil
}

func (e *Engine) stages() []Stage {
	stages := []Stage{validateStage{}, newDedupStage()}
	switch {
	case e.debug != nil:
		stages = append(stages, &debugStage{store: e.debug})
	case e.ingester != nil:
		stages = append(stages, &ingestStage{ingester: e.ingester})
	default:
		stages = append(stages, &publishStage{publisher: e.publisher, queueName: e.queueName})
	}
	return stages
}

// crawl runs the bounded worker pool over the adapter's page chain. Each
// worker fetches a page, parses it, pushes drafts through the pipeline, and
// re-enqueues the follow-up request. The pool drains when no requests remain
// outstanding or the first error cancels the run.
func (e *Engine) crawl(ctx context.Context, runLog *logrus.Logger, task *models.ScrapeTask) error {
	adapter, ok := e.registry.Get(task.Marketplace)
	if !ok {
		return fmt.Errorf("no adapter registered for marketplace %q", task.Marketplace)
	}

	initial, err := adapter.BuildInitialRequest(task.MonitorURL)
	if err != nil {
		return fmt.Errorf("build initial request: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stages := e.stages()
	rateLimit := e.rateLimits[task.Marketplace]

	// Each page yields at most one follow-up, so pending never holds more
	// than concurrency+1 requests.
	pending := make(chan *marketplace.Request, e.concurrency+1)
	var outstanding sync.WaitGroup

	var mu sync.Mutex
	var firstErr error
	fail := func(err error) {
		mu.Lock()
		if firstErr == nil {
			firstErr = err
			cancel()
		}
		mu.Unlock()
	}

	outstanding.Add(1)
	pending <- initial
	go func() {
		outstanding.Wait()
		close(pending)
	}()

	var workers sync.WaitGroup
	for i := 0; i < e.concurrency; i++ {
		workers.Add(1)
		go func() {
			defer workers.Done()
			for req := range pending {
				if ctx.Err() != nil {
					outstanding.Done()
					continue
				}

				next, err := e.processPage(ctx, runLog, adapter, task, req, stages)
				if err != nil {
					fail(err)
				} else if next != nil {
					// Delay before the follow-up enters the pool; sleeping
					// after would let an idle worker fetch it immediately.
					if rateLimit > 0 {
						select {
						case <-time.After(rateLimit):
						case <-ctx.Done():
						}
					}
					outstanding.Add(1)
					pending <- next
				}
				outstanding.Done()
			}
		}()
	}
	workers.Wait()

	mu.Lock()
	defer mu.Unlock()
	return firstErr
}

func (e *Engine) processPage(ctx context.Context, runLog *logrus.Logger, adapter marketplace.Adapter, task *models.ScrapeTask, req *marketplace.Request, stages []Stage) (*marketplace.Request, error) {
	resp, err := e.fetch(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("fetch page %d: %w", req.Page, err)
	}
	runLog.Infof("Fetched page %d: %s (%d bytes)", req.Page, req.URL, len(resp.Body))

	drafts, next, err := adapter.ParsePage(resp)
	if err != nil {
		return nil, fmt.Errorf("parse page %d: %w", req.Page, err)
	}
	runLog.Infof("Parsed page %d: %d records", req.Page, len(drafts))

	for i := range drafts {
		draft := &drafts[i]
		draft.MonitorID = task.MonitorID
		draft.RunID = task.RunID

		for _, stage := range stages {
			draft, err = stage.Process(ctx, runLog, draft)
			if err != nil {
				return nil, fmt.Errorf("pipeline stage on page %d: %w", req.Page, err)
			}
			if draft == nil {
				break
			}
		}
	}

	return next, nil
}

func (e *Engine) fetch(ctx context.Context, req *marketplace.Request) (*marketplace.Response, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	for name, value := range req.Headers {
		httpReq.Header.Set(name, value)
	}
	for name, value := range req.Cookies {
		httpReq.AddCookie(&http.Cookie{Name: name, Value: value})
	}

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d for %s", resp.StatusCode, req.URL)
	}

	return &marketplace.Response{
		URL:        resp.Request.URL,
		StatusCode: resp.StatusCode,
		Body:       data,
		Request:    req,
	}, nil
}
