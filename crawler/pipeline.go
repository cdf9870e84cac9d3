package crawler

import (
	"context"

	"github.com/sirupsen/logrus"

	"adwatch/models"
)

// Stage is one side-effecting step applied to every emitted draft. A stage
// may pass the draft through, transform it, or drop it by returning nil.
// Stages carrying per-run state (the dedup set) are constructed fresh for
// each run.
type Stage interface {
	Process(ctx context.Context, log *logrus.Logger, d *models.ListingDraft) (*models.ListingDraft, error)
}

// validateStage drops drafts missing a mandatory field. Dropping is a
// warning, never a crawl error: marketplaces routinely ship junk records.
type validateStage struct{}

func (validateStage) Process(_ context.Context, log *logrus.Logger, d *models.ListingDraft) (*models.ListingDraft, error) {
	if d.URL == "" || d.Title == "" {
		log.Warnf("Skipping listing, missing required data: url=%q title=%q", d.URL, d.Title)
		return nil, nil
	}
	return d, nil
}

// dedupStage suppresses duplicate emission of the same listing URL within a
// single run. Marketplaces repeat items across paginated views.
type dedupStage struct {
	seen map[string]struct{}
}

func newDedupStage() *dedupStage {
	return &dedupStage{seen: make(map[string]struct{})}
}

func (s *dedupStage) Process(_ context.Context, log *logrus.Logger, d *models.ListingDraft) (*models.ListingDraft, error) {
	if _, dup := s.seen[d.URL]; dup {
		log.Debugf("Duplicate listing within run: %s", d.URL)
		return nil, nil
	}
	s.seen[d.URL] = struct{}{}
	return d, nil
}

// publishStage hands the draft to the result queue for asynchronous
// ingestion. This is the default emission path; it decouples crawl
// throughput from storage write latency.
type publishStage struct {
	publisher Publisher
	queueName string
}

func (s *publishStage) Process(ctx context.Context, log *logrus.Logger, d *models.ListingDraft) (*models.ListingDraft, error) {
	if err := s.publisher.Publish(ctx, s.queueName, d); err != nil {
		return nil, err
	}
	log.Debugf("Published listing: %s", d.URL)
	return d, nil
}

// debugStage routes drafts to the local debug store instead of the live
// pipeline. Used in dry-run mode.
type debugStage struct {
	store DebugStore
}

func (s *debugStage) Process(_ context.Context, log *logrus.Logger, d *models.ListingDraft) (*models.ListingDraft, error) {
	if err := s.store.SaveDraft(d); err != nil {
		return nil, err
	}
	log.Debugf("Saved draft locally: %s", d.URL)
	return d, nil
}

// ingestStage calls the ingester directly, bypassing the result queue. Used
// when the daemon runs without a broker.
type ingestStage struct {
	ingester Ingester
}

func (s *ingestStage) Process(ctx context.Context, log *logrus.Logger, d *models.ListingDraft) (*models.ListingDraft, error) {
	if err := s.ingester.Ingest(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}
