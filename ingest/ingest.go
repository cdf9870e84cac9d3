package ingest

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"adwatch/models"
)

// Store is the slice of the persistent store ingestion needs.
type Store interface {
	UpsertListing(ctx context.Context, d *models.ListingDraft) (*models.Listing, bool, error)
	GetFirstRun(ctx context.Context, monitorID int64) (*models.Run, error)
	GetMonitor(ctx context.Context, id int64) (*models.Monitor, error)
	GetUser(ctx context.Context, id int64) (*models.User, error)
	MarkListingNotified(ctx context.Context, id int64) error
}

// Notifier delivers one listing to one user.
type Notifier interface {
	Send(ctx context.Context, user *models.User, listing *models.Listing) error
}

// Ingester durably records crawled listings and notifies owners of new ones.
// Idempotent per draft: re-ingesting the same (monitor, url) updates the row
// and never re-notifies.
type Ingester struct {
	store    Store
	notifier Notifier
}

func NewIngester(store Store, notifier Notifier) *Ingester {
	return &Ingester{store: store, notifier: notifier}
}

// Ingest upserts the draft and decides whether the owner should hear about
// it. A listing triggers a notification only on first sighting (the upsert
// inserted the row), and only when that sighting is not part of the
// monitor's first-ever run: the baseline is never notified. Re-sightings
// update the row and stay silent, which also covers redeliveries from the
// result queue. The attempt is made at most once; the listing is marked
// notified regardless of delivery outcome.
func (i *Ingester) Ingest(ctx context.Context, d *models.ListingDraft) error {
	listing, inserted, err := i.store.UpsertListing(ctx, d)
	if err != nil {
		return fmt.Errorf("upsert listing: %w", err)
	}

	firstRun, err := i.store.GetFirstRun(ctx, listing.MonitorID)
	if err != nil {
		return fmt.Errorf("get first run: %w", err)
	}
	if firstRun == nil {
		return fmt.Errorf("monitor %d has a listing but no runs", listing.MonitorID)
	}

	if !inserted || listing.Notified || listing.RunID == firstRun.ID {
		return nil
	}

	if err := i.notify(ctx, listing); err != nil {
		// Delivery failures are swallowed: retrying risks duplicate spam,
		// and the listing is marked notified either way.
		logrus.WithError(err).Warnf("Notification failed for listing %d", listing.ID)
	}

	if err := i.store.MarkListingNotified(ctx, listing.ID); err != nil {
		return fmt.Errorf("mark notified: %w", err)
	}
	return nil
}

func (i *Ingester) notify(ctx context.Context, listing *models.Listing) error {
	monitor, err := i.store.GetMonitor(ctx, listing.MonitorID)
	if err != nil {
		return fmt.Errorf("get monitor: %w", err)
	}
	if monitor == nil {
		return fmt.Errorf("monitor %d not found", listing.MonitorID)
	}

	user, err := i.store.GetUser(ctx, monitor.UserID)
	if err != nil {
		return fmt.Errorf("get user: %w", err)
	}
	if user == nil {
		return fmt.Errorf("user %d not found", monitor.UserID)
	}

	return i.notifier.Send(ctx, user, listing)
}
