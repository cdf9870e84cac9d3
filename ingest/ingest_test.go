package ingest

import (
	"context"
	"fmt"
	"testing"

	"adwatch/models"
)

type fakeStore struct {
	listings  map[string]*models.Listing
	nextID    int64
	firstRuns map[int64]*models.Run
	monitors  map[int64]*models.Monitor
	users     map[int64]*models.User
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		listings:  make(map[string]*models.Listing),
		firstRuns: make(map[int64]*models.Run),
		monitors:  make(map[int64]*models.Monitor),
		users:     make(map[int64]*models.User),
	}
}

func (s *fakeStore) key(monitorID int64, url string) string {
	return fmt.Sprintf("%d|%s", monitorID, url)
}

func (s *fakeStore) UpsertListing(_ context.Context, d *models.ListingDraft) (*models.Listing, bool, error) {
	key := s.key(d.MonitorID, d.URL)
	if existing, ok := s.listings[key]; ok {
		existing.RunID = d.RunID
		existing.Title = d.Title
		if d.Description != nil {
			existing.Description = d.Description
		}
		if d.Price != nil {
			existing.Price = d.Price
		}
		out := *existing
		return &out, false, nil
	}

	s.nextID++
	listing := &models.Listing{
		ID:          s.nextID,
		MonitorID:   d.MonitorID,
		RunID:       d.RunID,
		URL:         d.URL,
		Title:       d.Title,
		Description: d.Description,
		Image:       d.Image,
		Price:       d.Price,
		MaxPrice:    d.MaxPrice,
		Currency:    d.Currency,
	}
	s.listings[key] = listing
	out := *listing
	return &out, true, nil
}

func (s *fakeStore) GetFirstRun(_ context.Context, monitorID int64) (*models.Run, error) {
	return s.firstRuns[monitorID], nil
}

func (s *fakeStore) GetMonitor(_ context.Context, id int64) (*models.Monitor, error) {
	return s.monitors[id], nil
}

func (s *fakeStore) GetUser(_ context.Context, id int64) (*models.User, error) {
	return s.users[id], nil
}

func (s *fakeStore) MarkListingNotified(_ context.Context, id int64) error {
	for _, l := range s.listings {
		if l.ID == id {
			l.Notified = true
			return nil
		}
	}
	return fmt.Errorf("listing %d not found", id)
}

func (s *fakeStore) listing(monitorID int64, url string) *models.Listing {
	return s.listings[s.key(monitorID, url)]
}

type fakeNotifier struct {
	err  error
	sent []int64
}

func (n *fakeNotifier) Send(_ context.Context, _ *models.User, listing *models.Listing) error {
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, listing.ID)
	return nil
}

func seed(store *fakeStore) {
	store.monitors[1] = &models.Monitor{ID: 1, UserID: 100, Marketplace: "olx_ua"}
	store.users[100] = &models.User{ID: 100, Language: models.LanguageEN}
	store.firstRuns[1] = &models.Run{ID: 10, MonitorID: 1, Status: models.RunStatusSuccess}
}

func draft(runID int64, url string) *models.ListingDraft {
	return &models.ListingDraft{
		MonitorID: 1,
		RunID:     runID,
		URL:       url,
		Title:     "Listing " + url,
	}
}

func TestIngestBaselineRunIsSilent(t *testing.T) {
	store := newFakeStore()
	seed(store)
	notifier := &fakeNotifier{}
	ingester := NewIngester(store, notifier)

	for _, url := range []string{"https://example.com/a", "https://example.com/b"} {
		if err := ingester.Ingest(context.Background(), draft(10, url)); err != nil {
			t.Fatalf("ingest failed: %v", err)
		}
	}

	if len(notifier.sent) != 0 {
		t.Fatalf("baseline run must not notify, sent %v", notifier.sent)
	}
	a := store.listing(1, "https://example.com/a")
	if a == nil || a.Notified {
		t.Fatalf("expected a stored, un-notified listing, got %+v", a)
	}
}

func TestIngestNotifiesOnlyNewListings(t *testing.T) {
	store := newFakeStore()
	seed(store)
	notifier := &fakeNotifier{}
	ingester := NewIngester(store, notifier)

	// Baseline run sees A and B.
	for _, url := range []string{"https://example.com/a", "https://example.com/b"} {
		if err := ingester.Ingest(context.Background(), draft(10, url)); err != nil {
			t.Fatalf("baseline ingest failed: %v", err)
		}
	}

	// The next run sees A, B and a new C.
	for _, url := range []string{"https://example.com/a", "https://example.com/b", "https://example.com/c"} {
		if err := ingester.Ingest(context.Background(), draft(11, url)); err != nil {
			t.Fatalf("ingest failed: %v", err)
		}
	}

	c := store.listing(1, "https://example.com/c")
	if c == nil {
		t.Fatalf("expected C stored")
	}
	if len(notifier.sent) != 1 || notifier.sent[0] != c.ID {
		t.Fatalf("expected exactly one notification for C, sent %v", notifier.sent)
	}
	if !c.Notified {
		t.Fatalf("expected C marked notified")
	}

	a := store.listing(1, "https://example.com/a")
	if a.Notified {
		t.Fatalf("re-sighted baseline listing must stay un-notified")
	}
	if a.RunID != 11 {
		t.Fatalf("expected A moved to run 11, got %d", a.RunID)
	}
}

func TestIngestRedeliveryStaysSilent(t *testing.T) {
	store := newFakeStore()
	seed(store)
	notifier := &fakeNotifier{}
	ingester := NewIngester(store, notifier)

	d := draft(11, "https://example.com/c")
	if err := ingester.Ingest(context.Background(), d); err != nil {
		t.Fatalf("ingest failed: %v", err)
	}
	if err := ingester.Ingest(context.Background(), d); err != nil {
		t.Fatalf("redelivered ingest failed: %v", err)
	}

	if len(notifier.sent) != 1 {
		t.Fatalf("expected one notification, sent %v", notifier.sent)
	}
}

func TestIngestDeliveryFailureStillMarksNotified(t *testing.T) {
	store := newFakeStore()
	seed(store)
	notifier := &fakeNotifier{err: fmt.Errorf("telegram is down")}
	ingester := NewIngester(store, notifier)

	if err := ingester.Ingest(context.Background(), draft(11, "https://example.com/c")); err != nil {
		t.Fatalf("ingest should swallow delivery failures, got: %v", err)
	}

	c := store.listing(1, "https://example.com/c")
	if !c.Notified {
		t.Fatalf("expected listing marked notified despite delivery failure")
	}

	// Once the notifier recovers, the listing is not retried.
	notifier.err = nil
	if err := ingester.Ingest(context.Background(), draft(11, "https://example.com/c")); err != nil {
		t.Fatalf("re-ingest failed: %v", err)
	}
	if len(notifier.sent) != 0 {
		t.Fatalf("expected no late retry, sent %v", notifier.sent)
	}
}

func TestIngestFailsWithoutRuns(t *testing.T) {
	store := newFakeStore()
	store.monitors[1] = &models.Monitor{ID: 1, UserID: 100}
	ingester := NewIngester(store, &fakeNotifier{})

	if err := ingester.Ingest(context.Background(), draft(11, "https://example.com/c")); err == nil {
		t.Fatalf("expected an error for a monitor with no runs")
	}
}
