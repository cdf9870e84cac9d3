package storage

import (
	"database/sql"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"adwatch/models"
)

// DebugStore is a local SQLite sink used in debug/dry-run mode: crawled
// drafts land here instead of the live pipeline, so a crawl can be inspected
// without touching Postgres or the broker.
type DebugStore struct {
	db *sql.DB
}

func NewDebugStore(dbPath string) (*DebugStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	store := &DebugStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

func (s *DebugStore) Close() error {
	return s.db.Close()
}

func (s *DebugStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS draft_listings (
		id INTEGER PRIMARY KEY,
		monitor_id INTEGER NOT NULL,
		run_id INTEGER NOT NULL,
		url TEXT NOT NULL,
		title TEXT NOT NULL,
		description TEXT,
		image TEXT,
		price REAL,
		max_price REAL,
		currency TEXT,
		saved_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_draft_listings_run ON draft_listings(run_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

func (s *DebugStore) SaveDraft(d *models.ListingDraft) error {
	query := `
		INSERT INTO draft_listings (monitor_id, run_id, url, title, description, image, price, max_price, currency, saved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.Exec(query,
		d.MonitorID, d.RunID, d.URL, d.Title, d.Description, d.Image, d.Price, d.MaxPrice, d.Currency, time.Now(),
	)
	return err
}

func (s *DebugStore) CountDraftsForRun(runID int64) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM draft_listings WHERE run_id = ?`, runID).Scan(&n)
	return n, err
}
