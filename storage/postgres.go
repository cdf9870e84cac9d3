package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"adwatch/models"
)

// ErrRowMismatch means an update matched zero or more than one row where
// exactly one was expected. It signals a broken upstream assumption and is
// never retried.
var ErrRowMismatch = errors.New("row count mismatch")

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 2
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Pool() *pgxpool.Pool {
	return s.pool
}

func toInterval(d time.Duration) pgtype.Interval {
	return pgtype.Interval{Microseconds: d.Microseconds(), Valid: true}
}

func fromInterval(iv pgtype.Interval) time.Duration {
	d := time.Duration(iv.Microseconds) * time.Microsecond
	d += time.Duration(iv.Days) * 24 * time.Hour
	d += time.Duration(iv.Months) * 30 * 24 * time.Hour
	return d
}

// =============================================================================
// Users
// =============================================================================

func (s *PostgresStore) UpsertUser(ctx context.Context, u *models.User) error {
	query := `
		INSERT INTO users (id, language, created_at, updated_at)
		VALUES ($1, $2, NOW(), NOW())
		ON CONFLICT (id) DO UPDATE SET
			language = EXCLUDED.language,
			updated_at = NOW()`

	_, err := s.pool.Exec(ctx, query, u.ID, u.Language)
	return err
}

func (s *PostgresStore) GetUser(ctx context.Context, id int64) (*models.User, error) {
	query := `SELECT id, language, created_at, updated_at FROM users WHERE id = $1`

	var u models.User
	err := s.pool.QueryRow(ctx, query, id).Scan(&u.ID, &u.Language, &u.CreatedAt, &u.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// =============================================================================
// Monitors
// =============================================================================

func (s *PostgresStore) CreateMonitor(ctx context.Context, m *models.Monitor) error {
	query := `
		INSERT INTO monitors (user_id, marketplace, name, url, run_interval, enabled, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
		RETURNING id, created_at, updated_at`

	return s.pool.QueryRow(ctx, query,
		m.UserID, m.Marketplace, m.Name, m.URL, toInterval(m.RunInterval), m.Enabled,
	).Scan(&m.ID, &m.CreatedAt, &m.UpdatedAt)
}

func (s *PostgresStore) GetMonitor(ctx context.Context, id int64) (*models.Monitor, error) {
	query := `
		SELECT id, user_id, marketplace, name, url, run_interval, enabled, created_at, updated_at
		FROM monitors WHERE id = $1`

	return s.scanMonitor(s.pool.QueryRow(ctx, query, id))
}

func (s *PostgresStore) UpdateMonitor(ctx context.Context, m *models.Monitor) error {
	query := `
		UPDATE monitors SET name = $2, url = $3, run_interval = $4, enabled = $5, updated_at = NOW()
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query, m.ID, m.Name, m.URL, toInterval(m.RunInterval), m.Enabled)
	if err != nil {
		return err
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("%w: update monitor %d matched %d rows", ErrRowMismatch, m.ID, tag.RowsAffected())
	}
	return nil
}

// GetDueMonitors selects monitors that need a new run: enabled, with no run
// in flight, and either never run before or past their interval since the
// latest run was created.
func (s *PostgresStore) GetDueMonitors(ctx context.Context) ([]models.Monitor, error) {
	query := `
		SELECT m.id, m.user_id, m.marketplace, m.name, m.url, m.run_interval, m.enabled, m.created_at, m.updated_at
		FROM monitors m
		WHERE m.enabled = true
			AND NOT EXISTS (
				SELECT 1 FROM runs r
				WHERE r.monitor_id = m.id AND r.status NOT IN ('success', 'failed')
			)
			AND (
				NOT EXISTS (SELECT 1 FROM runs r WHERE r.monitor_id = m.id)
				OR (SELECT MAX(r.created_at) FROM runs r WHERE r.monitor_id = m.id) + m.run_interval <= NOW()
			)
		ORDER BY m.id`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var monitors []models.Monitor
	for rows.Next() {
		var m models.Monitor
		var iv pgtype.Interval
		if err := rows.Scan(
			&m.ID, &m.UserID, &m.Marketplace, &m.Name, &m.URL, &iv, &m.Enabled, &m.CreatedAt, &m.UpdatedAt,
		); err != nil {
			return nil, err
		}
		m.RunInterval = fromInterval(iv)
		monitors = append(monitors, m)
	}
	return monitors, rows.Err()
}

func (s *PostgresStore) scanMonitor(row pgx.Row) (*models.Monitor, error) {
	var m models.Monitor
	var iv pgtype.Interval
	err := row.Scan(&m.ID, &m.UserID, &m.Marketplace, &m.Name, &m.URL, &iv, &m.Enabled, &m.CreatedAt, &m.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	m.RunInterval = fromInterval(iv)
	return &m, nil
}

// =============================================================================
// Runs
// =============================================================================

func (s *PostgresStore) CreateRun(ctx context.Context, monitorID int64) (*models.Run, error) {
	query := `
		INSERT INTO runs (monitor_id, status, created_at, updated_at)
		VALUES ($1, 'scheduled', NOW(), NOW())
		RETURNING id, created_at, updated_at`

	run := &models.Run{MonitorID: monitorID, Status: models.RunStatusScheduled}
	err := s.pool.QueryRow(ctx, query, monitorID).Scan(&run.ID, &run.CreatedAt, &run.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return run, nil
}

func (s *PostgresStore) GetRun(ctx context.Context, id int64) (*models.Run, error) {
	query := `
		SELECT id, monitor_id, status, log_file, duration_ms, created_at, updated_at
		FROM runs WHERE id = $1`

	var r models.Run
	err := s.pool.QueryRow(ctx, query, id).Scan(
		&r.ID, &r.MonitorID, &r.Status, &r.LogFile, &r.DurationMS, &r.CreatedAt, &r.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *PostgresStore) GetScheduledRuns(ctx context.Context) ([]models.Run, error) {
	query := `
		SELECT id, monitor_id, status, log_file, duration_ms, created_at, updated_at
		FROM runs WHERE status = 'scheduled'
		ORDER BY id`

	return s.queryRuns(ctx, query)
}

// MarkRunQueued transitions scheduled -> queued.
func (s *PostgresStore) MarkRunQueued(ctx context.Context, runID int64) error {
	return s.transition(ctx, runID, models.RunStatusScheduled, models.RunStatusQueued,
		`UPDATE runs SET status = 'queued', updated_at = NOW() WHERE id = $1 AND status = 'scheduled'`)
}

// MarkRunRunning transitions queued -> running and records the log pointer.
func (s *PostgresStore) MarkRunRunning(ctx context.Context, runID int64, logFile string) error {
	query := `UPDATE runs SET status = 'running', log_file = $2, updated_at = NOW() WHERE id = $1 AND status = 'queued'`
	tag, err := s.pool.Exec(ctx, query, runID, logFile)
	if err != nil {
		return err
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("%w: run %d queued->running matched %d rows", ErrRowMismatch, runID, tag.RowsAffected())
	}
	return nil
}

// FinishRun transitions running -> success/failed and records the elapsed
// duration. Terminal rows are never touched again.
func (s *PostgresStore) FinishRun(ctx context.Context, runID int64, status models.RunStatus, duration time.Duration) error {
	if !status.Terminal() {
		return fmt.Errorf("finish run %d: %s is not a terminal status", runID, status)
	}

	query := `UPDATE runs SET status = $2, duration_ms = $3, updated_at = NOW() WHERE id = $1 AND status = 'running'`
	tag, err := s.pool.Exec(ctx, query, runID, status, duration.Milliseconds())
	if err != nil {
		return err
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("%w: run %d running->%s matched %d rows", ErrRowMismatch, runID, status, tag.RowsAffected())
	}
	return nil
}

// GetFirstRun returns the monitor's earliest run, the baseline for
// notification suppression.
func (s *PostgresStore) GetFirstRun(ctx context.Context, monitorID int64) (*models.Run, error) {
	query := `
		SELECT id, monitor_id, status, log_file, duration_ms, created_at, updated_at
		FROM runs WHERE monitor_id = $1
		ORDER BY created_at, id
		LIMIT 1`

	var r models.Run
	err := s.pool.QueryRow(ctx, query, monitorID).Scan(
		&r.ID, &r.MonitorID, &r.Status, &r.LogFile, &r.DurationMS, &r.CreatedAt, &r.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// GetStaleRuns returns non-terminal runs older than maxAge, candidates for
// the dead-run reaper.
func (s *PostgresStore) GetStaleRuns(ctx context.Context, maxAge time.Duration) ([]models.Run, error) {
	query := `
		SELECT id, monitor_id, status, log_file, duration_ms, created_at, updated_at
		FROM runs
		WHERE status NOT IN ('success', 'failed') AND created_at < NOW() - $1::interval
		ORDER BY created_at`

	rows, err := s.pool.Query(ctx, query, toInterval(maxAge))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRuns(rows)
}

// ForceFailRun marks a stuck run failed regardless of its current
// non-terminal status.
func (s *PostgresStore) ForceFailRun(ctx context.Context, runID int64) error {
	query := `
		UPDATE runs SET status = 'failed', duration_ms = (EXTRACT(EPOCH FROM NOW() - created_at) * 1000)::bigint, updated_at = NOW()
		WHERE id = $1 AND status NOT IN ('success', 'failed')`

	tag, err := s.pool.Exec(ctx, query, runID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("%w: force-fail run %d matched %d rows", ErrRowMismatch, runID, tag.RowsAffected())
	}
	return nil
}

func (s *PostgresStore) transition(ctx context.Context, runID int64, from, to models.RunStatus, query string) error {
	tag, err := s.pool.Exec(ctx, query, runID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("%w: run %d %s->%s matched %d rows", ErrRowMismatch, runID, from, to, tag.RowsAffected())
	}
	return nil
}

func (s *PostgresStore) queryRuns(ctx context.Context, query string, args ...any) ([]models.Run, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRuns(rows)
}

func scanRuns(rows pgx.Rows) ([]models.Run, error) {
	var runs []models.Run
	for rows.Next() {
		var r models.Run
		if err := rows.Scan(
			&r.ID, &r.MonitorID, &r.Status, &r.LogFile, &r.DurationMS, &r.CreatedAt, &r.UpdatedAt,
		); err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// =============================================================================
// Listings
// =============================================================================

// UpsertListing inserts a crawled draft or, when (monitor_id, url) already
// exists, refreshes its mutable fields and moves it to the current run. The
// notified flag is never touched here. The returned bool reports whether the
// row was inserted (first sighting) rather than updated; xmax = 0 only on
// freshly inserted tuples.
func (s *PostgresStore) UpsertListing(ctx context.Context, d *models.ListingDraft) (*models.Listing, bool, error) {
	query := `
		INSERT INTO listings (
			monitor_id, run_id, url, title, description, image, price, max_price, currency,
			notified, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, false, NOW(), NOW())
		ON CONFLICT (monitor_id, url) DO UPDATE SET
			run_id = EXCLUDED.run_id,
			title = EXCLUDED.title,
			description = COALESCE(EXCLUDED.description, listings.description),
			image = COALESCE(EXCLUDED.image, listings.image),
			price = COALESCE(EXCLUDED.price, listings.price),
			max_price = COALESCE(EXCLUDED.max_price, listings.max_price),
			currency = COALESCE(EXCLUDED.currency, listings.currency),
			updated_at = NOW()
		RETURNING id, monitor_id, run_id, url, title, description, image, price, max_price, currency,
			notified, created_at, updated_at, (xmax = 0) AS inserted`

	var l models.Listing
	var inserted bool
	err := s.pool.QueryRow(ctx, query,
		d.MonitorID, d.RunID, d.URL, d.Title, d.Description, d.Image, d.Price, d.MaxPrice, d.Currency,
	).Scan(
		&l.ID, &l.MonitorID, &l.RunID, &l.URL, &l.Title, &l.Description, &l.Image, &l.Price, &l.MaxPrice, &l.Currency,
		&l.Notified, &l.CreatedAt, &l.UpdatedAt, &inserted,
	)
	if err != nil {
		return nil, false, err
	}
	return &l, inserted, nil
}

func (s *PostgresStore) GetListing(ctx context.Context, monitorID int64, url string) (*models.Listing, error) {
	query := `
		SELECT id, monitor_id, run_id, url, title, description, image, price, max_price, currency,
			notified, created_at, updated_at
		FROM listings WHERE monitor_id = $1 AND url = $2`

	var l models.Listing
	err := s.pool.QueryRow(ctx, query, monitorID, url).Scan(
		&l.ID, &l.MonitorID, &l.RunID, &l.URL, &l.Title, &l.Description, &l.Image, &l.Price, &l.MaxPrice, &l.Currency,
		&l.Notified, &l.CreatedAt, &l.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &l, nil
}

// MarkListingNotified flips the notified flag. Called exactly once per
// listing, after the notification attempt.
func (s *PostgresStore) MarkListingNotified(ctx context.Context, id int64) error {
	query := `UPDATE listings SET notified = true, updated_at = NOW() WHERE id = $1`
	tag, err := s.pool.Exec(ctx, query, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("%w: mark listing %d notified matched %d rows", ErrRowMismatch, id, tag.RowsAffected())
	}
	return nil
}
