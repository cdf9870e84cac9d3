package models

import "time"

// Field ceilings mirror the column widths in Postgres. Adapters crop longer
// values before emitting them.
const (
	MaxURLLen         = 2000
	MaxTitleLen       = 100
	MaxDescriptionLen = 300
	MaxImageLen       = 2000
	MaxCurrencyLen    = 3
)

// Listing is one marketplace search result, keyed by (monitor_id, url).
// Re-appearance under the same URL is the same listing; RunID tracks the run
// during which it was last seen.
type Listing struct {
	ID          int64     `json:"id" db:"id"`
	MonitorID   int64     `json:"monitor_id" db:"monitor_id"`
	RunID       int64     `json:"run_id" db:"run_id"`
	URL         string    `json:"url" db:"url"`
	Title       string    `json:"title" db:"title"`
	Description *string   `json:"description" db:"description"`
	Image       *string   `json:"image" db:"image"`
	Price       *float64  `json:"price" db:"price"`
	MaxPrice    *float64  `json:"max_price" db:"max_price"`
	Currency    *string   `json:"currency" db:"currency"`
	Notified    bool      `json:"notified" db:"notified"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}
