package models

// ScrapeTask is the queue payload instructing a crawl worker to execute one
// run. It has no persistence of its own.
type ScrapeTask struct {
	MonitorID   int64  `json:"monitor_id"`
	MonitorURL  string `json:"monitor_url"`
	RunID       int64  `json:"run_id"`
	Marketplace string `json:"marketplace"`
}

// ListingDraft is a raw crawled listing before ingestion. URL and Title are
// mandatory; adapters drop records missing either.
type ListingDraft struct {
	MonitorID   int64    `json:"monitor_id"`
	RunID       int64    `json:"run_id"`
	URL         string   `json:"url"`
	Title       string   `json:"title"`
	Description *string  `json:"description,omitempty"`
	Image       *string  `json:"image,omitempty"`
	Price       *float64 `json:"price,omitempty"`
	MaxPrice    *float64 `json:"max_price,omitempty"`
	Currency    *string  `json:"currency,omitempty"`
}
