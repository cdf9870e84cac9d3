package models

import "time"

// Monitor is a user's saved recurring marketplace search.
type Monitor struct {
	ID          int64         `json:"id" db:"id"`
	UserID      int64         `json:"user_id" db:"user_id"`
	Marketplace string        `json:"marketplace" db:"marketplace"`
	Name        string        `json:"name" db:"name"`
	URL         string        `json:"url" db:"url"`
	RunInterval time.Duration `json:"run_interval" db:"run_interval"`
	Enabled     bool          `json:"enabled" db:"enabled"`
	CreatedAt   time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at" db:"updated_at"`
}
