package models

import "time"

type RunStatus string

const (
	RunStatusScheduled RunStatus = "scheduled"
	RunStatusQueued    RunStatus = "queued"
	RunStatusRunning   RunStatus = "running"
	RunStatusSuccess   RunStatus = "success"
	RunStatusFailed    RunStatus = "failed"
)

// Terminal reports whether the status allows no further transitions.
func (s RunStatus) Terminal() bool {
	return s == RunStatusSuccess || s == RunStatusFailed
}

// Run is one execution attempt of a monitor's crawl. Runs are append-only
// history; a run row is never mutated after reaching a terminal status.
type Run struct {
	ID         int64      `json:"id" db:"id"`
	MonitorID  int64      `json:"monitor_id" db:"monitor_id"`
	Status     RunStatus  `json:"status" db:"status"`
	LogFile    *string    `json:"log_file" db:"log_file"`
	DurationMS *int64     `json:"duration_ms" db:"duration_ms"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at" db:"updated_at"`
}
