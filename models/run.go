package models

import "time"

type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusPartial   RunStatus = "partial"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

type HarvestRun struct {
	ID           int64      `json:"id" db:"id"`
	UUID         string     `json:"uuid" db:"uuid"`
	URL          string     `json:"url" db:"url"`
	ListingID    string     `json:"listing_id" db:"listing_id"`
	StartedAt    time.Time  `json:"started_at" db:"started_at"`
	FinishedAt   *time.Time `json:"finished_at" db:"finished_at"`
	Status       RunStatus  `json:"status" db:"status"`
	ReviewsFound int        `json:"reviews_found" db:"reviews_found"`
	ReviewsNew   int        `json:"reviews_new" db:"reviews_new"`
	LoadRounds   int        `json:"load_rounds" db:"load_rounds"`
	OutputPath   string     `json:"output_path" db:"output_path"`
	ErrorMessage string     `json:"error_message" db:"error_message"`
}

// Duration reports how long the run took, or zero while it is still running.
func (r *HarvestRun) Duration() time.Duration {
	if r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
