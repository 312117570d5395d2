package sync

import "time"

// Category outcome statuses.
const (
	StatusEmpty      = "empty"      // the subgraph has no record of this category
	StatusUpToDate   = "up-to-date" // latest upstream watermark is not newer than the cursor
	StatusNoNewEvent = "no-new-events"
	StatusSynced     = "synced"
)

// CategoryOutcome is the per-category line of a sync pass.
type CategoryOutcome struct {
	Category     string    `json:"category" yaml:"category"`
	Type         string    `json:"type" yaml:"type"`
	Status       string    `json:"status" yaml:"status"`
	Endpoints    []string  `json:"endpoints" yaml:"endpoints"`
	Requests     int       `json:"requests" yaml:"requests"`
	Added        int       `json:"added" yaml:"added"`
	OldWatermark Watermark `json:"oldWatermark,omitempty" yaml:"oldWatermark,omitempty"`
	NewWatermark Watermark `json:"newWatermark,omitempty" yaml:"newWatermark,omitempty"`
}

// Report summarises one sync pass.
type Report struct {
	RunID        string            `json:"runId" yaml:"runId"`
	StartedAt    time.Time         `json:"startedAt" yaml:"startedAt"`
	FinishedAt   time.Time         `json:"finishedAt" yaml:"finishedAt"`
	CursorCommit CursorCommit      `json:"cursorCommit" yaml:"cursorCommit"`
	Categories   []CategoryOutcome `json:"categories" yaml:"categories"`
	Insert       InsertResult      `json:"insert" yaml:"insert"`
}

// Queued is the number of new events gathered across all categories.
func (r Report) Queued() int {
	total := 0
	for _, c := range r.Categories {
		total += c.Added
	}
	return total
}

// Outcome returns the outcome recorded for category, if any.
func (r Report) Outcome(category string) (CategoryOutcome, bool) {
	for _, c := range r.Categories {
		if c.Category == category || c.Type == category {
			return c, true
		}
	}
	return CategoryOutcome{}, false
}
