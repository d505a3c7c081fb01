package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusPartial   RunStatus = "partial"
	RunStatusFailed    RunStatus = "failed"
)

// SourceStats is the per-source breakdown of an ingestion run.
type SourceStats struct {
	Fetched int    `json:"fetched"`
	Created int    `json:"created"`
	Updated int    `json:"updated"`
	Errors  int    `json:"errors"`
	Failure string `json:"failure,omitempty"` // adapter-level error, if the fetch failed
}

// IngestRun is the persisted record of one ingestion pass over all sources.
type IngestRun struct {
	ID           uuid.UUID               `json:"id" db:"id"`
	StartedAt    time.Time               `json:"started_at" db:"started_at"`
	FinishedAt   *time.Time              `json:"finished_at" db:"finished_at"`
	Status       RunStatus               `json:"status" db:"status"`
	Fetched      int                     `json:"fetched" db:"fetched"`
	Created      int                     `json:"created" db:"created"`
	Updated      int                     `json:"updated" db:"updated"`
	Errors       int                     `json:"errors" db:"errors"`
	SourceErrors int                     `json:"source_errors" db:"source_errors"`
	BySource     map[string]*SourceStats `json:"by_source" db:"by_source"`
}

// BySourceJSON encodes the per-source breakdown for storage.
func (r *IngestRun) BySourceJSON() string {
	if len(r.BySource) == 0 {
		return "{}"
	}
	data, _ := json.Marshal(r.BySource)
	return string(data)
}
