package dto

import (
	"github.com/sablesec/strikepoint/internal/journeys"
	"github.com/sablesec/strikepoint/internal/scans"
)

type CreateJourneyRequest struct {
	Type        journeys.Type   `json:"type" binding:"required"`
	Config      journeys.Config `json:"config" binding:"required"`
	CollectorID string          `json:"collector_id"`
}

type ListJourneysResponse struct {
	Journeys []*journeys.Journey `json:"journeys"`
	Count    int                 `json:"count"`
}

// ResultCallbackRequest is the job completion report posted by the scan
// worker or forwarded from a collector.
type ResultCallbackRequest struct {
	Source  string       `json:"source"`
	JobID   string       `json:"job_id" binding:"required"`
	Results scans.Result `json:"results"`
}

type PullJobsResponse struct {
	Jobs  []*scans.Job `json:"jobs"`
	Count int          `json:"count"`
}
