package models

import (
	"time"
)

// AutomationStatus is the state of one deduplicated automation job
type AutomationStatus string

const (
	AutomationQueued  AutomationStatus = "queued"
	AutomationRunning AutomationStatus = "running"
	AutomationDone    AutomationStatus = "done"
	AutomationFailed  AutomationStatus = "failed"
)

// allowedAutomationTransitions is the closed transition set for jobs
var allowedAutomationTransitions = map[AutomationStatus][]AutomationStatus{
	AutomationQueued:  {AutomationRunning, AutomationFailed},
	AutomationRunning: {AutomationDone, AutomationFailed},
	AutomationFailed:  {AutomationQueued},
}

// CanTransitionAutomation reports whether a job status change is allowed
func CanTransitionAutomation(from, to AutomationStatus) bool {
	for _, allowed := range allowedAutomationTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// AutomationJob is one SQL-backed deduplicated background job
type AutomationJob struct {
	ID        string           `json:"id"`
	JobType   string           `json:"job_type"`
	DedupeKey string           `json:"dedupe_key"`
	Status    AutomationStatus `json:"status"`
	Payload   string           `json:"payload"` // JSON
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// AutomationAudit is one state transition row for an automation job
type AutomationAudit struct {
	JobID      string           `json:"job_id"`
	FromStatus AutomationStatus `json:"from_status"`
	ToStatus   AutomationStatus `json:"to_status"`
	Note       string           `json:"note,omitempty"`
	At         time.Time        `json:"at"`
}
