package models

import (
	"encoding/json"
	"time"
)

// Compensation task states.
const (
	CompensationPending    = "PENDING"
	CompensationInProgress = "IN_PROGRESS"
	CompensationDone       = "DONE"
	CompensationFailed     = "FAILED"
)

// CompensationTask is a deferred side effect that failed inline (e.g. a
// notification enqueue after a claim) and is retried by the worker with
// backoff until it succeeds or exhausts its retry budget.
type CompensationTask struct {
	ID         int64
	ActionType string
	Payload    json.RawMessage
	Status     string
	RetryCount int
	NextRetry  time.Time
	LastError  string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
