package models

import (
	"encoding/json"
	"time"
)

// Admin job lifecycle states.
const (
	JobPending = "PENDING"
	JobRunning = "RUNNING"
	JobDone    = "DONE"
	JobFailed  = "FAILED"
)

// Admin job types.
const (
	JobTypeBulkUpdate   = "BULK_UPDATE"
	JobTypeExtendExpiry = "EXTEND_EXPIRY"
	JobTypeNotify       = "NOTIFY"
	JobTypeDailyImport  = "DAILY_IMPORT"
)

// ValidJobType reports whether t is an allowed admin job type.
func ValidJobType(t string) bool {
	switch t {
	case JobTypeBulkUpdate, JobTypeExtendExpiry, JobTypeNotify, JobTypeDailyImport:
		return true
	}
	return false
}

// AdminJob is a named batch operation over a resolved target set. A job never
// fails atomically: the aggregate status is DONE only when zero items failed,
// FAILED otherwise, and in both cases every item was attempted.
type AdminJob struct {
	JobID       string
	JobType     string
	Status      string
	TargetCount int
	Processed   int
	Failed      int
	Params      json.RawMessage
	CreatedBy   string
	CreatedAt   time.Time
	FinishedAt  *time.Time
}

// Job item states.
const (
	ItemPending = "PENDING"
	ItemDone    = "DONE"
	ItemFailed  = "FAILED"
)

// AdminJobItem tracks one user's outcome within a job.
type AdminJobItem struct {
	JobID        string
	UserID       int64
	Status       string
	ErrorMessage string
	UpdatedAt    time.Time
}
