package models

import "time"

// AuditEntry is one admin mutation record. Written inside the same
// transaction as the mutation it describes so audit and effect stay
// consistent.
type AuditEntry struct {
	ID              int64
	AdminUser       string
	Action          string
	Endpoint        string
	TargetUserIDs   []int64
	TargetCount     int
	RequestID       string
	RequestBody     string
	ResponseStatus  int
	ResponseSummary string
	ErrorMessage    string
	JobID           string
	IdempotencyKey  string
	CreatedAt       time.Time
}

// ExpiryExtension is one applied expiry extension, keyed by a per-user
// request id so the same extension request is applied at most once.
type ExpiryExtension struct {
	RequestID string
	UserID    int64
	Hours     int
	Reason    string
	Actor     string
	CreatedAt time.Time
}

// Expiry extension reasons.
const (
	ExtendReasonOps   = "OPS"
	ExtendReasonPromo = "PROMO"
	ExtendReasonAdmin = "ADMIN"
)

// ValidExtendReason reports whether r is an allowed extension reason.
func ValidExtendReason(r string) bool {
	return r == ExtendReasonOps || r == ExtendReasonPromo || r == ExtendReasonAdmin
}
