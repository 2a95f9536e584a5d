package models

import (
	"encoding/json"
	"time"
)

// Notification queue states.
const (
	NotifyPending   = "PENDING"
	NotifySent      = "SENT"
	NotifyFailed    = "FAILED"
	NotifyCancelled = "CANCELLED"
)

// Allowed notification types.
var AllowedNotifyTypes = map[string]bool{
	"EXPIRY_D2":     true,
	"EXPIRY_D0":     true,
	"ATTENDANCE_D2": true,
	"TICKET_ZERO":   true,
	"SOCIAL_PROOF":  true,
}

// Allowed template variants.
var AllowedVariantIDs = map[string]bool{
	"A": true,
	"B": true,
	"C": true,
}

// Notification is one queued outbound message. DedupKey is unique: enqueueing
// the same (user, type, variant, campaign) twice is a no-op.
type Notification struct {
	ID         int64
	UserID     int64
	NotifyType string
	VariantID  string
	DedupKey   string
	Status     string
	RetryCount int
	Payload    json.RawMessage
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
