package models

import "time"

// UserIdentity maps an external user reference (the id users log in with,
// sourced from daily CSV imports) to the internal numeric id every other
// table keys on.
type UserIdentity struct {
	ID             int64
	ExternalUserID string
	Nickname       string
	JoinedDate     *time.Time
	CreatedAt      time.Time
}

// UserSnapshot is one row of the daily import staging table: the progress
// counters as last reported by the upstream export.
type UserSnapshot struct {
	UserID         int64
	DepositTotal   int64
	DepositCount   int
	AttendanceDays int
	ReviewOK       bool
	TelegramOK     bool
	ImportedAt     time.Time
}
