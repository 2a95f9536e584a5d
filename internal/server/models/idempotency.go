package models

import "time"

// Idempotency record states.
const (
	IdempotencyInProgress = "IN_PROGRESS"
	IdempotencyDone       = "DONE"
)

// IdempotencyRecord tracks one mutation attempt per (key, scope, endpoint).
// A DONE record stores the response verbatim so replays return byte-identical
// bodies; an IN_PROGRESS record blocks concurrent duplicates until the TTL.
type IdempotencyRecord struct {
	Key            string
	Scope          string
	Endpoint       string
	RequestHash    string
	Status         string
	ResponseStatus int
	ResponseBody   string
	CreatedAt      time.Time
	ExpiresAt      time.Time
}
