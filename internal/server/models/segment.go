package models

import (
	"encoding/json"
	"time"
)

// Segment is a saved, named filter definition used to select a target
// population for bulk admin operations. Filters hold the serialized predicate
// set understood by the targets package.
type Segment struct {
	ID          string
	Name        string
	Description string
	Filters     json.RawMessage
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
