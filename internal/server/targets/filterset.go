package targets

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/dmitrijs2005/rewardvault/internal/common"
	"github.com/dmitrijs2005/rewardvault/internal/server/models"
)

// FilterSet is the persisted shape of a saved segment's filters. Every field
// is optional; set fields become predicates.
type FilterSet struct {
	Statuses       []models.TierStatus `json:"statuses,omitempty"`
	ExpiresAfter   *time.Time          `json:"expires_after,omitempty"`
	ExpiresBefore  *time.Time          `json:"expires_before,omitempty"`
	DepositMin     *int64              `json:"deposit_min,omitempty"`
	DepositMax     *int64              `json:"deposit_max,omitempty"`
	AttendanceMin  *int64              `json:"attendance_min,omitempty"`
	AttendanceMax  *int64              `json:"attendance_max,omitempty"`
	TelegramOK     *bool               `json:"telegram_ok,omitempty"`
	ReviewOK       *bool               `json:"review_ok,omitempty"`
}

// ParseFilterSet decodes a segment's stored filters. Unknown fields are
// rejected so a typo in a saved segment surfaces on save, not silently as a
// full-population match.
func ParseFilterSet(raw json.RawMessage) (*FilterSet, error) {
	if len(raw) == 0 {
		return &FilterSet{}, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	fs := &FilterSet{}
	if err := dec.Decode(fs); err != nil {
		return nil, common.Wrap(common.KindValidation, common.CodeValidation, "malformed segment filters", err)
	}
	return fs, nil
}

// Predicates converts the set fields into typed predicates. The status set
// applies to the gold tier, matching how segments were historically defined.
func (f *FilterSet) Predicates() []Predicate {
	var preds []Predicate
	if len(f.Statuses) > 0 {
		preds = append(preds, StatusIn{Tier: models.TierGold, Statuses: f.Statuses})
	}
	if f.ExpiresAfter != nil || f.ExpiresBefore != nil {
		preds = append(preds, ExpiryWindow{After: f.ExpiresAfter, Before: f.ExpiresBefore})
	}
	if f.DepositMin != nil || f.DepositMax != nil {
		preds = append(preds, Range{Field: FieldDepositTotal, Min: f.DepositMin, Max: f.DepositMax})
	}
	if f.AttendanceMin != nil || f.AttendanceMax != nil {
		preds = append(preds, Range{Field: FieldAttendanceDays, Min: f.AttendanceMin, Max: f.AttendanceMax})
	}
	if f.TelegramOK != nil {
		preds = append(preds, BoolFlag{Field: FieldTelegramOK, Value: *f.TelegramOK})
	}
	if f.ReviewOK != nil {
		preds = append(preds, BoolFlag{Field: FieldReviewOK, Value: *f.ReviewOK})
	}
	return preds
}
