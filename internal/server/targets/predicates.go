// Package targets turns admin target specifications (explicit ids, saved
// segments, ad-hoc filters) into parameterized SQL fragments. Predicates are
// a small tagged union lowered by Translate, which keeps resolution logic
// injection-safe by construction: user input only ever lands in bind args.
package targets

import (
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/rewardvault/internal/common"
	"github.com/dmitrijs2005/rewardvault/internal/server/models"
)

// Target modes.
const (
	ModeUserIDs = "user_ids"
	ModeSegment = "segment"
	ModeFilter  = "filter"
)

// Spec is the target specification carried by bulk admin requests.
type Spec struct {
	Mode      string  `json:"mode"`
	UserIDs   []int64 `json:"user_ids,omitempty"`
	SegmentID string  `json:"segment_id,omitempty"`
	Filter    *Filter `json:"filter,omitempty"`
}

// Filter is the ad-hoc variant: substring match over identity columns plus an
// optional gold status.
type Filter struct {
	Query      string             `json:"query,omitempty"`
	GoldStatus *models.TierStatus `json:"gold_status,omitempty"`
}

// Predicate is one typed filter condition.
type Predicate interface {
	// lower appends the SQL fragment, allocating placeholders through b.
	lower(b *builder) error
}

// Substring matches the query case-insensitively against the external user id
// or nickname.
type Substring struct {
	Query string
}

// StatusIn restricts one tier's status to a set.
type StatusIn struct {
	Tier     models.Tier
	Statuses []models.TierStatus
}

// RangeField names a numeric column usable in Range predicates.
type RangeField string

const (
	FieldDepositTotal   RangeField = "deposit_total"
	FieldAttendanceDays RangeField = "attendance_days"
)

// Range bounds a numeric progress counter; either end may be open.
type Range struct {
	Field RangeField
	Min   *int64
	Max   *int64
}

// BoolField names a boolean column usable in BoolFlag predicates.
type BoolField string

const (
	FieldReviewOK   BoolField = "review_ok"
	FieldTelegramOK BoolField = "telegram_ok"
)

// BoolFlag requires a boolean column to have the given value.
type BoolFlag struct {
	Field BoolField
	Value bool
}

// ExpiryWindow bounds expires_at; either end may be open.
type ExpiryWindow struct {
	After  *time.Time
	Before *time.Time
}

type builder struct {
	frags []string
	args  []any
}

// arg registers a bind argument and returns its placeholder.
func (b *builder) arg(v any) string {
	b.args = append(b.args, v)
	return fmt.Sprintf("$%d", len(b.args))
}

func (s Substring) lower(b *builder) error {
	if s.Query == "" {
		return common.Validationf("substring predicate requires a query")
	}
	pattern := "%" + escapeLike(s.Query) + "%"
	p := b.arg(pattern)
	b.frags = append(b.frags, fmt.Sprintf("(u.external_user_id ILIKE %s OR u.nickname ILIKE %s)", p, p))
	return nil
}

func (s StatusIn) lower(b *builder) error {
	if !models.ValidTier(s.Tier) {
		return common.Validationf("unknown tier %q", s.Tier)
	}
	if len(s.Statuses) == 0 {
		return common.Validationf("status predicate requires at least one status")
	}
	col := "v.gold_status"
	switch s.Tier {
	case models.TierPlatinum:
		col = "v.platinum_status"
	case models.TierDiamond:
		col = "v.diamond_status"
	}
	placeholders := make([]string, 0, len(s.Statuses))
	for _, st := range s.Statuses {
		if !models.ValidTierStatus(st) {
			return common.Validationf("unknown status %q", st)
		}
		placeholders = append(placeholders, b.arg(string(st)))
	}
	b.frags = append(b.frags, fmt.Sprintf("%s IN (%s)", col, strings.Join(placeholders, ", ")))
	return nil
}

func (r Range) lower(b *builder) error {
	switch r.Field {
	case FieldDepositTotal, FieldAttendanceDays:
	default:
		return common.Validationf("unknown range field %q", r.Field)
	}
	if r.Min == nil && r.Max == nil {
		return common.Validationf("range predicate requires a bound")
	}
	if r.Min != nil {
		b.frags = append(b.frags, fmt.Sprintf("v.%s >= %s", r.Field, b.arg(*r.Min)))
	}
	if r.Max != nil {
		b.frags = append(b.frags, fmt.Sprintf("v.%s <= %s", r.Field, b.arg(*r.Max)))
	}
	return nil
}

func (f BoolFlag) lower(b *builder) error {
	switch f.Field {
	case FieldReviewOK, FieldTelegramOK:
	default:
		return common.Validationf("unknown flag field %q", f.Field)
	}
	b.frags = append(b.frags, fmt.Sprintf("v.%s = %s", f.Field, b.arg(f.Value)))
	return nil
}

func (w ExpiryWindow) lower(b *builder) error {
	if w.After == nil && w.Before == nil {
		return common.Validationf("expiry window requires a bound")
	}
	if w.After != nil {
		b.frags = append(b.frags, fmt.Sprintf("v.expires_at > %s", b.arg(*w.After)))
	}
	if w.Before != nil {
		b.frags = append(b.frags, fmt.Sprintf("v.expires_at < %s", b.arg(*w.Before)))
	}
	return nil
}

// Translate lowers the predicates into one AND-joined WHERE fragment with
// placeholders starting at $1, plus the bind args.
func Translate(preds []Predicate) (string, []any, error) {
	b := &builder{}
	for _, p := range preds {
		if err := p.lower(b); err != nil {
			return "", nil, err
		}
	}
	return strings.Join(b.frags, " AND "), b.args, nil
}

// escapeLike neutralizes LIKE metacharacters in user-supplied substrings.
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	s = strings.ReplaceAll(s, `_`, `\_`)
	return s
}
