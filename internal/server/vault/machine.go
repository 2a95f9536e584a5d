package vault

import (
	"time"

	"github.com/dmitrijs2005/rewardvault/internal/common"
	"github.com/dmitrijs2005/rewardvault/internal/server/models"
)

// Machine evaluates tier transitions. All methods are pure: they take the row
// read under a row-level lock, return a new row plus the list of fields that
// actually changed, and never touch storage. CLAIMED and EXPIRED are terminal
// and never downgraded automatically.
type Machine struct {
	policy Policy
}

func NewMachine(p Policy) *Machine {
	return &Machine{policy: p}
}

// Mission flag names accepted by ApplyMissionToggle.
const (
	MissionDepositDone    = "mission_deposit_done"
	MissionBonusUsed      = "mission_bonus_used"
	MissionTelegramLinked = "mission_telegram_linked"
)

// tierStatusField maps a tier to its persisted column name.
func tierStatusField(t models.Tier) string {
	switch t {
	case models.TierGold:
		return "gold_status"
	case models.TierPlatinum:
		return "platinum_status"
	default:
		return "diamond_status"
	}
}

func tierClaimedAtField(t models.Tier) string {
	switch t {
	case models.TierGold:
		return "gold_claimed_at"
	case models.TierPlatinum:
		return "platinum_claimed_at"
	default:
		return "diamond_claimed_at"
	}
}

// expireTiers moves every non-terminal tier to EXPIRED once the deadline has
// passed. Evaluated lazily on every read and mutation; there is no sweeper.
func expireTiers(v *models.VaultStatus, now time.Time, changed *fieldSet) {
	if !now.After(v.ExpiresAt) {
		return
	}
	for _, t := range models.Tiers {
		s := v.TierStatusOf(t)
		if s == models.StatusClaimed || s == models.StatusExpired {
			continue
		}
		v.SetTierStatus(t, models.StatusExpired)
		changed.add(tierStatusField(t))
	}
}

// recomputeTier applies the unlock predicate for a single tier. Terminal
// states are left alone; otherwise the tier lands on UNLOCKED or LOCKED, so a
// predicate that stopped holding relocks the tier.
func (m *Machine) recomputeTier(v *models.VaultStatus, t models.Tier, changed *fieldSet) {
	s := v.TierStatusOf(t)
	if s == models.StatusClaimed || s == models.StatusExpired {
		return
	}

	eligible := false
	switch t {
	case models.TierGold:
		eligible = m.policy.goldPredicate(v)
	case models.TierPlatinum:
		eligible = v.GoldStatus == models.StatusClaimed && m.policy.platinumPredicate(v)
	case models.TierDiamond:
		eligible = v.PlatinumStatus == models.StatusClaimed && m.policy.diamondPredicate(v)
	}

	next := models.StatusLocked
	if eligible {
		next = models.StatusUnlocked
	}
	if next != s {
		v.SetTierStatus(t, next)
		changed.add(tierStatusField(t))
	}
}

// recomputeFrom recomputes tiers in dependency order starting at the given
// index into models.Tiers.
func (m *Machine) recomputeFrom(v *models.VaultStatus, now time.Time, from int, changed *fieldSet) {
	expireTiers(v, now, changed)
	for i := from; i < len(models.Tiers); i++ {
		m.recomputeTier(v, models.Tiers[i], changed)
	}
}

// RecomputeAll re-evaluates expiry and all three unlock predicates in
// dependency order (GOLD, then PLATINUM, then DIAMOND) and returns the new
// row plus the fields that changed.
func (m *Machine) RecomputeAll(rec *models.VaultStatus, now time.Time) (*models.VaultStatus, []string) {
	v := rec.Clone()
	changed := newFieldSet()
	m.recomputeFrom(v, now, 0, changed)
	return v, changed.list()
}

// ApplyDepositUpdate replaces the cumulative deposit counters and recomputes
// every tier that depends on them.
func (m *Machine) ApplyDepositUpdate(rec *models.VaultStatus, total int64, count int, now time.Time) (*models.VaultStatus, []string, error) {
	if total < 0 || count < 0 {
		return nil, nil, common.Validationf("deposit total and count must be non-negative")
	}
	v := rec.Clone()
	changed := newFieldSet()
	if v.DepositTotal != total {
		v.DepositTotal = total
		changed.add("deposit_total")
	}
	if v.DepositCount != count {
		v.DepositCount = count
		changed.add("deposit_count")
	}
	m.recomputeFrom(v, now, 0, changed)
	return v, changed.list(), nil
}

// ApplyAttendanceUpdate replaces the attendance-day counter (clamped to the
// policy range) and recomputes dependent tiers.
func (m *Machine) ApplyAttendanceUpdate(rec *models.VaultStatus, days int, now time.Time) (*models.VaultStatus, []string, error) {
	if days < 0 {
		return nil, nil, common.Validationf("attendance days must be non-negative")
	}
	if days > m.policy.AttendanceMax {
		days = m.policy.AttendanceMax
	}
	v := rec.Clone()
	changed := newFieldSet()
	if v.AttendanceDays != days {
		v.AttendanceDays = days
		changed.add("attendance_days")
	}
	m.recomputeFrom(v, now, 0, changed)
	return v, changed.list(), nil
}

// ApplyMissionToggle flips one GOLD mission flag and recomputes. Toggling a
// mission off while GOLD is UNLOCKED relocks it; an already CLAIMED GOLD is
// untouched.
func (m *Machine) ApplyMissionToggle(rec *models.VaultStatus, mission string, value bool, now time.Time) (*models.VaultStatus, []string, error) {
	v := rec.Clone()
	changed := newFieldSet()
	switch mission {
	case MissionDepositDone:
		if v.MissionDepositDone != value {
			v.MissionDepositDone = value
			changed.add(MissionDepositDone)
		}
	case MissionBonusUsed:
		if v.MissionBonusUsed != value {
			v.MissionBonusUsed = value
			changed.add(MissionBonusUsed)
		}
	case MissionTelegramLinked:
		if v.MissionTelegramLinked != value {
			v.MissionTelegramLinked = value
			changed.add(MissionTelegramLinked)
		}
	default:
		return nil, nil, common.Validationf("unknown mission flag %q", mission)
	}
	m.recomputeFrom(v, now, 0, changed)
	return v, changed.list(), nil
}

// ApplyExplicitStatusOverride force-sets one tier's status. A CLAIMED tier is
// frozen and rejects the override. Tiers above the overridden one are
// recomputed so that, for example, forcing GOLD back to LOCKED relocks an
// UNLOCKED PLATINUM; the overridden tier itself keeps the forced value.
func (m *Machine) ApplyExplicitStatusOverride(rec *models.VaultStatus, tier models.Tier, status models.TierStatus, now time.Time) (*models.VaultStatus, []string, error) {
	if !models.ValidTier(tier) {
		return nil, nil, common.Validationf("unknown tier %q", tier)
	}
	if !models.ValidTierStatus(status) {
		return nil, nil, common.Validationf("unknown status %q", status)
	}
	if rec.TierStatusOf(tier) == models.StatusClaimed {
		return nil, nil, common.ErrClaimedFrozen
	}

	v := rec.Clone()
	changed := newFieldSet()
	if v.TierStatusOf(tier) != status {
		v.SetTierStatus(tier, status)
		changed.add(tierStatusField(tier))
	}
	if status == models.StatusClaimed {
		t := now
		setClaimedAt(v, tier, &t)
		changed.add(tierClaimedAtField(tier))
	}

	// Recompute only the tiers that depend on the overridden one; touching
	// the overridden tier would immediately undo the override.
	from := 0
	for i, t := range models.Tiers {
		if t == tier {
			from = i + 1
			break
		}
	}
	for i := from; i < len(models.Tiers); i++ {
		m.recomputeTier(v, models.Tiers[i], changed)
	}
	return v, changed.list(), nil
}

// Claim converts an UNLOCKED tier to the terminal CLAIMED state. Expiry is
// evaluated first, so a stale UNLOCKED past the deadline fails as
// NotClaimable rather than disbursing a reward.
func (m *Machine) Claim(rec *models.VaultStatus, tier models.Tier, now time.Time) (*models.VaultStatus, []string, error) {
	if !models.ValidTier(tier) {
		return nil, nil, common.Validationf("unknown tier %q", tier)
	}

	v := rec.Clone()
	changed := newFieldSet()
	expireTiers(v, now, changed)

	switch v.TierStatusOf(tier) {
	case models.StatusClaimed:
		return nil, nil, common.ErrAlreadyClaimed
	case models.StatusUnlocked:
	default:
		return nil, nil, common.ErrNotClaimable
	}

	v.SetTierStatus(tier, models.StatusClaimed)
	changed.add(tierStatusField(tier))
	t := now
	setClaimedAt(v, tier, &t)
	changed.add(tierClaimedAtField(tier))

	// Claiming a tier may satisfy the dependency of the one above it.
	for i, tr := range models.Tiers {
		if tr == tier {
			for j := i + 1; j < len(models.Tiers); j++ {
				m.recomputeTier(v, models.Tiers[j], changed)
			}
			break
		}
	}
	return v, changed.list(), nil
}

// Reward returns the amount disbursed when the given tier is claimed.
func (m *Machine) Reward(tier models.Tier) int64 {
	return m.policy.Rewards[tier]
}

func setClaimedAt(v *models.VaultStatus, t models.Tier, at *time.Time) {
	switch t {
	case models.TierGold:
		v.GoldClaimedAt = at
	case models.TierPlatinum:
		v.PlatinumClaimedAt = at
	default:
		v.DiamondClaimedAt = at
	}
}

// fieldSet collects changed column names, preserving insertion order and
// dropping duplicates, for minimal-diff persistence and audit records.
type fieldSet struct {
	seen  map[string]bool
	order []string
}

func newFieldSet() *fieldSet {
	return &fieldSet{seen: map[string]bool{}}
}

func (f *fieldSet) add(name string) {
	if !f.seen[name] {
		f.seen[name] = true
		f.order = append(f.order, name)
	}
}

func (f *fieldSet) list() []string {
	return f.order
}
