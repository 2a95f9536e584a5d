// Package models defines the persisted shapes shared by repositories and
// services: vault status rows, idempotency records, admin jobs, segments,
// notifications, and audit entries.
package models

import "time"

// TierStatus is the lifecycle state of a single reward tier.
type TierStatus string

const (
	StatusLocked   TierStatus = "LOCKED"
	StatusUnlocked TierStatus = "UNLOCKED"
	StatusClaimed  TierStatus = "CLAIMED"
	StatusExpired  TierStatus = "EXPIRED"
)

// ValidTierStatus reports whether s is one of the four tier states.
func ValidTierStatus(s TierStatus) bool {
	switch s {
	case StatusLocked, StatusUnlocked, StatusClaimed, StatusExpired:
		return true
	}
	return false
}

// Tier identifies one of the three reward tiers.
type Tier string

const (
	TierGold     Tier = "GOLD"
	TierPlatinum Tier = "PLATINUM"
	TierDiamond  Tier = "DIAMOND"
)

// Tiers lists the tiers in dependency order: a higher tier can only unlock
// once the previous one is claimed.
var Tiers = []Tier{TierGold, TierPlatinum, TierDiamond}

// ValidTier reports whether t names a known tier.
func ValidTier(t Tier) bool {
	return t == TierGold || t == TierPlatinum || t == TierDiamond
}

// VaultStatus is the per-user vault row. One row per user, created lazily on
// first access and locked FOR UPDATE for every mutation.
type VaultStatus struct {
	UserID    int64
	ExpiresAt time.Time

	GoldStatus     TierStatus
	PlatinumStatus TierStatus
	DiamondStatus  TierStatus

	// GOLD mission flags.
	MissionDepositDone    bool
	MissionBonusUsed      bool
	MissionTelegramLinked bool

	// Progress counters feeding the unlock predicates.
	DepositTotal   int64
	DepositCount   int
	AttendanceDays int
	ReviewOK       bool
	TelegramOK     bool

	// LastAttendedOn is the UTC calendar day of the last counted check-in,
	// used to dedupe same-day attendance.
	LastAttendedOn *time.Time

	GoldClaimedAt     *time.Time
	PlatinumClaimedAt *time.Time
	DiamondClaimedAt  *time.Time

	ExpiryExtendCount int
	LastExtendReason  string
	LastExtendAt      *time.Time

	UpdatedAt time.Time
}

// TierStatusOf returns the status of the named tier.
func (v *VaultStatus) TierStatusOf(t Tier) TierStatus {
	switch t {
	case TierGold:
		return v.GoldStatus
	case TierPlatinum:
		return v.PlatinumStatus
	default:
		return v.DiamondStatus
	}
}

// SetTierStatus overwrites the status of the named tier.
func (v *VaultStatus) SetTierStatus(t Tier, s TierStatus) {
	switch t {
	case TierGold:
		v.GoldStatus = s
	case TierPlatinum:
		v.PlatinumStatus = s
	default:
		v.DiamondStatus = s
	}
}

// FullyClaimed reports whether every tier has been claimed; such users are no
// longer actionable targets for bulk campaigns.
func (v *VaultStatus) FullyClaimed() bool {
	return v.GoldStatus == StatusClaimed && v.PlatinumStatus == StatusClaimed && v.DiamondStatus == StatusClaimed
}

// Clone returns a deep copy so pure state-machine functions can diff old
// against new without touching the row read under lock.
func (v *VaultStatus) Clone() *VaultStatus {
	c := *v
	c.LastAttendedOn = copyTime(v.LastAttendedOn)
	c.GoldClaimedAt = copyTime(v.GoldClaimedAt)
	c.PlatinumClaimedAt = copyTime(v.PlatinumClaimedAt)
	c.DiamondClaimedAt = copyTime(v.DiamondClaimedAt)
	c.LastExtendAt = copyTime(v.LastExtendAt)
	return &c
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
