// Package vault implements the tier unlock state machine: pure functions over
// a VaultStatus row that decide transitions, cascade recomputation across
// dependent tiers, and report the exact fields they changed.
package vault

import "github.com/dmitrijs2005/rewardvault/internal/server/models"

// Policy pins the unlock thresholds, rewards, and expiry windows. Values are
// configuration, not code: historical deployments shipped several threshold
// generations, so everything that changed between them lives here.
type Policy struct {
	// PLATINUM unlocks when deposit total and count reach these values and
	// the review flag is set.
	PlatinumDepositTotal int64
	PlatinumDepositCount int

	// DIAMOND unlocks on deposit total plus attendance days.
	DiamondDepositTotal   int64
	DiamondAttendanceDays int

	// GoldByTelegramOnly switches GOLD from the three-mission predicate to
	// the linked-telegram flag alone.
	GoldByTelegramOnly bool

	// Reward amounts disbursed on claim, by tier.
	Rewards map[models.Tier]int64

	// Claim windows granted when a tier unlocks, in hours.
	ExpiryHours map[models.Tier]int

	// AttendanceMax clamps attendance-day inputs.
	AttendanceMax int
}

// DefaultPolicy returns the active production configuration.
func DefaultPolicy() Policy {
	return Policy{
		PlatinumDepositTotal:  200_000,
		PlatinumDepositCount:  3,
		DiamondDepositTotal:   2_000_000,
		DiamondAttendanceDays: 2,
		GoldByTelegramOnly:    false,
		Rewards: map[models.Tier]int64{
			models.TierGold:     10_000,
			models.TierPlatinum: 30_000,
			models.TierDiamond:  300_000,
		},
		ExpiryHours: map[models.Tier]int{
			models.TierGold:     72,
			models.TierPlatinum: 72,
			models.TierDiamond:  120,
		},
		AttendanceMax: 365,
	}
}

// goldPredicate reports whether the GOLD unlock condition holds.
func (p Policy) goldPredicate(v *models.VaultStatus) bool {
	if p.GoldByTelegramOnly {
		return v.TelegramOK
	}
	return v.MissionDepositDone && v.MissionBonusUsed && v.MissionTelegramLinked
}

// platinumPredicate reports whether the PLATINUM unlock condition holds
// (cross-tier dependency checked separately).
func (p Policy) platinumPredicate(v *models.VaultStatus) bool {
	return v.DepositTotal >= p.PlatinumDepositTotal &&
		v.DepositCount >= p.PlatinumDepositCount &&
		v.ReviewOK
}

// diamondPredicate reports whether the DIAMOND unlock condition holds
// (cross-tier dependency checked separately).
func (p Policy) diamondPredicate(v *models.VaultStatus) bool {
	return v.DepositTotal >= p.DiamondDepositTotal &&
		v.AttendanceDays >= p.DiamondAttendanceDays
}
