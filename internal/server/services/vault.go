package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/dmitrijs2005/rewardvault/internal/common"
	"github.com/dmitrijs2005/rewardvault/internal/dbx"
	"github.com/dmitrijs2005/rewardvault/internal/logging"
	"github.com/dmitrijs2005/rewardvault/internal/server/config"
	"github.com/dmitrijs2005/rewardvault/internal/server/models"
	"github.com/dmitrijs2005/rewardvault/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/rewardvault/internal/server/vault"
)

// VaultService owns the per-user vault flows: status reads, tier claims and
// attendance check-ins for users, plus the per-user mutations the bulk
// processor applies on behalf of admins. Every mutation locks the user's row,
// runs the pure state machine, and persists only the fields that changed.
type VaultService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	machine     *vault.Machine
	coordinator *Coordinator
	logger      logging.Logger

	defaultExpiry time.Duration
	joinedExpiry  time.Duration
	now           func() time.Time
}

func NewVaultService(db *sql.DB, m repomanager.RepositoryManager, machine *vault.Machine, coord *Coordinator, cfg *config.Config, logger logging.Logger) *VaultService {
	return &VaultService{
		db:            db,
		repomanager:   m,
		machine:       machine,
		coordinator:   coord,
		logger:        logger,
		defaultExpiry: time.Duration(cfg.DefaultExpiryHours) * time.Hour,
		joinedExpiry:  time.Duration(cfg.JoinedExpiryHours) * time.Hour,
		now:           time.Now,
	}
}

// TierView is one tier's state as returned to clients.
type TierView struct {
	Status    models.TierStatus `json:"status"`
	Reward    int64             `json:"reward"`
	ClaimedAt *time.Time        `json:"claimed_at,omitempty"`
}

// StatusResponse is the full vault view returned by status reads and claims.
// PotentialLoss breaks down what expires unclaimed if the deadline passes.
type StatusResponse struct {
	UserID         int64               `json:"user_id"`
	ExpiresAt      time.Time           `json:"expires_at"`
	ExpiresInMs    int64               `json:"expires_in_ms"`
	Tiers          map[string]TierView `json:"tiers"`
	Missions       map[string]bool     `json:"missions"`
	DepositTotal   int64               `json:"deposit_total"`
	DepositCount   int                 `json:"deposit_count"`
	AttendanceDays int                 `json:"attendance_days"`
	PotentialLoss  map[string]int64    `json:"potential_loss"`
	TotalLoss      int64               `json:"total_loss"`
}

// ClaimResponse reports a successful tier claim.
type ClaimResponse struct {
	UserID    int64           `json:"user_id"`
	Tier      models.Tier     `json:"tier"`
	Reward    int64           `json:"reward"`
	ClaimedAt time.Time       `json:"claimed_at"`
	Vault     *StatusResponse `json:"vault"`
}

// AttendanceResponse reports a counted check-in.
type AttendanceResponse struct {
	UserID         int64 `json:"user_id"`
	AttendanceDays int   `json:"attendance_days"`
}

func (s *VaultService) statusView(v *models.VaultStatus) *StatusResponse {
	tiers := make(map[string]TierView, len(models.Tiers))
	claimedAt := map[models.Tier]*time.Time{
		models.TierGold:     v.GoldClaimedAt,
		models.TierPlatinum: v.PlatinumClaimedAt,
		models.TierDiamond:  v.DiamondClaimedAt,
	}
	loss := make(map[string]int64, len(models.Tiers))
	var totalLoss int64
	for _, t := range models.Tiers {
		st := v.TierStatusOf(t)
		tiers[string(t)] = TierView{
			Status:    st,
			Reward:    s.machine.Reward(t),
			ClaimedAt: claimedAt[t],
		}
		if st != models.StatusClaimed && st != models.StatusExpired {
			loss[string(t)] = s.machine.Reward(t)
			totalLoss += s.machine.Reward(t)
		}
	}
	expiresIn := v.ExpiresAt.Sub(s.now()).Milliseconds()
	if expiresIn < 0 {
		expiresIn = 0
	}
	return &StatusResponse{
		UserID:      v.UserID,
		ExpiresAt:   v.ExpiresAt,
		ExpiresInMs: expiresIn,
		Tiers:       tiers,
		Missions: map[string]bool{
			vault.MissionDepositDone:    v.MissionDepositDone,
			vault.MissionBonusUsed:      v.MissionBonusUsed,
			vault.MissionTelegramLinked: v.MissionTelegramLinked,
		},
		DepositTotal:   v.DepositTotal,
		DepositCount:   v.DepositCount,
		AttendanceDays: v.AttendanceDays,
		PotentialLoss:  loss,
		TotalLoss:      totalLoss,
	}
}

// initialExpiry picks the vault deadline for a lazily created row: users with
// a known joined date get the longer window anchored on it, everyone else gets
// the default window starting now.
func (s *VaultService) initialExpiry(identity *models.UserIdentity, now time.Time) time.Time {
	if identity != nil && identity.JoinedDate != nil {
		return identity.JoinedDate.Add(s.joinedExpiry)
	}
	return now.Add(s.defaultExpiry)
}

// ensureRow lazily creates the vault row and returns it locked FOR UPDATE.
func (s *VaultService) ensureRow(ctx context.Context, tx dbx.DBTX, userID int64) (*models.VaultStatus, error) {
	repo := s.repomanager.Vaults(tx)
	now := s.now()

	identity, err := s.repomanager.Identities(tx).GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := repo.CreateIfAbsent(ctx, userID, s.initialExpiry(identity, now)); err != nil {
		return nil, err
	}
	return repo.GetForUpdate(ctx, userID)
}

// Status returns the user's vault, creating the row on first access and
// persisting any transitions the recompute produced (expiry in particular is
// evaluated lazily on read).
func (s *VaultService) Status(ctx context.Context, userID int64) (*StatusResponse, error) {
	var resp *StatusResponse
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		rec, err := s.ensureRow(ctx, tx, userID)
		if err != nil {
			return err
		}
		next, changed := s.machine.RecomputeAll(rec, s.now())
		if len(changed) > 0 {
			if err := s.repomanager.Vaults(tx).UpdateFields(ctx, next, changed); err != nil {
				return err
			}
		}
		resp = s.statusView(next)
		return nil
	})
	if err != nil {
		return nil, dbx.ClassifyStoreError(err)
	}
	return resp, nil
}

// Claim converts an UNLOCKED tier into the terminal CLAIMED state and queues
// the congratulation notification. Idempotent per key: a retried claim replays
// the original response instead of failing with ALREADY_CLAIMED.
func (s *VaultService) Claim(ctx context.Context, key string, userID int64, tier models.Tier) (*Result, error) {
	meta := Meta{
		Key:      key,
		Scope:    fmt.Sprintf("user:%d", userID),
		Endpoint: "claim",
		Payload:  map[string]any{"user_id": userID, "tier": tier},
	}
	return s.coordinator.Execute(ctx, meta, func(ctx context.Context, tx dbx.DBTX) (int, any, error) {
		rec, err := s.ensureRow(ctx, tx, userID)
		if err != nil {
			return 0, nil, err
		}
		now := s.now()
		next, changed, err := s.machine.Claim(rec, tier, now)
		if err != nil {
			return 0, nil, err
		}
		if err := s.repomanager.Vaults(tx).UpdateFields(ctx, next, changed); err != nil {
			return 0, nil, err
		}

		// Side effect stays inside the claim transaction via the durable
		// queue; delivery itself happens out of band.
		payload, _ := json.Marshal(map[string]any{"tier": tier, "reward": s.machine.Reward(tier)})
		if _, err := s.repomanager.Notifications(tx).Enqueue(ctx, &models.Notification{
			UserID:     userID,
			NotifyType: "TICKET_ZERO",
			VariantID:  "A",
			DedupKey:   fmt.Sprintf("claim:%d:%s", userID, tier),
			Payload:    payload,
		}); err != nil {
			return 0, nil, err
		}

		s.logger.Info(ctx, "tier claimed", "user_id", userID, "tier", tier, "reward", s.machine.Reward(tier))
		return http.StatusOK, &ClaimResponse{
			UserID:    userID,
			Tier:      tier,
			Reward:    s.machine.Reward(tier),
			ClaimedAt: now,
			Vault:     s.statusView(next),
		}, nil
	})
}

// Attendance counts one check-in for today. At most one check-in per UTC
// calendar day is counted; a second attempt fails with ALREADY_ATTENDED.
func (s *VaultService) Attendance(ctx context.Context, userID int64) (*AttendanceResponse, error) {
	var resp *AttendanceResponse
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		rec, err := s.ensureRow(ctx, tx, userID)
		if err != nil {
			return err
		}
		now := s.now()
		today := now.UTC().Truncate(24 * time.Hour)
		if rec.LastAttendedOn != nil && rec.LastAttendedOn.UTC().Truncate(24*time.Hour).Equal(today) {
			return common.ErrAlreadyAttended
		}

		next, changed, err := s.machine.ApplyAttendanceUpdate(rec, rec.AttendanceDays+1, now)
		if err != nil {
			return err
		}
		next.LastAttendedOn = &today
		fields := append(changed, "last_attended_on")

		if err := s.repomanager.Vaults(tx).UpdateFields(ctx, next, fields); err != nil {
			return err
		}
		resp = &AttendanceResponse{UserID: userID, AttendanceDays: next.AttendanceDays}
		return nil
	})
	if err != nil {
		return nil, dbx.ClassifyStoreError(err)
	}
	return resp, nil
}

// GoldMissionsPatch carries the optional mission flag changes of a bulk
// gold-missions update; nil fields are left untouched.
type GoldMissionsPatch struct {
	DepositDone    *bool `json:"mission_deposit_done,omitempty"`
	BonusUsed      *bool `json:"mission_bonus_used,omitempty"`
	TelegramLinked *bool `json:"mission_telegram_linked,omitempty"`
}

func (p *GoldMissionsPatch) empty() bool {
	return p.DepositDone == nil && p.BonusUsed == nil && p.TelegramLinked == nil
}

// ApplyGoldMissions applies the patch to one user inside the caller's
// transaction. Used per item by the bulk processor.
func (s *VaultService) ApplyGoldMissions(ctx context.Context, tx dbx.DBTX, userID int64, patch *GoldMissionsPatch) ([]string, error) {
	if patch == nil || patch.empty() {
		return nil, common.Validationf("at least one mission flag is required")
	}
	rec, err := s.ensureRow(ctx, tx, userID)
	if err != nil {
		return nil, err
	}
	now := s.now()

	toggles := []struct {
		mission string
		value   *bool
	}{
		{vault.MissionDepositDone, patch.DepositDone},
		{vault.MissionBonusUsed, patch.BonusUsed},
		{vault.MissionTelegramLinked, patch.TelegramLinked},
	}
	all := newChangeLog()
	next := rec
	for _, t := range toggles {
		if t.value == nil {
			continue
		}
		var changed []string
		next, changed, err = s.machine.ApplyMissionToggle(next, t.mission, *t.value, now)
		if err != nil {
			return nil, err
		}
		all.add(changed...)
	}
	if err := s.repomanager.Vaults(tx).UpdateFields(ctx, next, all.list()); err != nil {
		return nil, err
	}
	return all.list(), nil
}

// ApplyStatusOverride force-sets one tier's status for one user. CLAIMED
// tiers are frozen and reject the override.
func (s *VaultService) ApplyStatusOverride(ctx context.Context, tx dbx.DBTX, userID int64, tier models.Tier, status models.TierStatus) ([]string, error) {
	rec, err := s.ensureRow(ctx, tx, userID)
	if err != nil {
		return nil, err
	}
	next, changed, err := s.machine.ApplyExplicitStatusOverride(rec, tier, status, s.now())
	if err != nil {
		return nil, err
	}
	if err := s.repomanager.Vaults(tx).UpdateFields(ctx, next, changed); err != nil {
		return nil, err
	}
	return changed, nil
}

// ApplyAttendanceSet replaces one user's attendance counter.
func (s *VaultService) ApplyAttendanceSet(ctx context.Context, tx dbx.DBTX, userID int64, days int) ([]string, error) {
	rec, err := s.ensureRow(ctx, tx, userID)
	if err != nil {
		return nil, err
	}
	next, changed, err := s.machine.ApplyAttendanceUpdate(rec, days, s.now())
	if err != nil {
		return nil, err
	}
	if err := s.repomanager.Vaults(tx).UpdateFields(ctx, next, changed); err != nil {
		return nil, err
	}
	return changed, nil
}

// ApplyDepositSet replaces one user's deposit counters.
func (s *VaultService) ApplyDepositSet(ctx context.Context, tx dbx.DBTX, userID int64, total int64, count int) ([]string, error) {
	rec, err := s.ensureRow(ctx, tx, userID)
	if err != nil {
		return nil, err
	}
	next, changed, err := s.machine.ApplyDepositUpdate(rec, total, count, s.now())
	if err != nil {
		return nil, err
	}
	if err := s.repomanager.Vaults(tx).UpdateFields(ctx, next, changed); err != nil {
		return nil, err
	}
	return changed, nil
}

// ApplySnapshot refreshes one user's counters from an imported snapshot row
// and recomputes. Attendance uses the larger of the imported and live values
// so a stale export cannot roll back check-ins made since.
func (s *VaultService) ApplySnapshot(ctx context.Context, tx dbx.DBTX, snap *models.UserSnapshot) ([]string, error) {
	rec, err := s.ensureRow(ctx, tx, snap.UserID)
	if err != nil {
		return nil, err
	}
	now := s.now()

	v := rec.Clone()
	all := newChangeLog()
	if v.DepositTotal != snap.DepositTotal {
		v.DepositTotal = snap.DepositTotal
		all.add("deposit_total")
	}
	if v.DepositCount != snap.DepositCount {
		v.DepositCount = snap.DepositCount
		all.add("deposit_count")
	}
	if snap.AttendanceDays > v.AttendanceDays {
		v.AttendanceDays = snap.AttendanceDays
		all.add("attendance_days")
	}
	if v.ReviewOK != snap.ReviewOK {
		v.ReviewOK = snap.ReviewOK
		all.add("review_ok")
	}
	if v.TelegramOK != snap.TelegramOK {
		v.TelegramOK = snap.TelegramOK
		all.add("telegram_ok")
	}

	next, changed := s.machine.RecomputeAll(v, now)
	all.add(changed...)
	if err := s.repomanager.Vaults(tx).UpdateFields(ctx, next, all.list()); err != nil {
		return nil, err
	}
	return all.list(), nil
}

// changeLog accumulates changed field names across several machine calls,
// keeping order and dropping duplicates.
type changeLog struct {
	seen  map[string]bool
	order []string
}

func newChangeLog() *changeLog {
	return &changeLog{seen: map[string]bool{}}
}

func (c *changeLog) add(names ...string) {
	for _, n := range names {
		if !c.seen[n] {
			c.seen[n] = true
			c.order = append(c.order, n)
		}
	}
}

func (c *changeLog) list() []string { return c.order }
