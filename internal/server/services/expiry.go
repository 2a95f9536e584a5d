package services

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dmitrijs2005/rewardvault/internal/common"
	"github.com/dmitrijs2005/rewardvault/internal/dbx"
	"github.com/dmitrijs2005/rewardvault/internal/logging"
	"github.com/dmitrijs2005/rewardvault/internal/server/models"
	"github.com/dmitrijs2005/rewardvault/internal/server/repositories/repomanager"
)

// Extension bounds per request.
const (
	minExtendHours = 1
	maxExtendHours = 72
)

// ExpiryService grants vault deadline extensions. Every applied extension is
// logged per user under a derived request id, so re-running the same bulk
// request skips users it already extended instead of stacking hours.
type ExpiryService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	logger      logging.Logger
	now         func() time.Time
}

func NewExpiryService(db *sql.DB, m repomanager.RepositoryManager, logger logging.Logger) *ExpiryService {
	return &ExpiryService{db: db, repomanager: m, logger: logger, now: time.Now}
}

func validateExtendExpiry(hours int, reason, requestID string) error {
	if hours < minExtendHours || hours > maxExtendHours {
		return common.Validationf("hours must be between %d and %d", minExtendHours, maxExtendHours)
	}
	if !models.ValidExtendReason(reason) {
		return common.Validationf("unknown extend reason %q", reason)
	}
	if requestID == "" {
		return common.Validationf("request_id is required")
	}
	return nil
}

// ApplyExtension extends one user's deadline inside the caller's transaction.
// Returns false when this request id already extended this user, which is a
// no-op rather than an error. CLAIMED and EXPIRED tiers stay terminal; the
// extension only moves the deadline for tiers still in play.
func (s *ExpiryService) ApplyExtension(ctx context.Context, tx dbx.DBTX, userID int64, hours int, reason, requestID, actor string) (bool, error) {
	if err := validateExtendExpiry(hours, reason, requestID); err != nil {
		return false, err
	}

	inserted, err := s.repomanager.Extensions(tx).InsertOnce(ctx, &models.ExpiryExtension{
		RequestID: fmt.Sprintf("%s:%d", requestID, userID),
		UserID:    userID,
		Hours:     hours,
		Reason:    reason,
		Actor:     actor,
	})
	if err != nil {
		return false, err
	}
	if !inserted {
		return false, nil
	}

	repo := s.repomanager.Vaults(tx)
	rec, err := repo.GetForUpdate(ctx, userID)
	if err != nil {
		return false, err
	}

	now := s.now()
	v := rec.Clone()
	v.ExpiresAt = v.ExpiresAt.Add(time.Duration(hours) * time.Hour)
	// An extension on a lapsed vault restarts the clock from now instead of
	// leaving a deadline still in the past.
	if v.ExpiresAt.Before(now) {
		v.ExpiresAt = now.Add(time.Duration(hours) * time.Hour)
	}
	v.ExpiryExtendCount++
	v.LastExtendReason = reason
	t := now
	v.LastExtendAt = &t

	fields := []string{"expires_at", "expiry_extend_count", "last_extend_reason", "last_extend_at"}
	if err := repo.UpdateFields(ctx, v, fields); err != nil {
		return false, err
	}
	s.logger.Info(ctx, "expiry extended",
		"user_id", userID, "hours", hours, "reason", reason, "actor", actor)
	return true, nil
}

// History lists the extensions applied to one user, newest first.
func (s *ExpiryService) History(ctx context.Context, userID int64) ([]*models.ExpiryExtension, error) {
	return s.repomanager.Extensions(s.db).ListByUser(ctx, userID)
}
