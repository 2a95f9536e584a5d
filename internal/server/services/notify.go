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

// NotifyService queues outbound notifications. The queue is the delivery
// boundary: enqueueing is transactional with whatever triggered it, delivery
// happens out of band and is retried through the queue states.
type NotifyService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	logger      logging.Logger
	now         func() time.Time
}

func NewNotifyService(db *sql.DB, m repomanager.RepositoryManager, logger logging.Logger) *NotifyService {
	return &NotifyService{db: db, repomanager: m, logger: logger, now: time.Now}
}

func validateNotify(notifyType, variantID, campaignID string) error {
	if !models.AllowedNotifyTypes[notifyType] {
		return common.Validationf("unknown notification type %q", notifyType)
	}
	if !models.AllowedVariantIDs[variantID] {
		return common.Validationf("unknown variant %q", variantID)
	}
	if campaignID == "" {
		return common.Validationf("campaign_id is required")
	}
	return nil
}

// EnqueueOne queues one notification for one user inside the caller's
// transaction. The dedup key makes re-running a campaign a no-op for users
// already queued; returns whether a row was actually inserted.
func (s *NotifyService) EnqueueOne(ctx context.Context, tx dbx.DBTX, userID int64, p *NotifyParams) (bool, error) {
	if err := validateNotify(p.NotifyType, p.VariantID, p.CampaignID); err != nil {
		return false, err
	}
	return s.repomanager.Notifications(tx).Enqueue(ctx, &models.Notification{
		UserID:     userID,
		NotifyType: p.NotifyType,
		VariantID:  p.VariantID,
		DedupKey:   fmt.Sprintf("%s:%d:%s:%s", p.CampaignID, userID, p.NotifyType, p.VariantID),
		Payload:    p.Payload,
	})
}

// Retry flips one FAILED notification back to PENDING.
func (s *NotifyService) Retry(ctx context.Context, id int64) error {
	if err := s.repomanager.Notifications(s.db).Retry(ctx, id); err != nil {
		return err
	}
	s.logger.Info(ctx, "notification requeued", "id", id)
	return nil
}

// Cancel withdraws one PENDING notification.
func (s *NotifyService) Cancel(ctx context.Context, id int64) error {
	if err := s.repomanager.Notifications(s.db).Cancel(ctx, id); err != nil {
		return err
	}
	s.logger.Info(ctx, "notification cancelled", "id", id)
	return nil
}

// Get returns one queued notification.
func (s *NotifyService) Get(ctx context.Context, id int64) (*models.Notification, error) {
	return s.repomanager.Notifications(s.db).Get(ctx, id)
}
