package snapshots

import (
	"context"

	"github.com/dmitrijs2005/rewardvault/internal/server/models"
)

type Repository interface {
	Upsert(ctx context.Context, s *models.UserSnapshot) error
	Get(ctx context.Context, userID int64) (*models.UserSnapshot, error)
}
