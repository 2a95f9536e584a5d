package identities

import (
	"context"
	"time"

	"github.com/dmitrijs2005/rewardvault/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, externalID, nickname string) (*models.UserIdentity, error)
	GetByID(ctx context.Context, id int64) (*models.UserIdentity, error)
	GetByExternalID(ctx context.Context, externalID string) (*models.UserIdentity, error)
	GetByNickname(ctx context.Context, nickname string) (*models.UserIdentity, error)
	// UpdateProfile refreshes nickname and joined date from a daily import.
	UpdateProfile(ctx context.Context, id int64, nickname string, joinedDate *time.Time) error
	List(ctx context.Context, offset, limit int) ([]*models.UserIdentity, error)
	Delete(ctx context.Context, id int64) error
}
