package segments

import (
	"context"

	"github.com/dmitrijs2005/rewardvault/internal/server/models"
)

type Repository interface {
	// Upsert creates the segment or, when the name already exists, replaces
	// its description and filters.
	Upsert(ctx context.Context, s *models.Segment) (*models.Segment, error)
	Get(ctx context.Context, id string) (*models.Segment, error)
	List(ctx context.Context) ([]*models.Segment, error)
	Delete(ctx context.Context, id string) error
}
