package jobs

import (
	"context"

	"github.com/dmitrijs2005/rewardvault/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, job *models.AdminJob) error
	Get(ctx context.Context, jobID string) (*models.AdminJob, error)
	GetForUpdate(ctx context.Context, jobID string) (*models.AdminJob, error)
	List(ctx context.Context, offset, limit int) ([]*models.AdminJob, error)
	UpdateStatus(ctx context.Context, jobID, status string, processed, failed int, finished bool) error
	InsertItems(ctx context.Context, jobID string, userIDs []int64) error
	UpdateItem(ctx context.Context, jobID string, userID int64, status, errorMessage string) error
	ListItems(ctx context.Context, jobID string) ([]*models.AdminJobItem, error)
	ListItemsByStatus(ctx context.Context, jobID, status string) ([]*models.AdminJobItem, error)
	// ResetFailedItems flips FAILED items back to PENDING for a retry run,
	// leaving DONE items untouched, and returns how many were reset.
	ResetFailedItems(ctx context.Context, jobID string) (int64, error)
}
