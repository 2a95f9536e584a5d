package notifications

import (
	"context"

	"github.com/dmitrijs2005/rewardvault/internal/server/models"
)

type Repository interface {
	// Enqueue inserts the notification unless its dedup key already exists;
	// reports whether a row was inserted.
	Enqueue(ctx context.Context, n *models.Notification) (bool, error)
	Get(ctx context.Context, id int64) (*models.Notification, error)
	// Retry flips a FAILED notification back to PENDING.
	Retry(ctx context.Context, id int64) error
	// Cancel marks a PENDING notification CANCELLED.
	Cancel(ctx context.Context, id int64) error
}
