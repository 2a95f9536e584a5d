package extensions

import (
	"context"

	"github.com/dmitrijs2005/rewardvault/internal/server/models"
)

type Repository interface {
	// InsertOnce records the extension keyed by its per-user request id and
	// reports whether the row was actually inserted. A duplicate request id
	// means the extension was already applied and must not repeat.
	InsertOnce(ctx context.Context, e *models.ExpiryExtension) (bool, error)
	ListByUser(ctx context.Context, userID int64) ([]*models.ExpiryExtension, error)
}
