package idempotency

import (
	"context"
	"time"

	"github.com/dmitrijs2005/rewardvault/internal/server/models"
)

type Repository interface {
	// GetForUpdate locks the record for the tuple so two concurrent starts
	// with the same key serialize.
	GetForUpdate(ctx context.Context, key, scope, endpoint string) (*models.IdempotencyRecord, error)
	Insert(ctx context.Context, rec *models.IdempotencyRecord) error
	MarkDone(ctx context.Context, key, scope, endpoint string, responseStatus int, responseBody string) error
	// Replace overwrites an expired record with a fresh IN_PROGRESS attempt.
	Replace(ctx context.Context, rec *models.IdempotencyRecord) error
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}
