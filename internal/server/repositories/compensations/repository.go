package compensations

import (
	"context"
	"time"

	"github.com/dmitrijs2005/rewardvault/internal/server/models"
)

type Repository interface {
	Enqueue(ctx context.Context, actionType string, payload []byte) error
	// ClaimDue locks up to limit due PENDING tasks (SKIP LOCKED) and marks
	// them IN_PROGRESS for the calling worker.
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]*models.CompensationTask, error)
	MarkDone(ctx context.Context, id int64) error
	// MarkRetry reschedules the task with the given delay and error.
	MarkRetry(ctx context.Context, id int64, nextRetry time.Time, lastError string) error
	MarkFailed(ctx context.Context, id int64, lastError string) error
}
