package audit

import (
	"context"

	"github.com/dmitrijs2005/rewardvault/internal/server/models"
)

type Repository interface {
	Insert(ctx context.Context, e *models.AuditEntry) error
	List(ctx context.Context, offset, limit int) ([]*models.AuditEntry, error)
}
