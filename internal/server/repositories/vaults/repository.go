package vaults

import (
	"context"
	"time"

	"github.com/dmitrijs2005/rewardvault/internal/server/models"
)

type Repository interface {
	Get(ctx context.Context, userID int64) (*models.VaultStatus, error)
	// GetForUpdate locks the row for the rest of the transaction; per-user
	// mutations serialize on this lock.
	GetForUpdate(ctx context.Context, userID int64) (*models.VaultStatus, error)
	CreateIfAbsent(ctx context.Context, userID int64, expiresAt time.Time) error
	// UpdateFields persists only the named columns (minimal diff).
	UpdateFields(ctx context.Context, v *models.VaultStatus, fields []string) error
	// SelectTargetIDs returns ids matching the extra WHERE fragment, always
	// excluding fully claimed users. Placeholders in extraWhere must start
	// at $1.
	SelectTargetIDs(ctx context.Context, extraWhere string, args []any, limit int) ([]int64, error)
}
