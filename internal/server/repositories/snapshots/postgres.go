package snapshots

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/rewardvault/internal/common"
	"github.com/dmitrijs2005/rewardvault/internal/dbx"
	"github.com/dmitrijs2005/rewardvault/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Upsert(ctx context.Context, s *models.UserSnapshot) error {
	query :=
		`INSERT INTO user_admin_snapshot
             (user_id, deposit_total, deposit_count, attendance_days, review_ok, telegram_ok, imported_at)
         VALUES ($1, $2, $3, $4, $5, $6, now())
         ON CONFLICT (user_id) DO UPDATE
             SET deposit_total = EXCLUDED.deposit_total,
                 deposit_count = EXCLUDED.deposit_count,
                 attendance_days = EXCLUDED.attendance_days,
                 review_ok = EXCLUDED.review_ok,
                 telegram_ok = EXCLUDED.telegram_ok,
                 imported_at = now()
         `

	_, err := r.db.ExecContext(ctx, query,
		s.UserID, s.DepositTotal, s.DepositCount, s.AttendanceDays, s.ReviewOK, s.TelegramOK)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, userID int64) (*models.UserSnapshot, error) {
	query :=
		`SELECT user_id, deposit_total, deposit_count, attendance_days, review_ok, telegram_ok, imported_at
		 FROM user_admin_snapshot
		 WHERE user_id = $1
		 `

	s := &models.UserSnapshot{}
	err := r.db.QueryRowContext(ctx, query, userID).Scan(
		&s.UserID, &s.DepositTotal, &s.DepositCount, &s.AttendanceDays,
		&s.ReviewOK, &s.TelegramOK, &s.ImportedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return s, nil
}
