package vaults

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

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

const vaultColumns = `user_id, expires_at, gold_status, platinum_status, diamond_status,
		 mission_deposit_done, mission_bonus_used, mission_telegram_linked,
		 deposit_total, deposit_count, attendance_days, last_attended_on, review_ok, telegram_ok,
		 gold_claimed_at, platinum_claimed_at, diamond_claimed_at,
		 expiry_extend_count, last_extend_reason, last_extend_at, updated_at`

func (r *PostgresRepository) Get(ctx context.Context, userID int64) (*models.VaultStatus, error) {
	query := `SELECT ` + vaultColumns + ` FROM vault_status WHERE user_id = $1`
	return r.scanOne(r.db.QueryRowContext(ctx, query, userID))
}

func (r *PostgresRepository) GetForUpdate(ctx context.Context, userID int64) (*models.VaultStatus, error) {
	query := `SELECT ` + vaultColumns + ` FROM vault_status WHERE user_id = $1 FOR UPDATE`
	return r.scanOne(r.db.QueryRowContext(ctx, query, userID))
}

// CreateIfAbsent lazily creates the default LOCKED row. Safe under races: the
// conflict target is the primary key and losers simply no-op.
func (r *PostgresRepository) CreateIfAbsent(ctx context.Context, userID int64, expiresAt time.Time) error {
	query :=
		`INSERT INTO vault_status (user_id, expires_at)
         VALUES ($1, $2)
         ON CONFLICT (user_id) DO NOTHING
         `

	if _, err := r.db.ExecContext(ctx, query, userID, expiresAt); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// updatableColumns whitelists the columns UpdateFields may touch and maps
// each to its value on the row.
var updatableColumns = map[string]func(v *models.VaultStatus) any{
	"expires_at":              func(v *models.VaultStatus) any { return v.ExpiresAt },
	"gold_status":             func(v *models.VaultStatus) any { return string(v.GoldStatus) },
	"platinum_status":         func(v *models.VaultStatus) any { return string(v.PlatinumStatus) },
	"diamond_status":          func(v *models.VaultStatus) any { return string(v.DiamondStatus) },
	"mission_deposit_done":    func(v *models.VaultStatus) any { return v.MissionDepositDone },
	"mission_bonus_used":      func(v *models.VaultStatus) any { return v.MissionBonusUsed },
	"mission_telegram_linked": func(v *models.VaultStatus) any { return v.MissionTelegramLinked },
	"deposit_total":           func(v *models.VaultStatus) any { return v.DepositTotal },
	"deposit_count":           func(v *models.VaultStatus) any { return v.DepositCount },
	"attendance_days":         func(v *models.VaultStatus) any { return v.AttendanceDays },
	"last_attended_on":        func(v *models.VaultStatus) any { return v.LastAttendedOn },
	"review_ok":               func(v *models.VaultStatus) any { return v.ReviewOK },
	"telegram_ok":             func(v *models.VaultStatus) any { return v.TelegramOK },
	"gold_claimed_at":         func(v *models.VaultStatus) any { return v.GoldClaimedAt },
	"platinum_claimed_at":     func(v *models.VaultStatus) any { return v.PlatinumClaimedAt },
	"diamond_claimed_at":      func(v *models.VaultStatus) any { return v.DiamondClaimedAt },
	"expiry_extend_count":     func(v *models.VaultStatus) any { return v.ExpiryExtendCount },
	"last_extend_reason":      func(v *models.VaultStatus) any { return v.LastExtendReason },
	"last_extend_at":          func(v *models.VaultStatus) any { return v.LastExtendAt },
}

func (r *PostgresRepository) UpdateFields(ctx context.Context, v *models.VaultStatus, fields []string) error {
	if len(fields) == 0 {
		return nil
	}

	sets := make([]string, 0, len(fields)+1)
	args := make([]any, 0, len(fields)+1)
	for _, f := range fields {
		get, ok := updatableColumns[f]
		if !ok {
			return fmt.Errorf("unknown vault_status column %q", f)
		}
		args = append(args, get(v))
		sets = append(sets, fmt.Sprintf("%s = $%d", f, len(args)))
	}
	sets = append(sets, "updated_at = now()")
	args = append(args, v.UserID)

	query := fmt.Sprintf(`UPDATE vault_status SET %s WHERE user_id = $%d`,
		strings.Join(sets, ", "), len(args))

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return common.ErrorNotFound
	}
	return nil
}

// notFullyClaimed keeps fully claimed users out of bulk target sets.
const notFullyClaimed = `NOT (v.gold_status = 'CLAIMED' AND v.platinum_status = 'CLAIMED' AND v.diamond_status = 'CLAIMED')`

func (r *PostgresRepository) SelectTargetIDs(ctx context.Context, extraWhere string, args []any, limit int) ([]int64, error) {
	query := `SELECT v.user_id FROM vault_status v
		 JOIN user_identity u ON u.id = v.user_id
		 WHERE ` + notFullyClaimed
	if extraWhere != "" {
		query += " AND " + extraWhere
	}
	query += fmt.Sprintf(" ORDER BY v.user_id LIMIT %d", limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return ids, nil
}

func (r *PostgresRepository) scanOne(row *sql.Row) (*models.VaultStatus, error) {
	v := &models.VaultStatus{}
	err := row.Scan(
		&v.UserID, &v.ExpiresAt, &v.GoldStatus, &v.PlatinumStatus, &v.DiamondStatus,
		&v.MissionDepositDone, &v.MissionBonusUsed, &v.MissionTelegramLinked,
		&v.DepositTotal, &v.DepositCount, &v.AttendanceDays, &v.LastAttendedOn, &v.ReviewOK, &v.TelegramOK,
		&v.GoldClaimedAt, &v.PlatinumClaimedAt, &v.DiamondClaimedAt,
		&v.ExpiryExtendCount, &v.LastExtendReason, &v.LastExtendAt, &v.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", dbx.ClassifyStoreError(err))
	}
	return v, nil
}
