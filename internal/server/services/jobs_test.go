package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/rewardvault/internal/common"
	"github.com/dmitrijs2005/rewardvault/internal/server/models"
	"github.com/dmitrijs2005/rewardvault/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/rewardvault/internal/server/targets"
	"github.com/dmitrijs2005/rewardvault/internal/server/vault"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newProcessorWithMock(t *testing.T) (*JobProcessor, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)

	cfg := testConfig()
	logger := testLogger()
	m := repomanager.NewPostgresRepositoryManager()
	coord := NewCoordinator(db, m, cfg, logger)
	machine := vault.NewMachine(vault.DefaultPolicy())
	vaults := NewVaultService(db, m, machine, coord, cfg, logger)
	resolver := NewTargetResolver(db, m, cfg, logger)
	expiry := NewExpiryService(db, m, logger)
	notify := NewNotifyService(db, m, logger)
	return NewJobProcessor(db, m, coord, resolver, vaults, expiry, notify, cfg, logger), mock, db
}

var jobCols = []string{
	"job_id", "job_type", "status", "target_count", "processed", "failed",
	"params", "created_by", "created_at", "finished_at",
}

var itemCols = []string{"job_id", "user_id", "status", "error_message", "updated_at"}

var svcVaultCols = []string{
	"user_id", "expires_at", "gold_status", "platinum_status", "diamond_status",
	"mission_deposit_done", "mission_bonus_used", "mission_telegram_linked",
	"deposit_total", "deposit_count", "attendance_days", "last_attended_on", "review_ok", "telegram_ok",
	"gold_claimed_at", "platinum_claimed_at", "diamond_claimed_at",
	"expiry_extend_count", "last_extend_reason", "last_extend_at", "updated_at",
}

func svcVaultRow(userID int64, goldStatus string) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows(svcVaultCols).AddRow(
		userID, now.Add(72*time.Hour), goldStatus, "LOCKED", "LOCKED",
		false, false, false,
		int64(0), 0, 0, nil, false, false,
		nil, nil, nil,
		0, "", nil, now,
	)
}

func identityRow(id int64) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "external_user_id", "nickname", "joined_date", "created_at"}).
		AddRow(id, "ext", "nick", nil, time.Now())
}

// expectItemVaultAccess covers the common per-item prologue: transaction,
// session timeouts, identity lookup, lazy vault create, locked read.
func expectItemVaultAccess(mock sqlmock.Sqlmock, userID int64, goldStatus string) {
	mock.ExpectBegin()
	mock.ExpectExec(`^SET LOCAL lock_timeout`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`^SET LOCAL statement_timeout`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`(?s)^SELECT\s+.*FROM\s+user_identity\s+WHERE\s+id\s*=\s*\$1`).
		WithArgs(userID).
		WillReturnRows(identityRow(userID))
	mock.ExpectExec(`(?s)^INSERT\s+INTO\s+vault_status`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`(?s)^SELECT\s+.*FROM\s+vault_status\s+WHERE\s+user_id\s*=\s*\$1\s+FOR\s+UPDATE`).
		WithArgs(userID).
		WillReturnRows(svcVaultRow(userID, goldStatus))
}

func TestNewJobID_Format(t *testing.T) {
	now := time.Date(2026, 8, 29, 13, 5, 0, 0, time.UTC)
	id := NewJobID(now)
	assert.Regexp(t, regexp.MustCompile(`^job_20260829_130500_[0-9a-f]{8}$`), id)
}

func TestValidateParams(t *testing.T) {
	missionOn := true
	days := 5

	cases := []struct {
		name    string
		jobType string
		params  any
		wantErr bool
	}{
		{"gold missions ok", models.JobTypeBulkUpdate, BulkUpdateParams{Op: OpGoldMissions, Missions: &GoldMissionsPatch{DepositDone: &missionOn}}, false},
		{"gold missions empty", models.JobTypeBulkUpdate, BulkUpdateParams{Op: OpGoldMissions}, true},
		{"override bad tier", models.JobTypeBulkUpdate, BulkUpdateParams{Op: OpStatusOverride, Tier: "BRONZE", Status: models.StatusLocked}, true},
		{"attendance ok", models.JobTypeBulkUpdate, BulkUpdateParams{Op: OpAttendance, AttendanceDays: &days}, false},
		{"deposit missing", models.JobTypeBulkUpdate, BulkUpdateParams{Op: OpDeposit}, true},
		{"unknown op", models.JobTypeBulkUpdate, BulkUpdateParams{Op: "drop"}, true},
		{"extend ok", models.JobTypeExtendExpiry, ExtendExpiryParams{Hours: 24, Reason: models.ExtendReasonOps, RequestID: "r1"}, false},
		{"extend too long", models.JobTypeExtendExpiry, ExtendExpiryParams{Hours: 96, Reason: models.ExtendReasonOps, RequestID: "r1"}, true},
		{"extend bad reason", models.JobTypeExtendExpiry, ExtendExpiryParams{Hours: 24, Reason: "WHIM", RequestID: "r1"}, true},
		{"notify ok", models.JobTypeNotify, NotifyParams{NotifyType: "EXPIRY_D2", VariantID: "A", CampaignID: "c1"}, false},
		{"notify bad type", models.JobTypeNotify, NotifyParams{NotifyType: "SPAM", VariantID: "A", CampaignID: "c1"}, true},
		{"unknown job type", "VACUUM", map[string]any{}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			raw, err := json.Marshal(tc.params)
			require.NoError(t, err)
			err = validateParams(tc.jobType, raw)
			if tc.wantErr {
				require.Error(t, err)
				assert.Equal(t, common.KindValidation, common.KindOf(err))
			} else {
				require.NoError(t, err)
			}
		})
	}
}

// One bad user fails alone: the job finishes FAILED with the good item DONE,
// and the failed item records why.
func TestRun_PartialFailure(t *testing.T) {
	p, mock, db := newProcessorWithMock(t)
	defer db.Close()

	params, _ := json.Marshal(BulkUpdateParams{Op: OpStatusOverride, Tier: models.TierGold, Status: models.StatusLocked})
	now := time.Now()

	mock.ExpectQuery(`(?s)^SELECT\s+.*FROM\s+admin_jobs\s+WHERE\s+job_id\s*=\s*\$1$`).
		WithArgs("j1").
		WillReturnRows(sqlmock.NewRows(jobCols).
			AddRow("j1", models.JobTypeBulkUpdate, models.JobPending, 2, 0, 0, params, "ops", now, nil))
	mock.ExpectExec(`(?s)^UPDATE\s+admin_jobs\s+SET\s+status`).
		WithArgs("j1", models.JobRunning, 0, 0, false).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`(?s)^SELECT\s+.*FROM\s+admin_job_items\s+WHERE\s+job_id\s*=\s*\$1\s+AND\s+status\s*=\s*\$2`).
		WithArgs("j1", models.ItemPending).
		WillReturnRows(sqlmock.NewRows(itemCols).
			AddRow("j1", int64(1), models.ItemPending, "", now).
			AddRow("j1", int64(2), models.ItemPending, "", now))

	// User 1: UNLOCKED gold is forced back to LOCKED; the DONE marker commits
	// with the mutation.
	expectItemVaultAccess(mock, 1, "UNLOCKED")
	mock.ExpectExec(`(?s)^UPDATE\s+vault_status\s+SET\s+gold_status\s*=\s*\$1`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`(?s)^UPDATE\s+admin_job_items\s+SET\s+status`).
		WithArgs("j1", int64(1), models.ItemDone, "").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	// User 2: CLAIMED gold is frozen, the item fails.
	expectItemVaultAccess(mock, 2, "CLAIMED")
	mock.ExpectRollback()
	mock.ExpectExec(`(?s)^UPDATE\s+admin_job_items\s+SET\s+status`).
		WithArgs("j1", int64(2), models.ItemFailed, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	mock.ExpectExec(`(?s)^UPDATE\s+admin_jobs\s+SET\s+status`).
		WithArgs("j1", models.JobFailed, 2, 1, true).
		WillReturnResult(sqlmock.NewResult(0, 1))
	finished := now
	mock.ExpectQuery(`(?s)^SELECT\s+.*FROM\s+admin_jobs\s+WHERE\s+job_id\s*=\s*\$1$`).
		WithArgs("j1").
		WillReturnRows(sqlmock.NewRows(jobCols).
			AddRow("j1", models.JobTypeBulkUpdate, models.JobFailed, 2, 2, 1, params, "ops", now, &finished))

	summary, err := p.Run(context.Background(), "j1")
	require.NoError(t, err)
	assert.Equal(t, models.JobFailed, summary.Status)
	assert.Equal(t, 2, summary.Processed)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, []int64{2}, summary.FailedSample)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// A launch executes its items before the response is stored: the replayable
// body already carries the final processed/failed split and a sample of the
// failing ids, never a zeroed snapshot of the freshly created job.
func TestLaunch_StoresFinalOutcome(t *testing.T) {
	p, mock, db := newProcessorWithMock(t)
	defer db.Close()

	now := time.Now()
	params := BulkUpdateParams{Op: OpStatusOverride, Tier: models.TierGold, Status: models.StatusLocked}
	rawParams, _ := json.Marshal(params)

	// Staged creation: idempotency bookkeeping, job, items, audit.
	mock.ExpectBegin()
	mock.ExpectExec(`^SET LOCAL lock_timeout`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`^SET LOCAL statement_timeout`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`(?s)^SELECT\s+.*FROM\s+idempotency_keys`).WillReturnError(sql.ErrNoRows)
	mock.ExpectExec(`(?s)^INSERT\s+INTO\s+idempotency_keys`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`(?s)^INSERT\s+INTO\s+admin_jobs`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`(?s)^INSERT\s+INTO\s+admin_job_items`).WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(`(?s)^INSERT\s+INTO\s+admin_audit_log`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	// Execution happens within the launch, before the response settles.
	mock.ExpectQuery(`(?s)^SELECT\s+.*FROM\s+admin_jobs\s+WHERE\s+job_id\s*=\s*\$1$`).
		WillReturnRows(sqlmock.NewRows(jobCols).
			AddRow("j1", models.JobTypeBulkUpdate, models.JobPending, 2, 0, 0, rawParams, "admin", now, nil))
	mock.ExpectExec(`(?s)^UPDATE\s+admin_jobs\s+SET\s+status`).
		WithArgs(sqlmock.AnyArg(), models.JobRunning, 0, 0, false).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`(?s)^SELECT\s+.*FROM\s+admin_job_items`).
		WillReturnRows(sqlmock.NewRows(itemCols).
			AddRow("j1", int64(1), models.ItemPending, "", now).
			AddRow("j1", int64(2), models.ItemPending, "", now))

	expectItemVaultAccess(mock, 1, "UNLOCKED")
	mock.ExpectExec(`(?s)^UPDATE\s+vault_status\s+SET\s+gold_status\s*=\s*\$1`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`(?s)^UPDATE\s+admin_job_items\s+SET\s+status`).
		WithArgs("j1", int64(1), models.ItemDone, "").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	expectItemVaultAccess(mock, 2, "CLAIMED")
	mock.ExpectRollback()
	mock.ExpectExec(`(?s)^UPDATE\s+admin_job_items\s+SET\s+status`).
		WithArgs(sqlmock.AnyArg(), int64(2), models.ItemFailed, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	mock.ExpectExec(`(?s)^UPDATE\s+admin_jobs\s+SET\s+status`).
		WithArgs(sqlmock.AnyArg(), models.JobFailed, 2, 1, true).
		WillReturnResult(sqlmock.NewResult(0, 1))
	finished := now
	mock.ExpectQuery(`(?s)^SELECT\s+.*FROM\s+admin_jobs\s+WHERE\s+job_id\s*=\s*\$1$`).
		WillReturnRows(sqlmock.NewRows(jobCols).
			AddRow("j1", models.JobTypeBulkUpdate, models.JobFailed, 2, 2, 1, rawParams, "admin", now, &finished))

	// The settled response is what future retries replay.
	mock.ExpectExec(`(?s)^UPDATE\s+idempotency_keys\s+SET\s+status\s*=\s*'DONE'`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	spec := &targets.Spec{Mode: targets.ModeUserIDs, UserIDs: []int64{1, 2}}
	meta := Meta{Key: "k-launch", Scope: "admin", Endpoint: "vault.status_override", Actor: "admin", Payload: params}
	res, err := p.Launch(context.Background(), meta, models.JobTypeBulkUpdate, spec, params)
	require.NoError(t, err)
	assert.False(t, res.Replayed)
	assert.Equal(t, http.StatusOK, res.StatusCode)

	var summary JobSummary
	require.NoError(t, json.Unmarshal(res.Body, &summary))
	assert.Equal(t, models.JobFailed, summary.Status)
	assert.Equal(t, 2, summary.Processed)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, []int64{2}, summary.FailedSample)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// Retry resets only the FAILED items and re-runs them; the DONE item is never
// touched again.
func TestRetry_ReappliesOnlyFailedItems(t *testing.T) {
	p, mock, db := newProcessorWithMock(t)
	defer db.Close()

	params, _ := json.Marshal(BulkUpdateParams{Op: OpStatusOverride, Tier: models.TierGold, Status: models.StatusLocked})
	now := time.Now()
	finished := now

	mock.ExpectBegin()
	mock.ExpectQuery(`(?s)^SELECT\s+.*FROM\s+admin_jobs\s+WHERE\s+job_id\s*=\s*\$1\s+FOR\s+UPDATE$`).
		WithArgs("j1").
		WillReturnRows(sqlmock.NewRows(jobCols).
			AddRow("j1", models.JobTypeBulkUpdate, models.JobFailed, 2, 2, 1, params, "ops", now, &finished))
	mock.ExpectExec(`(?s)^UPDATE\s+admin_job_items\s+SET\s+status\s*=\s*'PENDING'`).
		WithArgs("j1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`(?s)^UPDATE\s+admin_jobs\s+SET\s+status`).
		WithArgs("j1", models.JobPending, 1, 0, false).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	// Only user 2 comes back PENDING; user 1 stays DONE and is not re-applied.
	mock.ExpectQuery(`(?s)^SELECT\s+.*FROM\s+admin_jobs\s+WHERE\s+job_id\s*=\s*\$1$`).
		WithArgs("j1").
		WillReturnRows(sqlmock.NewRows(jobCols).
			AddRow("j1", models.JobTypeBulkUpdate, models.JobPending, 2, 1, 0, params, "ops", now, nil))
	mock.ExpectExec(`(?s)^UPDATE\s+admin_jobs\s+SET\s+status`).
		WithArgs("j1", models.JobRunning, 1, 0, false).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`(?s)^SELECT\s+.*FROM\s+admin_job_items\s+WHERE\s+job_id\s*=\s*\$1\s+AND\s+status\s*=\s*\$2`).
		WithArgs("j1", models.ItemPending).
		WillReturnRows(sqlmock.NewRows(itemCols).
			AddRow("j1", int64(2), models.ItemPending, "", now))

	expectItemVaultAccess(mock, 2, "UNLOCKED")
	mock.ExpectExec(`(?s)^UPDATE\s+vault_status\s+SET\s+gold_status\s*=\s*\$1`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`(?s)^UPDATE\s+admin_job_items\s+SET\s+status`).
		WithArgs("j1", int64(2), models.ItemDone, "").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	mock.ExpectExec(`(?s)^UPDATE\s+admin_jobs\s+SET\s+status`).
		WithArgs("j1", models.JobDone, 2, 0, true).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`(?s)^SELECT\s+.*FROM\s+admin_jobs\s+WHERE\s+job_id\s*=\s*\$1$`).
		WithArgs("j1").
		WillReturnRows(sqlmock.NewRows(jobCols).
			AddRow("j1", models.JobTypeBulkUpdate, models.JobDone, 2, 2, 0, params, "ops", now, &finished))

	summary, err := p.Retry(context.Background(), "j1")
	require.NoError(t, err)
	assert.Equal(t, models.JobDone, summary.Status)
	assert.Equal(t, 2, summary.Processed)
	assert.Equal(t, 0, summary.Failed)
	assert.Empty(t, summary.FailedSample)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTruncateError(t *testing.T) {
	long := common.Validationf("%s", strings.Repeat("x", 2*maxItemErrorLength))
	assert.Len(t, truncateError(long), maxItemErrorLength)
	assert.Equal(t, "short", truncateError(errors.New("short")))
}
