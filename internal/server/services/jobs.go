package services

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/csv"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/dmitrijs2005/rewardvault/internal/common"
	"github.com/dmitrijs2005/rewardvault/internal/dbx"
	"github.com/dmitrijs2005/rewardvault/internal/logging"
	"github.com/dmitrijs2005/rewardvault/internal/server/config"
	"github.com/dmitrijs2005/rewardvault/internal/server/models"
	"github.com/dmitrijs2005/rewardvault/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/rewardvault/internal/server/targets"
)

// maxItemErrorLength bounds stored per-item error messages.
const maxItemErrorLength = 500

// maxFailedSample caps how many failing user ids a job summary carries; the
// full list is available through the items endpoint and the CSV export.
const maxFailedSample = 10

// BulkUpdateParams is the payload of a BULK_UPDATE job. Op selects which
// per-user mutation the processor applies.
type BulkUpdateParams struct {
	Op             string              `json:"op"`
	Missions       *GoldMissionsPatch  `json:"missions,omitempty"`
	Tier           models.Tier         `json:"tier,omitempty"`
	Status         models.TierStatus   `json:"status,omitempty"`
	AttendanceDays *int                `json:"attendance_days,omitempty"`
	DepositTotal   *int64              `json:"deposit_total,omitempty"`
	DepositCount   *int                `json:"deposit_count,omitempty"`
}

// Bulk update operations.
const (
	OpGoldMissions   = "gold_missions"
	OpStatusOverride = "status_override"
	OpAttendance     = "attendance"
	OpDeposit        = "deposit"
)

// ExtendExpiryParams is the payload of an EXTEND_EXPIRY job.
type ExtendExpiryParams struct {
	Hours     int    `json:"hours"`
	Reason    string `json:"reason"`
	RequestID string `json:"request_id"`
}

// NotifyParams is the payload of a NOTIFY job.
type NotifyParams struct {
	NotifyType string          `json:"notify_type"`
	VariantID  string          `json:"variant_id"`
	CampaignID string          `json:"campaign_id"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// JobSummary is the API shape of a job. FailedSample holds up to
// maxFailedSample user ids whose items failed in the run that produced it.
type JobSummary struct {
	JobID        string     `json:"job_id"`
	JobType      string     `json:"job_type"`
	Status       string     `json:"status"`
	TargetCount  int        `json:"target_count"`
	Processed    int        `json:"processed"`
	Failed       int        `json:"failed"`
	FailedSample []int64    `json:"failed_sample,omitempty"`
	CreatedBy    string     `json:"created_by"`
	CreatedAt    time.Time  `json:"created_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
}

func jobSummary(j *models.AdminJob) *JobSummary {
	return &JobSummary{
		JobID:       j.JobID,
		JobType:     j.JobType,
		Status:      j.Status,
		TargetCount: j.TargetCount,
		Processed:   j.Processed,
		Failed:      j.Failed,
		CreatedBy:   j.CreatedBy,
		CreatedAt:   j.CreatedAt,
		FinishedAt:  j.FinishedAt,
	}
}

// JobProcessor creates and executes bulk admin jobs. Creation is idempotent
// through the coordinator; execution gives every target its own transaction,
// so one poisoned user cannot roll back its neighbours. A job never fails
// atomically: every item is attempted, and the job ends DONE only when zero
// items failed.
type JobProcessor struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	coordinator *Coordinator
	resolver    *TargetResolver
	vaults      *VaultService
	expiry      *ExpiryService
	notify      *NotifyService
	logger      logging.Logger
	lockMs      int
	stmtMs      int
	now         func() time.Time
}

func NewJobProcessor(db *sql.DB, m repomanager.RepositoryManager, coord *Coordinator, resolver *TargetResolver,
	vaults *VaultService, expiry *ExpiryService, notify *NotifyService, cfg *config.Config, logger logging.Logger) *JobProcessor {
	return &JobProcessor{
		db:          db,
		repomanager: m,
		coordinator: coord,
		resolver:    resolver,
		vaults:      vaults,
		expiry:      expiry,
		notify:      notify,
		logger:      logger,
		lockMs:      cfg.LockTimeoutMs,
		stmtMs:      cfg.StatementTimeoutMs,
		now:         time.Now,
	}
}

// NewJobID builds a sortable, human-scannable job id.
func NewJobID(now time.Time) string {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand never fails on supported platforms; fall back to the
		// clock so id generation cannot abort a job launch.
		nano := now.UnixNano()
		buf[0], buf[1], buf[2], buf[3] = byte(nano), byte(nano>>8), byte(nano>>16), byte(nano>>24)
	}
	return fmt.Sprintf("job_%s_%s", now.UTC().Format("20060102_150405"), hex.EncodeToString(buf))
}

// validateParams rejects malformed payloads at launch time, before any item
// is written, so a bad request never produces a job full of failed items.
func validateParams(jobType string, raw json.RawMessage) error {
	switch jobType {
	case models.JobTypeBulkUpdate:
		var p BulkUpdateParams
		if err := json.Unmarshal(raw, &p); err != nil {
			return common.Validationf("malformed bulk update params: %v", err)
		}
		switch p.Op {
		case OpGoldMissions:
			if p.Missions == nil || p.Missions.empty() {
				return common.Validationf("gold_missions op requires at least one mission flag")
			}
		case OpStatusOverride:
			if !models.ValidTier(p.Tier) {
				return common.Validationf("unknown tier %q", p.Tier)
			}
			if !models.ValidTierStatus(p.Status) {
				return common.Validationf("unknown status %q", p.Status)
			}
		case OpAttendance:
			if p.AttendanceDays == nil || *p.AttendanceDays < 0 {
				return common.Validationf("attendance op requires non-negative attendance_days")
			}
		case OpDeposit:
			if p.DepositTotal == nil || p.DepositCount == nil || *p.DepositTotal < 0 || *p.DepositCount < 0 {
				return common.Validationf("deposit op requires non-negative deposit_total and deposit_count")
			}
		default:
			return common.Validationf("unknown bulk update op %q", p.Op)
		}
	case models.JobTypeExtendExpiry:
		var p ExtendExpiryParams
		if err := json.Unmarshal(raw, &p); err != nil {
			return common.Validationf("malformed extend expiry params: %v", err)
		}
		return validateExtendExpiry(p.Hours, p.Reason, p.RequestID)
	case models.JobTypeNotify:
		var p NotifyParams
		if err := json.Unmarshal(raw, &p); err != nil {
			return common.Validationf("malformed notify params: %v", err)
		}
		return validateNotify(p.NotifyType, p.VariantID, p.CampaignID)
	default:
		return common.Validationf("unknown job type %q", jobType)
	}
	return nil
}

// Launch resolves the targets, records the job with one PENDING item per
// target, and executes every item before the response is stored. Creation is
// staged under the idempotency key, so a replayed launch returns the original
// final summary with its processed/failed split instead of spawning a twin.
// A crash mid-execution leaves the key IN_PROGRESS until its TTL; the job's
// persisted items keep the partial outcome inspectable.
func (s *JobProcessor) Launch(ctx context.Context, meta Meta, jobType string, spec *targets.Spec, params any) (*Result, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, common.Validationf("malformed job params: %v", err)
	}
	if err := validateParams(jobType, raw); err != nil {
		return nil, err
	}

	var jobID string
	replayed, staged, err := s.coordinator.Stage(ctx, meta, func(ctx context.Context, tx dbx.DBTX) error {
		ids, err := s.resolver.Resolve(ctx, tx, spec)
		if err != nil {
			return err
		}
		job := &models.AdminJob{
			JobID:       NewJobID(s.now()),
			JobType:     jobType,
			Status:      models.JobPending,
			TargetCount: len(ids),
			Params:      raw,
			CreatedBy:   meta.Actor,
		}
		if err := s.repomanager.Jobs(tx).Create(ctx, job); err != nil {
			return err
		}
		if err := s.repomanager.Jobs(tx).InsertItems(ctx, job.JobID, ids); err != nil {
			return err
		}

		if err := s.repomanager.Audit(tx).Insert(ctx, &models.AuditEntry{
			AdminUser:      meta.Actor,
			Action:         jobType,
			Endpoint:       meta.Endpoint,
			TargetUserIDs:  ids,
			TargetCount:    len(ids),
			RequestBody:    string(raw),
			ResponseStatus: http.StatusOK,
			JobID:          job.JobID,
			IdempotencyKey: meta.Key,
		}); err != nil {
			return err
		}

		jobID = job.JobID
		s.logger.Info(ctx, "job launched",
			"job_id", job.JobID, "job_type", jobType, "targets", len(ids), "actor", meta.Actor)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if replayed != nil {
		return replayed, nil
	}

	summary, err := s.Run(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return s.coordinator.Settle(ctx, staged, http.StatusOK, summary)
}

// Run executes every PENDING item of the job, one transaction per item, then
// settles the aggregate status.
func (s *JobProcessor) Run(ctx context.Context, jobID string) (*JobSummary, error) {
	job, err := s.repomanager.Jobs(s.db).Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if err := s.repomanager.Jobs(s.db).UpdateStatus(ctx, jobID, models.JobRunning, job.Processed, job.Failed, false); err != nil {
		return nil, err
	}

	items, err := s.repomanager.Jobs(s.db).ListItemsByStatus(ctx, jobID, models.ItemPending)
	if err != nil {
		return nil, err
	}

	processed, failed := job.Processed, job.Failed
	var failedSample []int64
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		itemErr := s.runItem(ctx, job, item.UserID)

		processed++
		if itemErr != nil {
			failed++
			if len(failedSample) < maxFailedSample {
				failedSample = append(failedSample, item.UserID)
			}
			s.logger.Warn(ctx, "job item failed",
				"job_id", jobID, "user_id", item.UserID, "error", itemErr)
			if err := s.repomanager.Jobs(s.db).UpdateItem(ctx, jobID, item.UserID, models.ItemFailed, truncateError(itemErr)); err != nil {
				return nil, err
			}
		}
	}

	final := models.JobDone
	if failed > 0 {
		final = models.JobFailed
	}
	if err := s.repomanager.Jobs(s.db).UpdateStatus(ctx, jobID, final, processed, failed, true); err != nil {
		return nil, err
	}
	s.logger.Info(ctx, "job finished",
		"job_id", jobID, "status", final, "processed", processed, "failed", failed)

	job, err = s.repomanager.Jobs(s.db).Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	summary := jobSummary(job)
	summary.FailedSample = failedSample
	return summary, nil
}

// runItem applies the job's mutation to one user and marks the item DONE in
// the same transaction, so a crash cannot re-apply work that already
// committed. The FAILED marker is written by the caller after rollback.
func (s *JobProcessor) runItem(ctx context.Context, job *models.AdminJob, userID int64) error {
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := dbx.ApplySessionTimeouts(ctx, tx, s.lockMs, s.stmtMs); err != nil {
			return err
		}
		if err := s.applyItem(ctx, tx, job, userID); err != nil {
			return err
		}
		return s.repomanager.Jobs(tx).UpdateItem(ctx, job.JobID, userID, models.ItemDone, "")
	})
	return dbx.ClassifyStoreError(err)
}

func (s *JobProcessor) applyItem(ctx context.Context, tx dbx.DBTX, job *models.AdminJob, userID int64) error {
	switch job.JobType {
	case models.JobTypeBulkUpdate:
		var p BulkUpdateParams
		if err := json.Unmarshal(job.Params, &p); err != nil {
			return common.Validationf("malformed bulk update params: %v", err)
		}
		switch p.Op {
		case OpGoldMissions:
			_, err := s.vaults.ApplyGoldMissions(ctx, tx, userID, p.Missions)
			return err
		case OpStatusOverride:
			_, err := s.vaults.ApplyStatusOverride(ctx, tx, userID, p.Tier, p.Status)
			return err
		case OpAttendance:
			_, err := s.vaults.ApplyAttendanceSet(ctx, tx, userID, *p.AttendanceDays)
			return err
		case OpDeposit:
			_, err := s.vaults.ApplyDepositSet(ctx, tx, userID, *p.DepositTotal, *p.DepositCount)
			return err
		default:
			return common.Validationf("unknown bulk update op %q", p.Op)
		}
	case models.JobTypeExtendExpiry:
		var p ExtendExpiryParams
		if err := json.Unmarshal(job.Params, &p); err != nil {
			return common.Validationf("malformed extend expiry params: %v", err)
		}
		_, err := s.expiry.ApplyExtension(ctx, tx, userID, p.Hours, p.Reason, p.RequestID, job.CreatedBy)
		return err
	case models.JobTypeNotify:
		var p NotifyParams
		if err := json.Unmarshal(job.Params, &p); err != nil {
			return common.Validationf("malformed notify params: %v", err)
		}
		_, err := s.notify.EnqueueOne(ctx, tx, userID, &p)
		return err
	default:
		return common.Validationf("unknown job type %q", job.JobType)
	}
}

// Retry resets this job's FAILED items to PENDING and runs them again. DONE
// items are never re-applied.
func (s *JobProcessor) Retry(ctx context.Context, jobID string) (*JobSummary, error) {
	var reset int64
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		job, err := s.repomanager.Jobs(tx).GetForUpdate(ctx, jobID)
		if err != nil {
			return err
		}
		if job.Status == models.JobRunning {
			return common.New(common.KindConflict, common.CodeAlreadyInProgress, "job is still running")
		}
		reset, err = s.repomanager.Jobs(tx).ResetFailedItems(ctx, jobID)
		if err != nil {
			return err
		}
		if reset == 0 {
			return common.Validationf("job %s has no failed items to retry", jobID)
		}
		return s.repomanager.Jobs(tx).UpdateStatus(ctx, jobID,
			models.JobPending, job.Processed-int(reset), job.Failed-int(reset), false)
	})
	if err != nil {
		return nil, dbx.ClassifyStoreError(err)
	}
	s.logger.Info(ctx, "job retry", "job_id", jobID, "reset_items", reset)
	return s.Run(ctx, jobID)
}

// Get returns one job.
func (s *JobProcessor) Get(ctx context.Context, jobID string) (*JobSummary, error) {
	job, err := s.repomanager.Jobs(s.db).Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return jobSummary(job), nil
}

// List returns jobs newest first.
func (s *JobProcessor) List(ctx context.Context, offset, limit int) ([]*JobSummary, error) {
	jobs, err := s.repomanager.Jobs(s.db).List(ctx, offset, limit)
	if err != nil {
		return nil, err
	}
	out := make([]*JobSummary, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, jobSummary(j))
	}
	return out, nil
}

// Items returns the per-user outcomes of one job.
func (s *JobProcessor) Items(ctx context.Context, jobID string) ([]*models.AdminJobItem, error) {
	if _, err := s.repomanager.Jobs(s.db).Get(ctx, jobID); err != nil {
		return nil, err
	}
	return s.repomanager.Jobs(s.db).ListItems(ctx, jobID)
}

// WriteItemsCSV streams the job's items as CSV, for operator export.
func (s *JobProcessor) WriteItemsCSV(ctx context.Context, jobID string, w io.Writer) error {
	items, err := s.Items(ctx, jobID)
	if err != nil {
		return err
	}
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"job_id", "user_id", "status", "error_message", "updated_at"}); err != nil {
		return err
	}
	for _, it := range items {
		rec := []string{
			it.JobID,
			strconv.FormatInt(it.UserID, 10),
			it.Status,
			it.ErrorMessage,
			it.UpdatedAt.UTC().Format(time.RFC3339),
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// truncateError keeps stored item errors bounded.
func truncateError(err error) string {
	msg := err.Error()
	if len(msg) > maxItemErrorLength {
		msg = msg[:maxItemErrorLength]
	}
	return msg
}
