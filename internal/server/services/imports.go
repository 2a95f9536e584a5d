package services

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/base64"
	"encoding/csv"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dmitrijs2005/rewardvault/internal/common"
	"github.com/dmitrijs2005/rewardvault/internal/dbx"
	"github.com/dmitrijs2005/rewardvault/internal/logging"
	sc "github.com/dmitrijs2005/rewardvault/internal/server/config"
	"github.com/dmitrijs2005/rewardvault/internal/server/models"
	"github.com/dmitrijs2005/rewardvault/internal/server/repositories/repomanager"
)

// ArchiveStore persists raw import files in object storage.
type ArchiveStore interface {
	Put(ctx context.Context, key string, body []byte, contentType string) error
}

// importDateLayout is the joined_date format in upstream exports.
const importDateLayout = "2006-01-02"

// importHeader is the required CSV column order.
var importHeader = []string{
	"external_user_id", "nickname", "joined_date",
	"deposit_total", "deposit_count", "attendance_days",
	"review_ok", "telegram_ok",
}

// ImportRow is one parsed line of the daily export.
type ImportRow struct {
	ExternalUserID string
	Nickname       string
	JoinedDate     *time.Time
	DepositTotal   int64
	DepositCount   int
	AttendanceDays int
	ReviewOK       bool
	TelegramOK     bool
}

// ImportSummary reports one import run.
type ImportSummary struct {
	JobID     string `json:"job_id"`
	Shadow    bool   `json:"shadow"`
	Total     int    `json:"total"`
	Processed int    `json:"processed"`
	Failed    int    `json:"failed"`
	Changed   int    `json:"changed"`
	Archived  bool   `json:"archived"`
}

// ImportService ingests the daily progress export: it reconciles identities,
// stages raw counters in the snapshot table, re-derives every touched vault
// and archives the raw file to object storage. Shadow mode reports what would
// change without writing any vault row.
type ImportService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	identity    *IdentityResolver
	vaults      *VaultService
	coordinator *Coordinator
	store       ArchiveStore
	config      *sc.Config
	logger      logging.Logger
	now         func() time.Time
}

func NewImportService(db *sql.DB, m repomanager.RepositoryManager, identity *IdentityResolver,
	vaults *VaultService, coord *Coordinator, store ArchiveStore, config *sc.Config, logger logging.Logger) *ImportService {
	return &ImportService{
		db:          db,
		repomanager: m,
		identity:    identity,
		vaults:      vaults,
		coordinator: coord,
		store:       store,
		config:      config,
		logger:      logger,
		now:         time.Now,
	}
}

// ImportFingerprint is the idempotency payload of a daily import: retries are
// matched on upload content, not on parsed rows.
func ImportFingerprint(raw []byte, shadow bool) map[string]any {
	sum := sha256.Sum256(raw)
	return map[string]any{"csv_sha256": hex.EncodeToString(sum[:]), "shadow": shadow}
}

// ParseCSV reads and validates the daily export format.
func ParseCSV(r io.Reader) ([]ImportRow, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, common.Validationf("empty or unreadable csv: %v", err)
	}
	if len(header) != len(importHeader) {
		return nil, common.Validationf("expected %d columns, got %d", len(importHeader), len(header))
	}
	for i, want := range importHeader {
		if strings.TrimSpace(strings.ToLower(header[i])) != want {
			return nil, common.Validationf("column %d must be %q, got %q", i+1, want, header[i])
		}
	}

	var rows []ImportRow
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, common.Validationf("csv line %d: %v", line, err)
		}
		row, err := parseRow(rec)
		if err != nil {
			return nil, common.Validationf("csv line %d: %v", line, err)
		}
		rows = append(rows, row)
	}
	if len(rows) == 0 {
		return nil, common.Validationf("csv contains no data rows")
	}
	return rows, nil
}

func parseRow(rec []string) (ImportRow, error) {
	var row ImportRow
	row.ExternalUserID = strings.TrimSpace(rec[0])
	if row.ExternalUserID == "" {
		return row, fmt.Errorf("external_user_id is empty")
	}
	row.Nickname = strings.TrimSpace(rec[1])

	if d := strings.TrimSpace(rec[2]); d != "" {
		t, err := time.Parse(importDateLayout, d)
		if err != nil {
			return row, fmt.Errorf("bad joined_date %q", d)
		}
		row.JoinedDate = &t
	}

	var err error
	if row.DepositTotal, err = strconv.ParseInt(strings.TrimSpace(rec[3]), 10, 64); err != nil || row.DepositTotal < 0 {
		return row, fmt.Errorf("bad deposit_total %q", rec[3])
	}
	if row.DepositCount, err = strconv.Atoi(strings.TrimSpace(rec[4])); err != nil || row.DepositCount < 0 {
		return row, fmt.Errorf("bad deposit_count %q", rec[4])
	}
	if row.AttendanceDays, err = strconv.Atoi(strings.TrimSpace(rec[5])); err != nil || row.AttendanceDays < 0 {
		return row, fmt.Errorf("bad attendance_days %q", rec[5])
	}
	if row.ReviewOK, err = strconv.ParseBool(strings.TrimSpace(rec[6])); err != nil {
		return row, fmt.Errorf("bad review_ok %q", rec[6])
	}
	if row.TelegramOK, err = strconv.ParseBool(strings.TrimSpace(rec[7])); err != nil {
		return row, fmt.Errorf("bad telegram_ok %q", rec[7])
	}
	return row, nil
}

// Run ingests the parsed rows. The job record and the audit entry are staged
// under the idempotency key, so a retried upload replays the stored summary
// instead of importing twice. Rows are processed in chunks, one transaction
// per chunk; a bad row fails alone and the rest of its chunk is retried
// without it, so one corrupt user cannot sink the nightly import.
func (s *ImportService) Run(ctx context.Context, meta Meta, rows []ImportRow, raw []byte, shadow bool) (*Result, error) {
	jobID := NewJobID(s.now())
	params, _ := json.Marshal(map[string]any{"shadow": shadow, "rows": len(rows)})

	replayed, staged, err := s.coordinator.Stage(ctx, meta, func(ctx context.Context, tx dbx.DBTX) error {
		job := &models.AdminJob{
			JobID:       jobID,
			JobType:     models.JobTypeDailyImport,
			Status:      models.JobRunning,
			TargetCount: len(rows),
			Params:      params,
			CreatedBy:   meta.Actor,
		}
		if err := s.repomanager.Jobs(tx).Create(ctx, job); err != nil {
			return err
		}
		return s.repomanager.Audit(tx).Insert(ctx, &models.AuditEntry{
			AdminUser:      meta.Actor,
			Action:         models.JobTypeDailyImport,
			Endpoint:       meta.Endpoint,
			TargetCount:    len(rows),
			RequestBody:    string(params),
			ResponseStatus: http.StatusOK,
			JobID:          jobID,
			IdempotencyKey: meta.Key,
		})
	})
	if err != nil {
		return nil, err
	}
	if replayed != nil {
		return replayed, nil
	}

	summary := &ImportSummary{JobID: jobID, Shadow: shadow, Total: len(rows)}

	chunk := s.config.ImportChunkSize
	if chunk <= 0 {
		chunk = len(rows)
	}
	for start := 0; start < len(rows); start += chunk {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := start + chunk
		if end > len(rows) {
			end = len(rows)
		}
		s.runChunk(ctx, jobID, rows[start:end], shadow, summary)
	}

	final := models.JobDone
	if summary.Failed > 0 {
		final = models.JobFailed
	}
	if err := s.repomanager.Jobs(s.db).UpdateStatus(ctx, jobID, final, summary.Processed, summary.Failed, true); err != nil {
		return nil, err
	}

	if !shadow {
		summary.Archived = s.archive(ctx, jobID, raw)
	}

	s.logger.Info(ctx, "daily import finished",
		"job_id", jobID, "shadow", shadow,
		"processed", summary.Processed, "failed", summary.Failed, "changed", summary.Changed)
	return s.coordinator.Settle(ctx, staged, http.StatusOK, summary)
}

// runChunk applies one chunk in a single transaction. If the chunk fails as a
// whole, each row is retried individually so only the offender is lost.
func (s *ImportService) runChunk(ctx context.Context, jobID string, rows []ImportRow, shadow bool, summary *ImportSummary) {
	changed, err := s.applyRows(ctx, rows, shadow)
	if err == nil {
		summary.Processed += len(rows)
		summary.Changed += changed
		return
	}

	if len(rows) == 1 {
		summary.Processed++
		summary.Failed++
		s.logger.Warn(ctx, "import row failed",
			"job_id", jobID, "external_user_id", rows[0].ExternalUserID, "error", err)
		return
	}
	for i := range rows {
		s.runChunk(ctx, jobID, rows[i:i+1], shadow, summary)
	}
}

func (s *ImportService) applyRows(ctx context.Context, rows []ImportRow, shadow bool) (int, error) {
	changed := 0
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := dbx.ApplySessionTimeouts(ctx, tx, s.config.LockTimeoutMs, s.config.StatementTimeoutMs); err != nil {
			return err
		}
		for _, row := range rows {
			n, err := s.applyRow(ctx, tx, row, shadow)
			if err != nil {
				return err
			}
			changed += n
		}
		return nil
	})
	if err != nil {
		return 0, dbx.ClassifyStoreError(err)
	}
	return changed, nil
}

// applyRow reconciles one user: identity, snapshot, vault. Returns 1 when the
// vault row changed (or would change, in shadow mode).
func (s *ImportService) applyRow(ctx context.Context, tx dbx.DBTX, row ImportRow, shadow bool) (int, error) {
	identity, err := s.identity.Resolve(ctx, tx, row.ExternalUserID, true)
	if err != nil {
		return 0, err
	}
	if identity.Nickname != row.Nickname || !equalDate(identity.JoinedDate, row.JoinedDate) {
		if err := s.repomanager.Identities(tx).UpdateProfile(ctx, identity.ID, row.Nickname, row.JoinedDate); err != nil {
			return 0, err
		}
	}

	snap := &models.UserSnapshot{
		UserID:         identity.ID,
		DepositTotal:   row.DepositTotal,
		DepositCount:   row.DepositCount,
		AttendanceDays: row.AttendanceDays,
		ReviewOK:       row.ReviewOK,
		TelegramOK:     row.TelegramOK,
	}

	if shadow {
		return s.shadowDiff(ctx, tx, snap)
	}

	if err := s.repomanager.Snapshots(tx).Upsert(ctx, snap); err != nil {
		return 0, err
	}
	fields, err := s.vaults.ApplySnapshot(ctx, tx, snap)
	if err != nil {
		return 0, err
	}
	if len(fields) > 0 {
		return 1, nil
	}
	return 0, nil
}

// shadowDiff reports whether the snapshot would change the live counters,
// without creating or writing any row.
func (s *ImportService) shadowDiff(ctx context.Context, tx dbx.DBTX, snap *models.UserSnapshot) (int, error) {
	rec, err := s.repomanager.Vaults(tx).Get(ctx, snap.UserID)
	if err != nil {
		if common.KindOf(err) == common.KindNotFound {
			// No vault row yet: the real import would create one.
			return 1, nil
		}
		return 0, err
	}
	if rec.DepositTotal != snap.DepositTotal ||
		rec.DepositCount != snap.DepositCount ||
		snap.AttendanceDays > rec.AttendanceDays ||
		rec.ReviewOK != snap.ReviewOK ||
		rec.TelegramOK != snap.TelegramOK {
		return 1, nil
	}
	return 0, nil
}

// archive stores the raw upload in object storage. Failures are deferred to
// the compensation queue instead of failing an import that already applied.
func (s *ImportService) archive(ctx context.Context, jobID string, raw []byte) bool {
	if len(raw) == 0 {
		return false
	}
	key := fmt.Sprintf("imports/%s/%s.csv", s.now().UTC().Format("2006/01/02"), jobID)
	if err := s.store.Put(ctx, key, raw, "text/csv"); err != nil {
		s.logger.Error(ctx, "import archive failed, deferring to compensation queue",
			"job_id", jobID, "key", key, "error", err)
		payload, _ := json.Marshal(map[string]string{
			"job_id":   jobID,
			"key":      key,
			"body_b64": base64.StdEncoding.EncodeToString(raw),
		})
		if qerr := s.repomanager.Compensations(s.db).Enqueue(ctx, "s3_archive", payload); qerr != nil {
			s.logger.Error(ctx, "compensation enqueue failed", "job_id", jobID, "error", qerr)
		}
		return false
	}
	return true
}

func equalDate(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
