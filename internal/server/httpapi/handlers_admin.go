package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/dmitrijs2005/rewardvault/internal/common"
	"github.com/dmitrijs2005/rewardvault/internal/server/models"
	"github.com/dmitrijs2005/rewardvault/internal/server/services"
	"github.com/dmitrijs2005/rewardvault/internal/server/targets"
)

// maxImportBytes bounds daily import uploads.
const maxImportBytes = 64 << 20

// adminActor is the audit identity of the shared operator account.
const adminActor = "admin"

type adminLoginRequest struct {
	Password string `json:"password"`
}

func (h *Handlers) adminLogin(w http.ResponseWriter, r *http.Request) {
	var req adminLoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	resp, err := h.admin.AdminLogin(r.Context(), req.Password)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handlers) listUsers(w http.ResponseWriter, r *http.Request) {
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	users, err := h.admin.ListUsers(r.Context(), offset, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": users})
}

func (h *Handlers) getUser(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	user, err := h.admin.GetUser(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (h *Handlers) deleteUser(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.admin.DeleteUser(r.Context(), adminActor, id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (h *Handlers) userExtensions(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	history, err := h.expiry.History(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"extensions": history})
}

// bulkRequest is the common envelope of bulk admin mutations: a target spec
// plus operation fields read by the specific endpoint.
type bulkRequest struct {
	Targets *targets.Spec `json:"targets"`

	Missions       *services.GoldMissionsPatch `json:"missions,omitempty"`
	Tier           models.Tier                 `json:"tier,omitempty"`
	Status         models.TierStatus           `json:"status,omitempty"`
	AttendanceDays *int                        `json:"attendance_days,omitempty"`
	DepositTotal   *int64                      `json:"deposit_total,omitempty"`
	DepositCount   *int                        `json:"deposit_count,omitempty"`

	Hours  int    `json:"hours,omitempty"`
	Reason string `json:"reason,omitempty"`

	NotifyType string          `json:"notify_type,omitempty"`
	VariantID  string          `json:"variant_id,omitempty"`
	CampaignID string          `json:"campaign_id,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// launchJob runs the flow shared by all bulk endpoints: job creation is
// staged under the idempotency key, every item executes within the request,
// and the final summary is the stored, replayable response.
func (h *Handlers) launchJob(w http.ResponseWriter, r *http.Request, endpoint, jobType string, spec *targets.Spec, params any) {
	meta := services.Meta{
		Key:      r.Header.Get("Idempotency-Key"),
		Scope:    "admin",
		Endpoint: endpoint,
		Actor:    adminActor,
		Payload:  params,
	}
	res, err := h.jobs.Launch(r.Context(), meta, jobType, spec, params)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Idempotency-Replayed", strconv.FormatBool(res.Replayed))
	writeRawJSON(w, res.StatusCode, res.Body)
}

func (h *Handlers) bulkGoldMissions(w http.ResponseWriter, r *http.Request) {
	var req bulkRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	h.launchJob(w, r, "vault.gold_missions", models.JobTypeBulkUpdate, req.Targets,
		services.BulkUpdateParams{Op: services.OpGoldMissions, Missions: req.Missions})
}

func (h *Handlers) bulkStatusOverride(w http.ResponseWriter, r *http.Request) {
	var req bulkRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	h.launchJob(w, r, "vault.status_override", models.JobTypeBulkUpdate, req.Targets,
		services.BulkUpdateParams{Op: services.OpStatusOverride, Tier: req.Tier, Status: req.Status})
}

func (h *Handlers) bulkAttendance(w http.ResponseWriter, r *http.Request) {
	var req bulkRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	h.launchJob(w, r, "vault.attendance", models.JobTypeBulkUpdate, req.Targets,
		services.BulkUpdateParams{Op: services.OpAttendance, AttendanceDays: req.AttendanceDays})
}

func (h *Handlers) bulkDeposit(w http.ResponseWriter, r *http.Request) {
	var req bulkRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	h.launchJob(w, r, "vault.deposit", models.JobTypeBulkUpdate, req.Targets,
		services.BulkUpdateParams{Op: services.OpDeposit, DepositTotal: req.DepositTotal, DepositCount: req.DepositCount})
}

func (h *Handlers) bulkExtendExpiry(w http.ResponseWriter, r *http.Request) {
	var req bulkRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	// The per-user application is deduplicated on this id, so a replayed or
	// retried job never stacks hours.
	requestID := r.Header.Get("Idempotency-Key")
	if requestID == "" {
		requestID = RequestIDFrom(r.Context())
	}
	h.launchJob(w, r, "vault.extend_expiry", models.JobTypeExtendExpiry, req.Targets,
		services.ExtendExpiryParams{Hours: req.Hours, Reason: req.Reason, RequestID: requestID})
}

func (h *Handlers) bulkNotify(w http.ResponseWriter, r *http.Request) {
	var req bulkRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	h.launchJob(w, r, "notify", models.JobTypeNotify, req.Targets,
		services.NotifyParams{NotifyType: req.NotifyType, VariantID: req.VariantID, CampaignID: req.CampaignID, Payload: req.Payload})
}

func (h *Handlers) previewTargets(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Targets *targets.Spec `json:"targets"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	resp, err := h.resolver.Preview(r.Context(), req.Targets)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type segmentRequest struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Filters     json.RawMessage `json:"filters"`
}

func (h *Handlers) saveSegment(w http.ResponseWriter, r *http.Request) {
	var req segmentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	seg, err := h.segments.Save(r.Context(), adminActor, req.Name, req.Description, req.Filters)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, seg)
}

func (h *Handlers) listSegments(w http.ResponseWriter, r *http.Request) {
	segs, err := h.segments.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"segments": segs})
}

func (h *Handlers) getSegment(w http.ResponseWriter, r *http.Request) {
	seg, err := h.segments.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, seg)
}

func (h *Handlers) deleteSegment(w http.ResponseWriter, r *http.Request) {
	if err := h.segments.Delete(r.Context(), adminActor, chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (h *Handlers) listJobs(w http.ResponseWriter, r *http.Request) {
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	jobs, err := h.jobs.List(r.Context(), offset, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

func (h *Handlers) getJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.jobs.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (h *Handlers) jobItems(w http.ResponseWriter, r *http.Request) {
	items, err := h.jobs.Items(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *Handlers) jobItemsCSV(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", jobID+"_items.csv"))
	if err := h.jobs.WriteItemsCSV(r.Context(), jobID, w); err != nil {
		h.logger.Error(r.Context(), "items csv export failed", "job_id", jobID, "error", err)
	}
}

func (h *Handlers) retryJob(w http.ResponseWriter, r *http.Request) {
	summary, err := h.jobs.Retry(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (h *Handlers) retryNotification(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.notify.Retry(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "requeued"})
}

func (h *Handlers) cancelNotification(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.notify.Cancel(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

func (h *Handlers) dailyImport(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxImportBytes))
	if err != nil {
		writeError(w, common.Validationf("unreadable upload: %v", err))
		return
	}
	rows, err := services.ParseCSV(bytes.NewReader(raw))
	if err != nil {
		writeError(w, err)
		return
	}
	shadow := r.URL.Query().Get("shadow") == "true"
	meta := services.Meta{
		Key:      r.Header.Get("Idempotency-Key"),
		Scope:    "admin",
		Endpoint: "import.daily",
		Actor:    adminActor,
		Payload:  services.ImportFingerprint(raw, shadow),
	}
	res, err := h.imports.Run(r.Context(), meta, rows, raw, shadow)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Idempotency-Replayed", strconv.FormatBool(res.Replayed))
	writeRawJSON(w, res.StatusCode, res.Body)
}

func (h *Handlers) auditLog(w http.ResponseWriter, r *http.Request) {
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	entries, err := h.admin.AuditLog(r.Context(), offset, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, common.Validationf("invalid id %q", chi.URLParam(r, name))
	}
	return id, nil
}
