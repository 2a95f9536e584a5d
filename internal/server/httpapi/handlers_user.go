package httpapi

import (
	"net/http"
	"strconv"

	"github.com/dmitrijs2005/rewardvault/internal/common"
	"github.com/dmitrijs2005/rewardvault/internal/server/models"
)

type userLoginRequest struct {
	UserRef string `json:"user_ref"`
}

func (h *Handlers) userLogin(w http.ResponseWriter, r *http.Request) {
	var req userLoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	resp, err := h.admin.UserLogin(r.Context(), req.UserRef)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handlers) vaultStatus(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())
	resp, err := h.vaults.Status(r.Context(), claims.UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type claimRequest struct {
	Tier models.Tier `json:"tier"`
}

func (h *Handlers) vaultClaim(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())

	var req claimRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if !models.ValidTier(req.Tier) {
		writeError(w, common.Validationf("unknown tier %q", req.Tier))
		return
	}

	res, err := h.vaults.Claim(r.Context(), r.Header.Get("Idempotency-Key"), claims.UserID, req.Tier)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Idempotency-Replayed", strconv.FormatBool(res.Replayed))
	writeRawJSON(w, res.StatusCode, res.Body)
}

func (h *Handlers) vaultAttendance(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())
	resp, err := h.vaults.Attendance(r.Context(), claims.UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
