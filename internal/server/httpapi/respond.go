package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/dmitrijs2005/rewardvault/internal/common"
)

// errorEnvelope is the uniform error body: a stable machine-readable code
// plus a human-readable message.
type errorEnvelope struct {
	ErrorCode string `json:"error_code"`
	Message   string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeRawJSON replays a stored response body verbatim.
func writeRawJSON(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// httpStatusOf maps the error taxonomy onto HTTP statuses.
func httpStatusOf(err error) int {
	if common.CodeOf(err) == common.CodeCSVUploadRequired {
		return http.StatusForbidden
	}
	switch common.KindOf(err) {
	case common.KindValidation:
		return http.StatusBadRequest
	case common.KindNotFound:
		return http.StatusNotFound
	case common.KindConflict, common.KindInvalidTransition:
		return http.StatusConflict
	case common.KindUnauthorized:
		return http.StatusUnauthorized
	case common.KindTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := httpStatusOf(err)
	msg := "internal error"
	var ce *common.Error
	if errors.As(err, &ce) && ce.Kind != common.KindInternal {
		msg = ce.Message
	}
	writeJSON(w, status, errorEnvelope{ErrorCode: common.CodeOf(err), Message: msg})
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		return common.Validationf("malformed request body: %v", err)
	}
	return nil
}
