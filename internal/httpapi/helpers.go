package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/affine-collab/cte/internal/apperrors"
)

// writeJSON writes v as a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes the engine's typed error shape: {"error": message,
// "code": stable-code}, omitting "code" for untyped errors.
func writeError(w http.ResponseWriter, status int, message string, code apperrors.Code) {
	body := map[string]string{"error": message}
	if code != "" {
		body["code"] = string(code)
	}
	writeJSON(w, status, body)
}

// writeAppError maps any error through apperrors' taxonomy to its HTTP
// status, attaching partial-failure context when present.
func writeAppError(w http.ResponseWriter, err error) {
	status := apperrors.StatusFor(err)
	code := apperrors.CodeFor(err)
	body := map[string]interface{}{"error": err.Error()}
	if code != "" {
		body["code"] = string(code)
	}
	if ae, ok := apperrors.As(err); ok && ae.StepDocID != "" {
		body["failedStep"] = ae.FailedStep
		body["stepDocId"] = ae.StepDocID
	}
	writeJSON(w, status, body)
}

func decodeJSON(r *http.Request, out interface{}) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(out)
}
