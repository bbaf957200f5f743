// Package agent implements the agent-facing HTTP surface. Response codes are
// contractual: agents key their retry and backoff behavior off them, so the
// mappings here must stay stable across releases.
package agent

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/hivecrack/hivecrack/internal/services"
	"github.com/hivecrack/hivecrack/pkg/debug"
)

// APIError is the JSON error body. Reason is machine-readable and only set on
// task not-found responses; absent reason means task_deleted to callers.
type APIError struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		if err := json.NewEncoder(w).Encode(v); err != nil {
			debug.Error("Failed to encode response: %v", err)
		}
	}
}

func sendAPIError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, APIError{Error: message})
}

func decodeJSON(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// sendTaskError translates the service-layer error taxonomy into the wire
// contract shared by all task operations. Operation-specific codes (202
// stale, 410 gone) are handled at the call sites.
func sendTaskError(w http.ResponseWriter, err error) {
	var notFound *services.NotFoundError
	switch {
	case errors.As(err, &notFound):
		writeJSON(w, http.StatusNotFound, APIError{
			Error:  "task not found",
			Reason: string(notFound.Reason),
		})
	case errors.Is(err, services.ErrTaskNotFound):
		writeJSON(w, http.StatusNotFound, APIError{
			Error:  "task not found",
			Reason: string(services.ReasonTaskDeleted),
		})
	case errors.Is(err, services.ErrTaskAlreadyDone):
		sendAPIError(w, http.StatusUnprocessableEntity, "task already completed")
	case errors.Is(err, services.ErrTaskConflict):
		sendAPIError(w, http.StatusConflict, "task is not running")
	case errors.Is(err, services.ErrTaskGone):
		sendAPIError(w, http.StatusGone, "task paused")
	case errors.Is(err, services.ErrHashNotFound):
		sendAPIError(w, http.StatusUnprocessableEntity, "hash not in target list")
	default:
		debug.Error("Task operation failed: %v", err)
		sendAPIError(w, http.StatusInternalServerError, "internal error")
	}
}
