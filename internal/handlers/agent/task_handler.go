package agent

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/hivecrack/hivecrack/internal/middleware"
	"github.com/hivecrack/hivecrack/internal/models"
	"github.com/hivecrack/hivecrack/internal/services"
	"github.com/hivecrack/hivecrack/pkg/debug"
)

// TaskProtocol is the slice of the task service the handler needs.
type TaskProtocol interface {
	GetTask(ctx context.Context, agent *models.Agent, taskID int64) (*models.Task, error)
	Accept(ctx context.Context, agent *models.Agent, taskID int64) error
	SubmitStatus(ctx context.Context, agent *models.Agent, taskID int64, progress float64) (bool, error)
	SubmitCrack(ctx context.Context, agent *models.Agent, taskID int64, hashValue, plainText string) error
	Exhaust(ctx context.Context, agent *models.Agent, taskID int64) error
	Abandon(ctx context.Context, agent *models.Agent, taskID int64) error
	CrackedPlaintexts(ctx context.Context, agent *models.Agent, taskID int64) ([]string, error)
}

// Assigner produces new work for idle agents.
type Assigner interface {
	NextTask(ctx context.Context, agent *models.Agent) (*models.Task, error)
}

// TaskHandler serves the task lifecycle protocol.
type TaskHandler struct {
	tasks    TaskProtocol
	assigner Assigner
}

// NewTaskHandler creates a new instance of TaskHandler.
func NewTaskHandler(tasks TaskProtocol, assigner Assigner) *TaskHandler {
	return &TaskHandler{tasks: tasks, assigner: assigner}
}

func requestAgent(w http.ResponseWriter, r *http.Request) (*models.Agent, bool) {
	agent, ok := middleware.AgentFromContext(r.Context())
	if !ok {
		sendAPIError(w, http.StatusUnauthorized, "invalid credentials")
		return nil, false
	}
	return agent, true
}

func taskID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid task id: %w", err)
	}
	return id, nil
}

// NextTask handles GET /tasks/new. No work is 204, never an error.
func (h *TaskHandler) NextTask(w http.ResponseWriter, r *http.Request) {
	agent, ok := requestAgent(w, r)
	if !ok {
		return
	}
	task, err := h.assigner.NextTask(r.Context(), agent)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, task)
	case errors.Is(err, services.ErrNoWork), errors.Is(err, services.ErrAgentNotEligible):
		w.WriteHeader(http.StatusNoContent)
	default:
		debug.Error("Assignment failed for agent %s: %v", agent.ID, err)
		sendAPIError(w, http.StatusInternalServerError, "internal error")
	}
}

// GetTask handles GET /tasks/{id}.
func (h *TaskHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	agent, ok := requestAgent(w, r)
	if !ok {
		return
	}
	id, err := taskID(r)
	if err != nil {
		sendAPIError(w, http.StatusUnprocessableEntity, "invalid task id")
		return
	}
	task, err := h.tasks.GetTask(r.Context(), agent, id)
	if err != nil {
		sendTaskError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// Accept handles POST /tasks/{id}/accept.
func (h *TaskHandler) Accept(w http.ResponseWriter, r *http.Request) {
	agent, ok := requestAgent(w, r)
	if !ok {
		return
	}
	id, err := taskID(r)
	if err != nil {
		sendAPIError(w, http.StatusUnprocessableEntity, "invalid task id")
		return
	}
	if err := h.tasks.Accept(r.Context(), agent, id); err != nil {
		sendTaskError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type statusRequest struct {
	Progress *float64 `json:"progress"`
}

// SubmitStatus handles POST /tasks/{id}/status: 204 continue, 202 applied
// but stale, 410 paused, 409 not running, 404 with reason, 422 malformed.
func (h *TaskHandler) SubmitStatus(w http.ResponseWriter, r *http.Request) {
	agent, ok := requestAgent(w, r)
	if !ok {
		return
	}
	id, err := taskID(r)
	if err != nil {
		sendAPIError(w, http.StatusUnprocessableEntity, "invalid task id")
		return
	}
	var req statusRequest
	if err := decodeJSON(r, &req); err != nil || req.Progress == nil {
		sendAPIError(w, http.StatusUnprocessableEntity, "malformed status report")
		return
	}
	if *req.Progress < 0 || *req.Progress > models.TaskCompletionPercent {
		sendAPIError(w, http.StatusUnprocessableEntity, "progress out of range")
		return
	}

	stale, err := h.tasks.SubmitStatus(r.Context(), agent, id, *req.Progress)
	if err != nil {
		sendTaskError(w, err)
		return
	}
	if stale {
		w.WriteHeader(http.StatusAccepted)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type crackRequest struct {
	HashValue string `json:"hash_value"`
	PlainText string `json:"plain_text"`
}

// SubmitCrack handles POST /tasks/{id}/crack. Idempotent: resubmitting a
// recorded hash is 200.
func (h *TaskHandler) SubmitCrack(w http.ResponseWriter, r *http.Request) {
	agent, ok := requestAgent(w, r)
	if !ok {
		return
	}
	id, err := taskID(r)
	if err != nil {
		sendAPIError(w, http.StatusUnprocessableEntity, "invalid task id")
		return
	}
	var req crackRequest
	if err := decodeJSON(r, &req); err != nil || req.HashValue == "" {
		sendAPIError(w, http.StatusUnprocessableEntity, "malformed crack submission")
		return
	}
	if err := h.tasks.SubmitCrack(r.Context(), agent, id, req.HashValue, req.PlainText); err != nil {
		sendTaskError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "recorded"})
}

// Exhaust handles POST /tasks/{id}/exhausted.
func (h *TaskHandler) Exhaust(w http.ResponseWriter, r *http.Request) {
	agent, ok := requestAgent(w, r)
	if !ok {
		return
	}
	id, err := taskID(r)
	if err != nil {
		sendAPIError(w, http.StatusUnprocessableEntity, "invalid task id")
		return
	}
	if err := h.tasks.Exhaust(r.Context(), agent, id); err != nil {
		sendTaskError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Abandon handles POST /tasks/{id}/abandon.
func (h *TaskHandler) Abandon(w http.ResponseWriter, r *http.Request) {
	agent, ok := requestAgent(w, r)
	if !ok {
		return
	}
	id, err := taskID(r)
	if err != nil {
		sendAPIError(w, http.StatusUnprocessableEntity, "invalid task id")
		return
	}
	if err := h.tasks.Abandon(r.Context(), agent, id); err != nil {
		sendTaskError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetZaps handles GET /tasks/{id}/get_zaps: a plaintext export of hashes
// already cracked on the task's hash list, one per line.
func (h *TaskHandler) GetZaps(w http.ResponseWriter, r *http.Request) {
	agent, ok := requestAgent(w, r)
	if !ok {
		return
	}
	id, err := taskID(r)
	if err != nil {
		sendAPIError(w, http.StatusUnprocessableEntity, "invalid task id")
		return
	}
	plaintexts, err := h.tasks.CrackedPlaintexts(r.Context(), agent, id)
	if err != nil {
		sendTaskError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if len(plaintexts) > 0 {
		fmt.Fprint(w, strings.Join(plaintexts, "\n")+"\n")
	}
}
