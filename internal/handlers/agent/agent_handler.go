package agent

import (
	"context"
	"net/http"

	"github.com/hivecrack/hivecrack/internal/models"
	"github.com/hivecrack/hivecrack/pkg/debug"
)

// AgentDirectory is the slice of the agent service the handler needs.
type AgentDirectory interface {
	Register(ctx context.Context, name string, devices models.DeviceList, projectIDs []int64) (*models.Agent, string, error)
	Heartbeat(ctx context.Context, agent *models.Agent) error
	SubmitBenchmarks(ctx context.Context, agent *models.Agent, benchmarks []models.AgentBenchmark) error
	ReportError(ctx context.Context, agent *models.Agent, message, severity string, taskID *int64) error
	Shutdown(ctx context.Context, agent *models.Agent) error
}

// AgentHandler serves agent registration and lifecycle endpoints.
type AgentHandler struct {
	agents AgentDirectory
}

// NewAgentHandler creates a new instance of AgentHandler.
func NewAgentHandler(agents AgentDirectory) *AgentHandler {
	return &AgentHandler{agents: agents}
}

type registerRequest struct {
	Name       string            `json:"name"`
	Devices    models.DeviceList `json:"devices"`
	ProjectIDs []int64           `json:"project_ids"`
}

type registerResponse struct {
	AgentID string `json:"agent_id"`
	Token   string `json:"token"`
}

// Register handles POST /register. The only unauthenticated endpoint; the
// returned token is shown exactly once.
func (h *AgentHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil || req.Name == "" {
		sendAPIError(w, http.StatusUnprocessableEntity, "malformed registration")
		return
	}
	agent, token, err := h.agents.Register(r.Context(), req.Name, req.Devices, req.ProjectIDs)
	if err != nil {
		debug.Error("Agent registration failed: %v", err)
		sendAPIError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusCreated, registerResponse{
		AgentID: agent.ID.String(),
		Token:   token,
	})
}

// Authenticate handles GET /authenticate: a token check that doubles as a
// connectivity probe. The middleware has already resolved the agent.
func (h *AgentHandler) Authenticate(w http.ResponseWriter, r *http.Request) {
	agent, ok := requestAgent(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"authenticated": true,
		"agent_id":      agent.ID.String(),
	})
}

// Heartbeat handles POST /heartbeat.
func (h *AgentHandler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	agent, ok := requestAgent(w, r)
	if !ok {
		return
	}
	if err := h.agents.Heartbeat(r.Context(), agent); err != nil {
		debug.Error("Heartbeat failed for agent %s: %v", agent.ID, err)
		sendAPIError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"state": agent.State})
}

type benchmarkRequest struct {
	Benchmarks []models.AgentBenchmark `json:"benchmarks"`
}

// SubmitBenchmarks handles POST /benchmarks.
func (h *AgentHandler) SubmitBenchmarks(w http.ResponseWriter, r *http.Request) {
	agent, ok := requestAgent(w, r)
	if !ok {
		return
	}
	var req benchmarkRequest
	if err := decodeJSON(r, &req); err != nil || len(req.Benchmarks) == 0 {
		sendAPIError(w, http.StatusUnprocessableEntity, "malformed benchmark submission")
		return
	}
	if err := h.agents.SubmitBenchmarks(r.Context(), agent, req.Benchmarks); err != nil {
		debug.Error("Benchmark submission failed for agent %s: %v", agent.ID, err)
		sendAPIError(w, http.StatusInternalServerError, "internal error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type errorRequest struct {
	Message  string `json:"message"`
	Severity string `json:"severity"`
	TaskID   *int64 `json:"task_id,omitempty"`
}

// ReportError handles POST /error.
func (h *AgentHandler) ReportError(w http.ResponseWriter, r *http.Request) {
	agent, ok := requestAgent(w, r)
	if !ok {
		return
	}
	var req errorRequest
	if err := decodeJSON(r, &req); err != nil || req.Message == "" {
		sendAPIError(w, http.StatusUnprocessableEntity, "malformed error report")
		return
	}
	if req.Severity == "" {
		req.Severity = "warning"
	}
	if err := h.agents.ReportError(r.Context(), agent, req.Message, req.Severity, req.TaskID); err != nil {
		debug.Error("Error report failed for agent %s: %v", agent.ID, err)
		sendAPIError(w, http.StatusInternalServerError, "internal error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Shutdown handles POST /shutdown.
func (h *AgentHandler) Shutdown(w http.ResponseWriter, r *http.Request) {
	agent, ok := requestAgent(w, r)
	if !ok {
		return
	}
	if err := h.agents.Shutdown(r.Context(), agent); err != nil {
		debug.Error("Shutdown failed for agent %s: %v", agent.ID, err)
		sendAPIError(w, http.StatusInternalServerError, "internal error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
