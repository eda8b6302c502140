package server

import (
	"log/slog"
	"net/http"

	"github.com/ashureev/planforge/internal/auth"
	"github.com/go-chi/chi/v5"
)

// AgentSummary is the API view of an agent record.
type AgentSummary struct {
	ID        string `json:"id"`
	PlanID    string `json:"plan_id"`
	Name      string `json:"name"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at"`
}

// ListAgents returns the caller's agents, newest first.
func (h *Handler) ListAgents(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())

	agents, err := h.repo.ListAgents(r.Context(), userID)
	if err != nil {
		slog.Error("Failed to list agents", "error", err, "user_id", userID)
		Error(w, http.StatusInternalServerError, "failed to list agents")
		return
	}

	summaries := make([]AgentSummary, 0, len(agents))
	for _, a := range agents {
		summaries = append(summaries, AgentSummary{
			ID:        a.ID,
			PlanID:    a.PlanID,
			Name:      a.Name,
			Status:    a.Status,
			CreatedAt: a.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
		})
	}

	JSON(w, http.StatusOK, map[string]interface{}{"agents": summaries})
}

// GetAgent returns one agent by id. Another user's agent reads as absent so
// ids cannot be probed across accounts.
func (h *Handler) GetAgent(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())
	agentID := chi.URLParam(r, "agentID")

	agent, err := h.repo.GetAgent(r.Context(), agentID)
	if err != nil {
		slog.Error("Failed to get agent", "error", err, "user_id", userID, "agent_id", agentID)
		Error(w, http.StatusInternalServerError, "failed to get agent")
		return
	}
	if agent == nil || agent.UserID != userID {
		Error(w, http.StatusNotFound, "agent not found")
		return
	}

	JSON(w, http.StatusOK, AgentSummary{
		ID:        agent.ID,
		PlanID:    agent.PlanID,
		Name:      agent.Name,
		Status:    agent.Status,
		CreatedAt: agent.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
	})
}
