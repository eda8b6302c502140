// Package server provides HTTP and WebSocket handlers for the planforge API.
package server

import (
	"encoding/json"
	"net/http"

	"github.com/ashureev/planforge/internal/planner"
	"github.com/ashureev/planforge/internal/storage"
	"github.com/ashureev/planforge/internal/store"
	"github.com/go-chi/chi/v5"
)

// Handler provides the plan REST endpoints.
type Handler struct {
	repo        store.Repository
	docs        *storage.Store
	gen         planner.Generator
	baseURL     string
	transcripts *TranscriptLogger
}

// NewHandler creates a new Handler with common dependencies.
func NewHandler(repo store.Repository, docs *storage.Store, gen planner.Generator, baseURL string, transcripts *TranscriptLogger) *Handler {
	return &Handler{
		repo:        repo,
		docs:        docs,
		gen:         gen,
		baseURL:     baseURL,
		transcripts: transcripts,
	}
}

// RegisterRoutes mounts the authenticated plan endpoints.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/api/plan/generate", h.GeneratePlan)
	r.Post("/api/plan/approve", h.ApprovePlan)
	r.Get("/api/plans", h.ListPlans)
	r.Get("/api/agent", h.ListAgents)
	r.Get("/api/agent/{agentID}", h.GetAgent)
}

// RegisterPublicRoutes mounts the endpoints that do not require a bearer
// token. Document downloads are protected by the signed query instead.
func (h *Handler) RegisterPublicRoutes(r chi.Router) {
	r.Get("/healthz", h.Health)
	r.Get("/api/plan/documents/{userID}/{file}", h.ServeDocument)
}

// Health reports service and database health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.repo.Ping(r.Context()); err != nil {
		JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "error": "database unreachable"})
		return
	}
	JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}
