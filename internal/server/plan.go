package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/ashureev/planforge/internal/auth"
	"github.com/ashureev/planforge/internal/domain"
	"github.com/ashureev/planforge/internal/storage"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// GenerateRequest is the body of POST /api/plan/generate.
type GenerateRequest struct {
	Prompt string `json:"prompt"`
}

// GenerateResponse is the one-shot generation result.
type GenerateResponse struct {
	PlanID      string `json:"plan_id"`
	Title       string `json:"title"`
	Content     string `json:"content"`
	DocumentURL string `json:"document_url"`
}

// ApproveRequest is the body of POST /api/plan/approve.
type ApproveRequest struct {
	PlanID  string `json:"plan_id,omitempty"`
	Title   string `json:"title"`
	Content string `json:"content"`
	Version int    `json:"version,omitempty"`
}

// ApproveResponse reports the stored plan and its agent.
type ApproveResponse struct {
	Success     bool   `json:"success"`
	Message     string `json:"message"`
	PlanID      string `json:"plan_id"`
	DocumentURL string `json:"document_url"`
	AgentID     string `json:"agent_id"`
}

// PlanSummary is one entry of GET /api/plans.
type PlanSummary struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Status      string `json:"status"`
	DocumentURL string `json:"document_url"`
	CreatedAt   string `json:"created_at"`
}

// GeneratePlan drafts a plan in a single shot, without the clarification
// loop. The document is persisted so the returned URL is immediately
// fetchable.
func (h *Handler) GeneratePlan(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())

	var req GenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		Error(w, http.StatusBadRequest, "prompt is required")
		return
	}

	title, content, err := h.gen.Draft(r.Context(), req.Prompt)
	if err != nil {
		slog.Error("One-shot plan generation failed", "error", err, "user_id", userID)
		Error(w, http.StatusBadGateway, "plan generation failed")
		return
	}

	planID := uuid.NewString()
	path, err := h.docs.Save(userID, planID, content)
	if err != nil {
		slog.Error("Failed to save plan document", "error", err, "user_id", userID)
		Error(w, http.StatusInternalServerError, "failed to store document")
		return
	}
	docURL, err := h.docs.SignedURL(h.baseURL, path, storage.DefaultURLTTL)
	if err != nil {
		Error(w, http.StatusInternalServerError, "failed to sign document url")
		return
	}

	JSON(w, http.StatusOK, GenerateResponse{
		PlanID:      planID,
		Title:       title,
		Content:     content,
		DocumentURL: docURL,
	})
}

// ApprovePlan persists an approved plan document and initializes its agent.
func (h *Handler) ApprovePlan(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())

	var req ApproveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		Error(w, http.StatusBadRequest, "content is required")
		return
	}
	if req.Title == "" {
		req.Title = "Untitled Plan"
	}

	planID := req.PlanID
	if planID == "" {
		planID = uuid.NewString()
	}

	path, err := h.docs.Save(userID, planID, req.Content)
	if err != nil {
		slog.Error("Failed to save plan document", "error", err, "user_id", userID, "plan_id", planID)
		Error(w, http.StatusInternalServerError, "failed to store document")
		return
	}
	docURL, err := h.docs.SignedURL(h.baseURL, path, storage.DefaultURLTTL)
	if err != nil {
		Error(w, http.StatusInternalServerError, "failed to sign document url")
		return
	}

	plan := &domain.Plan{
		ID:           planID,
		UserID:       userID,
		Title:        req.Title,
		DocumentURL:  docURL,
		DocumentPath: path,
		Status:       domain.PlanStatusApproved,
	}
	agent := &domain.Agent{
		ID:     uuid.NewString(),
		UserID: userID,
		PlanID: planID,
		Name:   req.Title,
		Status: domain.AgentStatusInitialized,
	}
	if err := h.repo.ApprovePlan(r.Context(), plan, agent); err != nil {
		slog.Error("Failed to approve plan", "error", err, "user_id", userID, "plan_id", planID)
		Error(w, http.StatusInternalServerError, "failed to approve plan")
		return
	}

	slog.Info("Plan approved", "user_id", userID, "plan_id", planID, "agent_id", agent.ID)
	JSON(w, http.StatusOK, ApproveResponse{
		Success:     true,
		Message:     "Plan approved and agent initialized",
		PlanID:      planID,
		DocumentURL: docURL,
		AgentID:     agent.ID,
	})
}

// ListPlans returns the caller's plans, newest first, with fresh signed
// document URLs.
func (h *Handler) ListPlans(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())

	plans, err := h.repo.ListPlans(r.Context(), userID)
	if err != nil {
		slog.Error("Failed to list plans", "error", err, "user_id", userID)
		Error(w, http.StatusInternalServerError, "failed to list plans")
		return
	}

	summaries := make([]PlanSummary, 0, len(plans))
	for _, p := range plans {
		docURL := p.DocumentURL
		// Stored URLs carry stale signatures; re-sign from the path.
		if fresh, err := h.docs.SignedURL(h.baseURL, p.DocumentPath, storage.DefaultURLTTL); err == nil {
			docURL = fresh
		}
		summaries = append(summaries, PlanSummary{
			ID:          p.ID,
			Title:       p.Title,
			Status:      p.Status,
			DocumentURL: docURL,
			CreatedAt:   p.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
		})
	}

	JSON(w, http.StatusOK, map[string]interface{}{"plans": summaries})
}

// ServeDocument serves a stored plan document. Access is granted by the
// signed expiry query rather than a bearer token, so approved documents can
// be opened from a plain link.
func (h *Handler) ServeDocument(w http.ResponseWriter, r *http.Request) {
	path := chi.URLParam(r, "userID") + "/" + chi.URLParam(r, "file")
	exp := r.URL.Query().Get("exp")
	sig := r.URL.Query().Get("sig")

	if err := h.docs.Verify(path, exp, sig); err != nil {
		switch {
		case errors.Is(err, storage.ErrExpired):
			Error(w, http.StatusForbidden, "link expired")
		default:
			Error(w, http.StatusForbidden, "invalid signature")
		}
		return
	}

	content, err := h.docs.Read(path)
	if err != nil {
		Error(w, http.StatusNotFound, "document not found")
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if _, err := w.Write([]byte(content)); err != nil {
		slog.Debug("Failed to write document response", "error", err)
	}
}
