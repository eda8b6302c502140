package planapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ashureev/planforge/internal/auth"
)

func newFakeAPI(t *testing.T) (*httptest.Server, *Client) {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/api/plan/generate", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-token" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error": "invalid or missing token"}`))
			return
		}
		var req GenerateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(GenerateResponse{
			PlanID:  "plan-1",
			Title:   "Generated",
			Content: "# Plan for " + req.Prompt,
		})
	})
	mux.HandleFunc("/api/plan/approve", func(w http.ResponseWriter, r *http.Request) {
		var req ApproveRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Content == "" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error": "content is required"}`))
			return
		}
		_ = json.NewEncoder(w).Encode(ApproveResponse{
			Success:     true,
			Message:     "Plan approved and agent initialized",
			PlanID:      "plan-1",
			DocumentURL: "http://example.invalid/doc",
			AgentID:     "agent-1",
		})
	})
	mux.HandleFunc("/api/agent", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string][]AgentSummary{
			"agents": {{ID: "agent-1", PlanID: "plan-1", Name: "Generated", Status: "initialized"}},
		})
	})
	mux.HandleFunc("/api/agent/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/agent/agent-1" {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error": "agent not found"}`))
			return
		}
		_ = json.NewEncoder(w).Encode(AgentSummary{ID: "agent-1", PlanID: "plan-1", Name: "Generated", Status: "initialized"})
	})
	mux.HandleFunc("/api/plans", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string][]PlanSummary{
			"plans": {{ID: "plan-1", Title: "Generated", Status: "approved"}},
		})
	})

	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts, NewClient(ts.URL, auth.StaticTokenSource("test-token"))
}

func TestClientGenerate(t *testing.T) {
	_, client := newFakeAPI(t)

	got, err := client.Generate(context.Background(), "a travel planner")
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if got.PlanID != "plan-1" {
		t.Errorf("Expected plan id 'plan-1', got %q", got.PlanID)
	}
	if got.Content != "# Plan for a travel planner" {
		t.Errorf("Unexpected content: %q", got.Content)
	}
}

func TestClientApprove(t *testing.T) {
	_, client := newFakeAPI(t)

	got, err := client.Approve(context.Background(), ApproveRequest{Title: "Generated", Content: "# Plan", Version: 2})
	if err != nil {
		t.Fatalf("Approve failed: %v", err)
	}
	if !got.Success {
		t.Error("Expected success")
	}
	if got.AgentID != "agent-1" {
		t.Errorf("Expected agent id 'agent-1', got %q", got.AgentID)
	}
}

func TestClientListPlans(t *testing.T) {
	_, client := newFakeAPI(t)

	plans, err := client.ListPlans(context.Background())
	if err != nil {
		t.Fatalf("ListPlans failed: %v", err)
	}
	if len(plans) != 1 || plans[0].ID != "plan-1" {
		t.Errorf("Unexpected plans: %+v", plans)
	}
}

func TestClientListAgents(t *testing.T) {
	_, client := newFakeAPI(t)

	agents, err := client.ListAgents(context.Background())
	if err != nil {
		t.Fatalf("ListAgents failed: %v", err)
	}
	if len(agents) != 1 || agents[0].ID != "agent-1" {
		t.Errorf("Unexpected agents: %+v", agents)
	}
}

func TestClientGetAgent(t *testing.T) {
	_, client := newFakeAPI(t)

	agent, err := client.GetAgent(context.Background(), "agent-1")
	if err != nil {
		t.Fatalf("GetAgent failed: %v", err)
	}
	if agent.PlanID != "plan-1" {
		t.Errorf("Expected plan id 'plan-1', got %q", agent.PlanID)
	}

	if _, err := client.GetAgent(context.Background(), "missing"); err == nil {
		t.Error("Expected error for missing agent, got nil")
	}
}

func TestClientSurfacesAPIErrors(t *testing.T) {
	_, client := newFakeAPI(t)

	_, err := client.Approve(context.Background(), ApproveRequest{Title: "No content"})
	if err == nil {
		t.Fatal("Expected error for rejected approval, got nil")
	}
}

func TestClientRequiresCredential(t *testing.T) {
	ts, _ := newFakeAPI(t)
	client := NewClient(ts.URL, auth.StaticTokenSource(""))

	_, err := client.Generate(context.Background(), "anything")
	if err == nil {
		t.Fatal("Expected error without credential, got nil")
	}
}
