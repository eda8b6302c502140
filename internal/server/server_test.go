package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ashureev/planforge/internal/auth"
	"github.com/ashureev/planforge/internal/config"
	"github.com/ashureev/planforge/internal/domain"
	"github.com/ashureev/planforge/internal/planner"
	"github.com/ashureev/planforge/internal/plansession"
	"github.com/ashureev/planforge/internal/storage"
	"github.com/ashureev/planforge/internal/store"
)

type testEnv struct {
	server        *httptest.Server
	token         string
	otherToken    string
	userID        string
	transcriptDir string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "planforge.db"))
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })

	docs, err := storage.New(t.TempDir(), "doc-secret")
	if err != nil {
		t.Fatalf("storage.New failed: %v", err)
	}

	authn, err := auth.NewAuthenticator("test-secret")
	if err != nil {
		t.Fatalf("NewAuthenticator failed: %v", err)
	}
	token, err := authn.IssueToken("user-1")
	if err != nil {
		t.Fatalf("IssueToken failed: %v", err)
	}
	otherToken, err := authn.IssueToken("user-2")
	if err != nil {
		t.Fatalf("IssueToken failed: %v", err)
	}

	transcriptDir := t.TempDir()
	transcripts, err := NewTranscriptLogger(config.TranscriptLogConfig{
		Enabled:   true,
		Dir:       transcriptDir,
		QueueSize: 64,
	}, slog.Default())
	if err != nil {
		t.Fatalf("NewTranscriptLogger failed: %v", err)
	}
	t.Cleanup(func() { _ = transcripts.Close() })

	// The listener exists before Start, so the base URL is known in time to
	// mint signed document links against it.
	ts := httptest.NewUnstartedServer(nil)
	baseURL := "http://" + ts.Listener.Addr().String()

	gen := planner.ScriptedGenerator{}
	h := NewHandler(repo, docs, gen, baseURL, transcripts)
	wsh := NewWSHandler(gen, 3, transcripts, "*", true)
	ts.Config.Handler = NewRouter(h, wsh, authn, []string{"*"})
	ts.Start()
	t.Cleanup(ts.Close)

	return &testEnv{server: ts, token: token, otherToken: otherToken, userID: "user-1", transcriptDir: transcriptDir}
}

func (env *testEnv) do(t *testing.T, method, path string, body interface{}) *http.Response {
	t.Helper()
	return env.doAs(t, env.token, method, path, body)
}

func (env *testEnv) doAs(t *testing.T, token, method, path string, body interface{}) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal request body: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, env.server.URL+path, reader)
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	defer func() { _ = resp.Body.Close() }()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	resp, err := http.Get(env.server.URL + "/healthz")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}
	var body map[string]string
	decodeBody(t, resp, &body)
	if body["status"] != "ok" {
		t.Errorf("Expected status 'ok', got %q", body["status"])
	}
}

func TestPlanEndpointsRequireToken(t *testing.T) {
	env := newTestEnv(t)

	resp, err := http.Get(env.server.URL + "/api/plans")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("Expected status 401, got %d", resp.StatusCode)
	}
}

func TestGeneratePlan(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodPost, "/api/plan/generate", GenerateRequest{Prompt: "Build a research assistant"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", resp.StatusCode)
	}
	var got GenerateResponse
	decodeBody(t, resp, &got)

	if got.PlanID == "" {
		t.Error("Expected non-empty plan id")
	}
	if got.Title == "" {
		t.Error("Expected non-empty title")
	}
	if !strings.Contains(got.Content, "Build a research assistant") {
		t.Errorf("Expected content to mention the prompt, got %q", got.Content)
	}

	// The signed URL must be fetchable without a bearer token.
	docResp, err := http.Get(got.DocumentURL)
	if err != nil {
		t.Fatalf("document request failed: %v", err)
	}
	defer func() { _ = docResp.Body.Close() }()
	if docResp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200 for signed document, got %d", docResp.StatusCode)
	}
	doc, err := io.ReadAll(docResp.Body)
	if err != nil {
		t.Fatalf("failed to read document: %v", err)
	}
	if string(doc) != got.Content {
		t.Error("Expected served document to match generated content")
	}
}

func TestGeneratePlanRejectsEmptyPrompt(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodPost, "/api/plan/generate", GenerateRequest{Prompt: "  "})
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", resp.StatusCode)
	}
}

func TestApproveAndListPlans(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodPost, "/api/plan/approve", ApproveRequest{
		Title:   "Research Assistant",
		Content: "# Research Assistant\n\nFinal plan.",
		Version: 4,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", resp.StatusCode)
	}
	var approved ApproveResponse
	decodeBody(t, resp, &approved)

	if !approved.Success {
		t.Error("Expected success")
	}
	if approved.AgentID == "" {
		t.Error("Expected non-empty agent id")
	}
	if approved.PlanID == "" {
		t.Error("Expected non-empty plan id")
	}

	listResp := env.do(t, http.MethodGet, "/api/plans", nil)
	if listResp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", listResp.StatusCode)
	}
	var list struct {
		Plans []PlanSummary `json:"plans"`
	}
	decodeBody(t, listResp, &list)
	if len(list.Plans) != 1 {
		t.Fatalf("Expected 1 plan, got %d", len(list.Plans))
	}
	if list.Plans[0].ID != approved.PlanID {
		t.Errorf("Expected plan id %q, got %q", approved.PlanID, list.Plans[0].ID)
	}
	if list.Plans[0].Status != domain.PlanStatusApproved {
		t.Errorf("Expected status %q, got %q", domain.PlanStatusApproved, list.Plans[0].Status)
	}

	docResp, err := http.Get(list.Plans[0].DocumentURL)
	if err != nil {
		t.Fatalf("document request failed: %v", err)
	}
	defer func() { _ = docResp.Body.Close() }()
	if docResp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200 for listed document, got %d", docResp.StatusCode)
	}
}

func TestAgentEndpoints(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodPost, "/api/plan/approve", ApproveRequest{
		Title:   "Research Assistant",
		Content: "# Research Assistant\n\nFinal plan.",
	})
	var approved ApproveResponse
	decodeBody(t, resp, &approved)
	if approved.AgentID == "" {
		t.Fatal("Expected non-empty agent id")
	}

	listResp := env.do(t, http.MethodGet, "/api/agent", nil)
	if listResp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", listResp.StatusCode)
	}
	var list struct {
		Agents []AgentSummary `json:"agents"`
	}
	decodeBody(t, listResp, &list)
	if len(list.Agents) != 1 {
		t.Fatalf("Expected 1 agent, got %d", len(list.Agents))
	}
	if list.Agents[0].ID != approved.AgentID {
		t.Errorf("Expected agent id %q, got %q", approved.AgentID, list.Agents[0].ID)
	}
	if list.Agents[0].PlanID != approved.PlanID {
		t.Errorf("Expected plan id %q, got %q", approved.PlanID, list.Agents[0].PlanID)
	}
	if list.Agents[0].Status != domain.AgentStatusInitialized {
		t.Errorf("Expected status %q, got %q", domain.AgentStatusInitialized, list.Agents[0].Status)
	}

	getResp := env.do(t, http.MethodGet, "/api/agent/"+approved.AgentID, nil)
	if getResp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", getResp.StatusCode)
	}
	var got AgentSummary
	decodeBody(t, getResp, &got)
	if got.ID != approved.AgentID || got.Name != "Research Assistant" {
		t.Errorf("Unexpected agent: %+v", got)
	}

	missingResp := env.do(t, http.MethodGet, "/api/agent/no-such-agent", nil)
	defer func() { _ = missingResp.Body.Close() }()
	if missingResp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected status 404 for missing agent, got %d", missingResp.StatusCode)
	}

	// Another user's token must not see the agent.
	foreignResp := env.doAs(t, env.otherToken, http.MethodGet, "/api/agent/"+approved.AgentID, nil)
	defer func() { _ = foreignResp.Body.Close() }()
	if foreignResp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected status 404 for another user's agent, got %d", foreignResp.StatusCode)
	}

	foreignList := env.doAs(t, env.otherToken, http.MethodGet, "/api/agent", nil)
	var foreign struct {
		Agents []AgentSummary `json:"agents"`
	}
	decodeBody(t, foreignList, &foreign)
	if len(foreign.Agents) != 0 {
		t.Errorf("Expected no agents for another user, got %d", len(foreign.Agents))
	}
}

func TestApproveRejectsEmptyContent(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodPost, "/api/plan/approve", ApproveRequest{Title: "Empty"})
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", resp.StatusCode)
	}
}

func TestDocumentRejectsTamperedSignature(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodPost, "/api/plan/generate", GenerateRequest{Prompt: "Build a travel planner"})
	var got GenerateResponse
	decodeBody(t, resp, &got)

	tampered := strings.Replace(got.DocumentURL, "sig=", "sig=ff", 1)
	docResp, err := http.Get(tampered)
	if err != nil {
		t.Fatalf("document request failed: %v", err)
	}
	defer func() { _ = docResp.Body.Close() }()
	if docResp.StatusCode != http.StatusForbidden {
		t.Errorf("Expected status 403 for tampered signature, got %d", docResp.StatusCode)
	}
}

// TestPlanSessionEndToEnd runs a complete clarification loop over a real
// WebSocket connection using the client-side session state machine.
func TestPlanSessionEndToEnd(t *testing.T) {
	env := newTestEnv(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	wsURL := "ws://" + strings.TrimPrefix(env.server.URL, "http://") + "/api/plan/ws/generate"
	session := plansession.New(wsURL, auth.StaticTokenSource(env.token))
	defer session.Reset()

	if err := session.Start(ctx, "Build a research assistant"); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	for i := 0; i < 10; i++ {
		snap := waitForSession(t, session, func(s plansession.Snapshot) bool {
			return s.ApprovalReady || len(s.Pending) > 0 || s.Err != ""
		})
		if snap.Err != "" {
			t.Fatalf("session error: %s", snap.Err)
		}
		if snap.ApprovalReady {
			break
		}
		if err := session.Answer(ctx, "All of them, please"); err != nil {
			t.Fatalf("Answer failed: %v", err)
		}
	}

	final := session.Snapshot()
	if !final.ApprovalReady {
		t.Fatal("Expected session to reach approval")
	}
	if final.State != plansession.StateAwaitingApproval {
		t.Errorf("Expected state awaiting_approval, got %s", final.State)
	}
	if final.Document == nil {
		t.Fatal("Expected a document")
	}
	// Three scripted rounds on top of the initial draft.
	if final.Document.Version != 4 {
		t.Errorf("Expected document version 4, got %d", final.Document.Version)
	}
	if final.SessionID == "" {
		t.Error("Expected server-assigned session id")
	}
	if len(final.Messages) == 0 || final.Messages[0].Kind != domain.MessageUserPrompt {
		t.Error("Expected history to start with the user prompt")
	}

	// The session transcript is written asynchronously under the user's dir.
	transcript := filepath.Join(env.transcriptDir, env.userID, final.SessionID+".ndjson")
	deadline := time.Now().Add(2 * time.Second)
	for {
		data, err := os.ReadFile(transcript)
		if err == nil && strings.Contains(string(data), "start_plan") {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for transcript %s", transcript)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestWSRejectsMissingToken(t *testing.T) {
	env := newTestEnv(t)

	resp, err := http.Get(env.server.URL + "/api/plan/ws/generate")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("Expected status 401, got %d", resp.StatusCode)
	}
}

func waitForSession(t *testing.T, s *plansession.Session, cond func(plansession.Snapshot) bool) plansession.Snapshot {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		snap := s.Snapshot()
		if cond(snap) {
			return snap
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for session state, last snapshot: %+v", snap)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
