// Package planapi provides the HTTP client for the plan REST endpoints:
// one-shot generation, approval, and plan listing. The streaming session
// protocol lives in plansession.
package planapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ashureev/planforge/internal/auth"
)

// GenerateRequest asks for a one-shot plan draft.
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

// ApproveRequest submits the finished document for approval.
type ApproveRequest struct {
	PlanID  string `json:"plan_id,omitempty"`
	Title   string `json:"title"`
	Content string `json:"content"`
	Version int    `json:"version,omitempty"`
}

// ApproveResponse reports the stored plan and its initialized agent.
type ApproveResponse struct {
	Success     bool   `json:"success"`
	Message     string `json:"message"`
	PlanID      string `json:"plan_id"`
	DocumentURL string `json:"document_url"`
	AgentID     string `json:"agent_id"`
}

// AgentSummary is one agent record created by an approval.
type AgentSummary struct {
	ID        string `json:"id"`
	PlanID    string `json:"plan_id"`
	Name      string `json:"name"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at"`
}

// PlanSummary is one entry of the plan listing.
type PlanSummary struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Status      string `json:"status"`
	DocumentURL string `json:"document_url"`
	CreatedAt   string `json:"created_at"`
}

// Client calls the plan REST API.
type Client struct {
	baseURL string
	tokens  auth.TokenSource
	httpc   *http.Client
}

// NewClient creates a client for the service at baseURL.
func NewClient(baseURL string, tokens auth.TokenSource) *Client {
	return &Client{
		baseURL: baseURL,
		tokens:  tokens,
		httpc:   &http.Client{Timeout: 60 * time.Second},
	}
}

// Generate drafts a plan in a single shot, without the clarification loop.
func (c *Client) Generate(ctx context.Context, prompt string) (*GenerateResponse, error) {
	var out GenerateResponse
	if err := c.post(ctx, "/api/plan/generate", GenerateRequest{Prompt: prompt}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Approve submits the finished document and returns the stored plan and
// agent identifiers.
func (c *Client) Approve(ctx context.Context, req ApproveRequest) (*ApproveResponse, error) {
	var out ApproveResponse
	if err := c.post(ctx, "/api/plan/approve", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListPlans returns the caller's approved plans, newest first.
func (c *Client) ListPlans(ctx context.Context) ([]PlanSummary, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/plans", nil)
	if err != nil {
		return nil, err
	}
	var out struct {
		Plans []PlanSummary `json:"plans"`
	}
	if err := c.doJSON(req, &out); err != nil {
		return nil, err
	}
	return out.Plans, nil
}

// ListAgents returns the caller's agents, newest first.
func (c *Client) ListAgents(ctx context.Context) ([]AgentSummary, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/agent", nil)
	if err != nil {
		return nil, err
	}
	var out struct {
		Agents []AgentSummary `json:"agents"`
	}
	if err := c.doJSON(req, &out); err != nil {
		return nil, err
	}
	return out.Agents, nil
}

// GetAgent returns one of the caller's agents by id.
func (c *Client) GetAgent(ctx context.Context, agentID string) (*AgentSummary, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/agent/"+agentID, nil)
	if err != nil {
		return nil, err
	}
	var out AgentSummary
	if err := c.doJSON(req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) post(ctx context.Context, path string, body, out interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.doJSON(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire token: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return req, nil
}

func (c *Client) doJSON(req *http.Request, out interface{}) error {
	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Error string `json:"error"`
		}
		if decErr := json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&apiErr); decErr == nil && apiErr.Error != "" {
			return fmt.Errorf("%s %s: %s (status %d)", req.Method, req.URL.Path, apiErr.Error, resp.StatusCode)
		}
		return fmt.Errorf("%s %s: unexpected status %d", req.Method, req.URL.Path, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
