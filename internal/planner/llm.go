package planner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/ashureev/planforge/internal/domain"
)

const (
	defaultModelURL  = "https://api.anthropic.com/v1/messages"
	defaultModelName = "claude-sonnet-4-20250514"
	modelMaxTokens   = 4096
)

const draftSystemPrompt = `You are an AI agent planning assistant. Given a user's request,
generate a comprehensive plan document for building an AI agent.

The plan should include:
- Agent name and description
- Core capabilities and features
- Input/output specifications
- Data sources needed (if any)
- Success criteria
- Edge cases to handle
- Implementation considerations

Format your response as:
<title>Agent Title Here</title>
<plan>
# Agent Name

## Overview
...
</plan>`

const clarifySystemPrompt = `You are an AI agent planning assistant. Given the user's request and
the current clarification round, decide whether more information is needed.
If the request is already clear, respond with an empty JSON array: []
Otherwise respond with a JSON array of at most three questions:
[{"id":"q1","text":"..."}]
Respond with JSON only.`

const reviseSystemPrompt = `You are an AI agent planning assistant. You are given the current plan
document and the user's latest answer to your clarifying questions. Produce
the full revised plan document.

Format your response as:
<title>Agent Title Here</title>
<plan>
...
</plan>`

// LLMGenerator backs the plan development loop with a hosted model speaking
// the Anthropic messages API.
type LLMGenerator struct {
	apiKey string
	model  string
	url    string
	httpc  *http.Client
}

// NewLLMGenerator creates a model-backed generator. model and url fall back
// to defaults when empty.
func NewLLMGenerator(apiKey, model, url string) (*LLMGenerator, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("model api key is not set")
	}
	if model == "" {
		model = defaultModelName
	}
	if url == "" {
		url = defaultModelURL
	}
	return &LLMGenerator{
		apiKey: apiKey,
		model:  model,
		url:    url,
		httpc:  &http.Client{Timeout: 120 * time.Second},
	}, nil
}

// Draft generates the initial plan document.
func (g *LLMGenerator) Draft(ctx context.Context, prompt string) (string, string, error) {
	text, err := g.complete(ctx, draftSystemPrompt, prompt)
	if err != nil {
		return "", "", err
	}
	title, content := ParseTagged(text)
	return title, content, nil
}

// Clarify asks the model for this round's questions.
func (g *LLMGenerator) Clarify(ctx context.Context, prompt string, round int) ([]domain.Question, error) {
	user := fmt.Sprintf("Request: %s\n\nClarification round: %d", prompt, round)
	text, err := g.complete(ctx, clarifySystemPrompt, user)
	if err != nil {
		return nil, err
	}

	var questions []domain.Question
	if err := json.Unmarshal([]byte(stripCodeFence(text)), &questions); err != nil {
		// A model that stops emitting valid JSON has nothing more to ask.
		return nil, nil
	}
	return questions, nil
}

// Revise folds the user's answer into the document.
func (g *LLMGenerator) Revise(ctx context.Context, doc domain.PlanDocument, answer string) (string, string, error) {
	user := fmt.Sprintf("Current plan:\n%s\n\nUser's answer:\n%s", doc.Content, answer)
	text, err := g.complete(ctx, reviseSystemPrompt, user)
	if err != nil {
		return "", "", err
	}
	title, content := ParseTagged(text)
	if title == "Untitled Plan" && doc.Title != "" {
		title = doc.Title
	}
	return title, content, nil
}

type modelRequest struct {
	Model     string         `json:"model"`
	MaxTokens int            `json:"max_tokens"`
	System    string         `json:"system"`
	Messages  []modelMessage `json:"messages"`
}

type modelMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type modelResponse struct {
	Content []struct {
		Text string `json:"text"`
	} `json:"content"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (g *LLMGenerator) complete(ctx context.Context, system, user string) (string, error) {
	body, err := json.Marshal(modelRequest{
		Model:     g.model,
		MaxTokens: modelMaxTokens,
		System:    system,
		Messages:  []modelMessage{{Role: "user", Content: user}},
	})
	if err != nil {
		return "", fmt.Errorf("encode model request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build model request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", g.apiKey)
	req.Header.Set("anthropic-version", "2023-06-01")

	resp, err := g.httpc.Do(req)
	if err != nil {
		return "", fmt.Errorf("call model: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", fmt.Errorf("read model response: %w", err)
	}

	var mr modelResponse
	if err := json.Unmarshal(data, &mr); err != nil {
		return "", fmt.Errorf("decode model response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		msg := resp.Status
		if mr.Error != nil {
			msg = mr.Error.Message
		}
		return "", fmt.Errorf("model request failed: %s", msg)
	}
	if len(mr.Content) == 0 {
		return "", fmt.Errorf("model returned empty response")
	}
	return mr.Content[0].Text, nil
}

var (
	titlePattern = regexp.MustCompile(`(?s)<title>(.*?)</title>`)
	planPattern  = regexp.MustCompile(`(?s)<plan>(.*?)</plan>`)
)

// ParseTagged extracts the <title> and <plan> sections from a model
// response. Missing tags fall back to "Untitled Plan" and the raw response.
func ParseTagged(response string) (title, content string) {
	title = "Untitled Plan"
	if m := titlePattern.FindStringSubmatch(response); m != nil {
		if t := strings.TrimSpace(m[1]); t != "" {
			title = t
		}
	}
	content = response
	if m := planPattern.FindStringSubmatch(response); m != nil {
		content = strings.TrimSpace(m[1])
	}
	return title, content
}

func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	return strings.TrimSpace(s)
}
