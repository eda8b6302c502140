package planner

import (
	"context"
	"fmt"
	"strings"

	"github.com/ashureev/planforge/internal/domain"
)

// ScriptedGenerator is the deterministic Generator used by the development
// server and tests. It produces a skeleton plan from the prompt and asks a
// fixed bank of clarifying questions.
type ScriptedGenerator struct{}

var scriptedRounds = [][]domain.Question{
	{
		{ID: "q1", Text: "What data sources should the agent rely on?"},
		{ID: "q2", Text: "Who are the primary users of this agent?"},
	},
	{
		{ID: "q3", Text: "How should results be delivered (API, chat, scheduled report)?"},
	},
	{
		{ID: "q4", Text: "Are there integrations or external services the agent must support?"},
	},
}

// Draft produces the skeleton document.
func (ScriptedGenerator) Draft(_ context.Context, prompt string) (string, string, error) {
	title := TitleFromPrompt(prompt)
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", title)
	fmt.Fprintf(&b, "## Overview\n\n%s\n\n", strings.TrimSpace(prompt))
	b.WriteString("## Core Capabilities\n\nTo be refined through clarification.\n\n")
	b.WriteString("## Input/Output Specifications\n\nTo be refined through clarification.\n\n")
	b.WriteString("## Data Sources\n\nTo be refined through clarification.\n\n")
	b.WriteString("## Success Criteria\n\nTo be refined through clarification.\n\n")
	b.WriteString("## Edge Cases\n\nTo be refined through clarification.\n\n")
	b.WriteString("## Implementation Notes\n\nTo be refined through clarification.\n")
	return title, b.String(), nil
}

// Clarify returns the fixed question bank for the round.
func (ScriptedGenerator) Clarify(_ context.Context, _ string, round int) ([]domain.Question, error) {
	if round < 1 || round > len(scriptedRounds) {
		return nil, nil
	}
	qs := make([]domain.Question, len(scriptedRounds[round-1]))
	copy(qs, scriptedRounds[round-1])
	return qs, nil
}

// Revise appends the answer under a Clarifications section.
func (ScriptedGenerator) Revise(_ context.Context, doc domain.PlanDocument, answer string) (string, string, error) {
	content := doc.Content
	if !strings.Contains(content, "\n## Clarifications\n") {
		content = strings.TrimRight(content, "\n") + "\n\n## Clarifications\n"
	}
	content += fmt.Sprintf("\n- %s\n", strings.TrimSpace(answer))
	return doc.Title, content, nil
}

// TitleFromPrompt derives a short title from the first words of the prompt.
func TitleFromPrompt(prompt string) string {
	words := strings.Fields(prompt)
	if len(words) == 0 {
		return "Untitled Plan"
	}
	if len(words) > 8 {
		words = words[:8]
	}
	return strings.Join(words, " ")
}
