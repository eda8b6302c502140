// Package planner implements the server side of plan development: the round
// loop that drafts a document from a prompt, asks clarifying questions,
// folds the user's answers back in, and signals readiness for approval.
package planner

import (
	"context"
	"errors"

	"github.com/ashureev/planforge/internal/domain"
)

// DefaultMaxRounds bounds how many clarification rounds a session may run.
const DefaultMaxRounds = 5

var (
	// ErrNotStarted reports a response arriving before start_plan.
	ErrNotStarted = errors.New("plan session not started")
	// ErrAlreadyStarted reports a second start_plan on the same session.
	ErrAlreadyStarted = errors.New("plan session already started")
	// ErrCompleted reports a response arriving after ready_for_approval.
	ErrCompleted = errors.New("plan session already completed")
)

// Generator produces plan content. The shipping implementations are the
// deterministic ScriptedGenerator and the model-backed LLMGenerator; the
// Engine is indifferent to which one it drives.
type Generator interface {
	// Draft produces the initial document for a user prompt.
	Draft(ctx context.Context, prompt string) (title, content string, err error)

	// Clarify returns the clarifying questions for the given round
	// (1-based). Returning no questions ends the conversation.
	Clarify(ctx context.Context, prompt string, round int) ([]domain.Question, error)

	// Revise folds one round's combined answer into the document.
	Revise(ctx context.Context, doc domain.PlanDocument, answer string) (title, content string, err error)
}
