package planner

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ashureev/planforge/internal/domain"
	"github.com/ashureev/planforge/internal/planwire"
)

// Emit delivers one event to the session's client. The transport layer owns
// session-id and timestamp stamping.
type Emit func(ev planwire.Event) error

// Engine runs the development loop for one planning session. All methods
// are called from the session's single command-handling goroutine; the
// mutex only guards against misuse.
type Engine struct {
	gen       Generator
	maxRounds int
	logger    *slog.Logger

	mu      sync.Mutex
	started bool
	done    bool
	prompt  string
	round   int
	doc     domain.PlanDocument
}

// NewEngine creates an engine for one session. maxRounds <= 0 selects
// DefaultMaxRounds.
func NewEngine(gen Generator, maxRounds int, logger *slog.Logger) *Engine {
	if maxRounds <= 0 {
		maxRounds = DefaultMaxRounds
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{gen: gen, maxRounds: maxRounds, logger: logger}
}

// Start handles a start_plan command: drafts the initial document, emits it,
// and opens the first clarification round.
func (e *Engine) Start(ctx context.Context, prompt string, emit Emit) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return ErrAlreadyStarted
	}
	e.started = true
	e.prompt = prompt

	if err := emit(planwire.Event{Type: planwire.EventStatus, Status: "drafting", Message: "Drafting the initial plan"}); err != nil {
		return err
	}

	title, content, err := e.gen.Draft(ctx, prompt)
	if err != nil {
		return fmt.Errorf("draft plan: %w", err)
	}
	e.doc = domain.PlanDocument{Title: title, Content: content, Version: 1}
	if err := emit(planwire.Event{Type: planwire.EventDocumentUpdate, Document: copyDoc(e.doc)}); err != nil {
		return err
	}

	return e.askNextLocked(ctx, emit)
}

// Respond handles a user_response command: folds the answer into the
// document, emits the revision, and opens the next round or finishes.
func (e *Engine) Respond(ctx context.Context, answer string, emit Emit) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.started {
		return ErrNotStarted
	}
	if e.done {
		return ErrCompleted
	}

	if err := emit(planwire.Event{Type: planwire.EventStatus, Status: "revising", Message: "Working your answer into the plan"}); err != nil {
		return err
	}

	title, content, err := e.gen.Revise(ctx, e.doc, answer)
	if err != nil {
		return fmt.Errorf("revise plan: %w", err)
	}
	e.doc.Title = title
	e.doc.Content = content
	e.doc.Version++
	if err := emit(planwire.Event{Type: planwire.EventDocumentUpdate, Document: copyDoc(e.doc)}); err != nil {
		return err
	}

	return e.askNextLocked(ctx, emit)
}

// Document returns the current document.
func (e *Engine) Document() domain.PlanDocument {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.doc
}

// Done reports whether the session reached ready_for_approval.
func (e *Engine) Done() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.done
}

func (e *Engine) askNextLocked(ctx context.Context, emit Emit) error {
	e.round++
	var questions []domain.Question
	if e.round <= e.maxRounds {
		var err error
		questions, err = e.gen.Clarify(ctx, e.prompt, e.round)
		if err != nil {
			return fmt.Errorf("clarify round %d: %w", e.round, err)
		}
	}

	if len(questions) == 0 {
		e.done = true
		e.logger.Debug("plan session complete", "rounds", e.round-1, "version", e.doc.Version)
		return emit(planwire.Event{Type: planwire.EventReadyForApproval, Message: "The plan is ready for your approval"})
	}

	for _, q := range questions {
		ev := planwire.Event{
			Type:     planwire.EventQuestion,
			Question: &domain.Question{ID: q.ID, Text: q.Text},
			Progress: &domain.Progress{Round: e.round, MaxRounds: e.maxRounds},
		}
		if err := emit(ev); err != nil {
			return err
		}
	}
	return nil
}

func copyDoc(doc domain.PlanDocument) *domain.PlanDocument {
	d := doc
	return &d
}
