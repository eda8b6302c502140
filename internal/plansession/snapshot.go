package plansession

import (
	"github.com/ashureev/planforge/internal/domain"
)

// ConnState is the transport connection state.
type ConnState int

// Connection states.
const (
	ConnDisconnected ConnState = iota
	ConnConnecting
	ConnConnected
	ConnError
)

func (s ConnState) String() string {
	switch s {
	case ConnDisconnected:
		return "disconnected"
	case ConnConnecting:
		return "connecting"
	case ConnConnected:
		return "connected"
	case ConnError:
		return "error"
	default:
		return "unknown"
	}
}

// State is the session lifecycle state.
type State int

// Session states.
const (
	StateIdle State = iota
	StateConnecting
	StateActive
	StateAwaitingApproval
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateAwaitingApproval:
		return "awaiting_approval"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Snapshot is the read-only view of session state handed to consumers. All
// nested values are copies; mutating a Snapshot never affects the session.
type Snapshot struct {
	State     State
	ConnState ConnState
	SessionID string

	Document *domain.PlanDocument
	Messages []domain.ChatMessage

	Pending  []domain.Question
	Progress *domain.Progress
	Thinking *domain.ThinkingStatus

	ApprovalReady bool
	Err           string
}

func copyDocument(doc *domain.PlanDocument) *domain.PlanDocument {
	if doc == nil {
		return nil
	}
	d := *doc
	return &d
}

func copyProgress(p *domain.Progress) *domain.Progress {
	if p == nil {
		return nil
	}
	c := *p
	return &c
}

func copyThinking(t *domain.ThinkingStatus) *domain.ThinkingStatus {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

func copyQuestions(qs []domain.Question) []domain.Question {
	if len(qs) == 0 {
		return nil
	}
	out := make([]domain.Question, len(qs))
	copy(out, qs)
	return out
}

func copyMessages(msgs []domain.ChatMessage) []domain.ChatMessage {
	if len(msgs) == 0 {
		return nil
	}
	out := make([]domain.ChatMessage, len(msgs))
	for i, m := range msgs {
		m.Questions = copyQuestions(m.Questions)
		m.Progress = copyProgress(m.Progress)
		out[i] = m
	}
	return out
}
