// Package planwire defines the JSON frames exchanged over the plan-generation
// WebSocket channel and the decoding rules for inbound events.
package planwire

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ashureev/planforge/internal/domain"
)

// Client → server command types.
const (
	CommandStartPlan    = "start_plan"
	CommandUserResponse = "user_response"
)

// Server → client event types.
const (
	EventDocumentUpdate   = "document.update"
	EventQuestion         = "question"
	EventStatus           = "status"
	EventReadyForApproval = "ready_for_approval"
	EventTaskError        = "task.error"
)

var (
	// ErrMalformedFrame reports a frame that is not valid JSON or is missing
	// a type tag.
	ErrMalformedFrame = errors.New("malformed frame")
	// ErrUnknownEventType reports a frame whose type tag is not in the known
	// event set.
	ErrUnknownEventType = errors.New("unknown event type")
)

// Command is a client-to-server frame.
type Command struct {
	Type     string `json:"type"`
	Prompt   string `json:"prompt,omitempty"`
	Response string `json:"response,omitempty"`
}

// StartPlan builds the command that begins a planning session.
func StartPlan(prompt string) Command {
	return Command{Type: CommandStartPlan, Prompt: prompt}
}

// UserResponse builds the command that answers the current round.
func UserResponse(text string) Command {
	return Command{Type: CommandUserResponse, Response: text}
}

// DecodeCommand parses a client frame. Used by the server side of the
// protocol.
func DecodeCommand(data []byte) (*Command, error) {
	var cmd Command
	if err := json.Unmarshal(data, &cmd); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	switch cmd.Type {
	case CommandStartPlan, CommandUserResponse:
		return &cmd, nil
	case "":
		return nil, fmt.Errorf("%w: missing type", ErrMalformedFrame)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEventType, cmd.Type)
	}
}

// Event is a server-to-client frame. Every event carries the server-assigned
// session id; the remaining fields are populated per type.
type Event struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`

	// document.update
	Document *domain.PlanDocument `json:"document,omitempty"`

	// question; Progress may be absent in the degraded protocol variant.
	Question *domain.Question `json:"question,omitempty"`
	Progress *domain.Progress `json:"progress,omitempty"`

	// status / ready_for_approval
	Status  string `json:"status,omitempty"`
	Message string `json:"message,omitempty"`

	// task.error
	Error   string `json:"error,omitempty"`
	Context string `json:"context,omitempty"`
}

// DecodeEvent parses a server frame. It returns ErrMalformedFrame for
// unparseable or structurally incomplete frames and ErrUnknownEventType for
// type tags outside the known set; callers drop both without surfacing them.
func DecodeEvent(data []byte) (*Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	switch ev.Type {
	case EventDocumentUpdate:
		if ev.Document == nil {
			return nil, fmt.Errorf("%w: document.update without document", ErrMalformedFrame)
		}
	case EventQuestion:
		if ev.Question == nil {
			return nil, fmt.Errorf("%w: question event without question", ErrMalformedFrame)
		}
	case EventStatus, EventReadyForApproval, EventTaskError:
		// No required payload beyond the type tag.
	case "":
		return nil, fmt.Errorf("%w: missing type", ErrMalformedFrame)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEventType, ev.Type)
	}

	return &ev, nil
}
