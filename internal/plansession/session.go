// Package plansession implements the client side of the plan-generation
// session protocol: a multi-round question-and-answer conversation with the
// planning service over one WebSocket connection, producing an evolving
// document the user eventually approves.
//
// A Session owns exactly one transport connection at a time. Inbound events
// are consumed by a single read goroutine and applied under the session
// mutex, so no handler observes another handler mid-mutation. Consumers see
// state only through Snapshot copies, never live references.
package plansession

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ashureev/planforge/internal/auth"
	"github.com/ashureev/planforge/internal/domain"
	"github.com/ashureev/planforge/internal/planwire"
	"github.com/coder/websocket"
)

// transportLink is the session's view of the transport adapter. Satisfied
// by *Transport; tests substitute a fake.
type transportLink interface {
	Open(ctx context.Context, rawURL, token string) error
	Send(ctx context.Context, cmd planwire.Command) error
	Read(ctx context.Context) (*planwire.Event, error)
	Connected() bool
	Close()
}

// Session is the client-side state machine for one planning conversation.
type Session struct {
	logger    *slog.Logger
	serverURL string
	tokens    auth.TokenSource
	transport transportLink
	notify    func(Snapshot)

	mu sync.Mutex

	// Published state (copied out via Snapshot).
	state         State
	connState     ConnState
	sessionID     string
	document      *domain.PlanDocument
	messages      []domain.ChatMessage
	pending       []domain.Question
	progress      *domain.Progress
	thinking      *domain.ThinkingStatus
	approvalReady bool
	errMsg        string

	// Cross-event memory, never published.
	openRound int
	roundOpen bool
	answered  map[int]struct{}

	// gen invalidates read loops and in-flight handshakes from prior
	// session cycles. Bumped on Start, Disconnect, and Reset.
	gen int
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the session logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithNotify registers a callback invoked with a fresh Snapshot after every
// meaningful state transition. Discarded events (replayed rounds, duplicate
// questions, undecodable frames) do not trigger it.
func WithNotify(fn func(Snapshot)) Option {
	return func(s *Session) { s.notify = fn }
}

// New creates an idle session that will connect to serverURL using
// credentials from tokens.
func New(serverURL string, tokens auth.TokenSource, opts ...Option) *Session {
	s := &Session{
		logger:    slog.Default(),
		serverURL: serverURL,
		tokens:    tokens,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.transport = NewTransport(s.logger)
	s.resetLocked()
	return s
}

// Start begins a new planning conversation. All prior session state is reset
// eagerly (before the connection succeeds) so the conversation log reflects
// the user's prompt immediately, then the transport is opened and a
// start_plan command sent. Token acquisition and the handshake may suspend;
// progress is published through snapshots as it happens.
func (s *Session) Start(ctx context.Context, prompt string) error {
	s.mu.Lock()
	s.gen++
	gen := s.gen
	s.transport.Close()
	s.resetLocked()
	s.messages = append(s.messages, domain.ChatMessage{Kind: domain.MessageUserPrompt, Content: prompt})
	s.state = StateConnecting
	s.connState = ConnConnecting
	s.mu.Unlock()
	s.publish()

	token, err := s.tokens.Token(ctx)
	if err != nil {
		err = fmt.Errorf("acquire token: %w", err)
		s.fail(gen, err)
		return err
	}

	if err := s.transport.Open(ctx, s.serverURL, token); err != nil {
		s.fail(gen, err)
		return err
	}

	s.mu.Lock()
	if gen != s.gen {
		// Abandoned by a Disconnect/Reset/Start that raced the handshake.
		s.mu.Unlock()
		s.transport.Close()
		return nil
	}
	s.connState = ConnConnected
	s.state = StateActive
	s.mu.Unlock()
	s.publish()

	if err := s.transport.Send(ctx, planwire.StartPlan(prompt)); err != nil {
		s.fail(gen, err)
		return err
	}

	go s.readLoop(gen)
	return nil
}

// Answer closes the currently open round with the user's combined response.
// Calling it with no open round, or while disconnected, is a silent no-op:
// those are reachable through ordinary UI races (a stale button press) and
// must not crash the session.
func (s *Session) Answer(ctx context.Context, text string) error {
	s.mu.Lock()
	// connState, not transport liveness: after an abnormal drop the transport
	// may still hold its conn briefly while the state machine is already in
	// error, and answers must stop the moment the session is not connected.
	if !s.roundOpen || len(s.pending) == 0 || s.connState != ConnConnected {
		s.mu.Unlock()
		s.logger.Debug("answer ignored", "round_open", s.roundOpen, "conn_state", s.connState.String())
		return nil
	}

	s.messages = append(s.messages,
		domain.ChatMessage{
			Kind:      domain.MessageQuestions,
			Questions: copyQuestions(s.pending),
			Progress:  copyProgress(s.progress),
		},
		domain.ChatMessage{Kind: domain.MessageUserAnswer, Content: text},
	)

	// The round closes before the send so that late duplicate question
	// events for it are already ignorable the instant the command goes out.
	s.answered[s.openRound] = struct{}{}
	s.pending = nil
	s.progress = nil
	s.roundOpen = false
	s.mu.Unlock()
	s.publish()

	if err := s.transport.Send(ctx, planwire.UserResponse(text)); err != nil {
		s.logger.Warn("failed to send answer", "error", err)
		return err
	}
	return nil
}

// Disconnect closes the transport and returns the session to Idle while
// leaving the document and conversation history intact. Callers that want a
// clean slate use Reset. Safe to call repeatedly.
func (s *Session) Disconnect() {
	s.mu.Lock()
	s.gen++
	s.transport.Close()
	s.connState = ConnDisconnected
	s.state = StateIdle
	s.mu.Unlock()
	s.publish()
}

// Reset disconnects and clears every piece of session state back to the
// freshly-constructed initial values.
func (s *Session) Reset() {
	s.mu.Lock()
	s.gen++
	s.transport.Close()
	s.resetLocked()
	s.mu.Unlock()
	s.publish()
}

// Snapshot returns a copy of the current session state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() Snapshot {
	return Snapshot{
		State:         s.state,
		ConnState:     s.connState,
		SessionID:     s.sessionID,
		Document:      copyDocument(s.document),
		Messages:      copyMessages(s.messages),
		Pending:       copyQuestions(s.pending),
		Progress:      copyProgress(s.progress),
		Thinking:      copyThinking(s.thinking),
		ApprovalReady: s.approvalReady,
		Err:           s.errMsg,
	}
}

func (s *Session) resetLocked() {
	s.state = StateIdle
	s.connState = ConnDisconnected
	s.sessionID = ""
	s.document = nil
	s.messages = nil
	s.pending = nil
	s.progress = nil
	s.thinking = nil
	s.approvalReady = false
	s.errMsg = ""
	s.openRound = 0
	s.roundOpen = false
	s.answered = make(map[int]struct{})
}

func (s *Session) publish() {
	if s.notify == nil {
		return
	}
	s.notify(s.Snapshot())
}

func (s *Session) fail(gen int, err error) {
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}
	s.connState = ConnError
	s.state = StateError
	s.errMsg = err.Error()
	s.mu.Unlock()
	s.logger.Warn("plan session error", "error", err)
	s.publish()
}

// readLoop consumes transport events sequentially until the connection ends
// or the session cycle it belongs to is superseded.
func (s *Session) readLoop(gen int) {
	for {
		ev, err := s.transport.Read(context.Background())
		if err != nil {
			s.mu.Lock()
			if gen != s.gen {
				// Deliberate teardown; state already updated.
				s.mu.Unlock()
				return
			}
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				s.connState = ConnDisconnected
			} else {
				s.connState = ConnError
				s.state = StateError
				s.errMsg = "connection lost"
				s.logger.Warn("plan session connection lost", "error", err)
			}
			// Release the dead conn so transport ownership matches the
			// connection state.
			s.transport.Close()
			s.mu.Unlock()
			s.publish()
			return
		}
		s.handleEvent(gen, ev)
	}
}

// handleEvent applies one inbound event. Events are delivered strictly in
// arrival order and each is applied atomically under the session mutex.
func (s *Session) handleEvent(gen int, ev *planwire.Event) {
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}

	// Adopt the server-assigned session id from the first event carrying one.
	if s.sessionID == "" && ev.SessionID != "" {
		s.sessionID = ev.SessionID
	}

	changed := true
	switch ev.Type {
	case planwire.EventDocumentUpdate:
		// Last write wins; no merging.
		s.document = copyDocument(ev.Document)

	case planwire.EventQuestion:
		changed = s.applyQuestionLocked(ev)

	case planwire.EventStatus:
		s.thinking = &domain.ThinkingStatus{Status: ev.Status, Message: ev.Message}

	case planwire.EventReadyForApproval:
		s.thinking = nil
		s.pending = nil
		s.progress = nil
		s.roundOpen = false
		s.approvalReady = true
		s.state = StateAwaitingApproval

	case planwire.EventTaskError:
		// Application error: surfaced verbatim, everything else survives so
		// the user keeps their context. The server may keep sending events.
		s.thinking = nil
		s.errMsg = ev.Error
	}

	s.mu.Unlock()
	if changed {
		s.publish()
	}
}

// applyQuestionLocked folds a question event into the pending set and
// reports whether published state changed.
func (s *Session) applyQuestionLocked(ev *planwire.Event) bool {
	round := 0
	if ev.Progress != nil {
		round = ev.Progress.Round
		// Replayed or late delivery for a round the user already answered.
		if _, done := s.answered[round]; done {
			return false
		}
	}
	// Without progress metadata the protocol degrades to a single implicit
	// round: no round bookkeeping, only id/text de-duplication below.

	changed := s.thinking != nil
	s.thinking = nil

	if !s.roundOpen || s.openRound != round {
		// A new round supersedes any unanswered leftovers from the prior one.
		s.pending = nil
		s.openRound = round
		s.roundOpen = true
		changed = true
	}

	for _, q := range s.pending {
		if q.Equal(*ev.Question) {
			return changed
		}
	}
	s.pending = append(s.pending, *ev.Question)
	s.progress = copyProgress(ev.Progress)
	return true
}
