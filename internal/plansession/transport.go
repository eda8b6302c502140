package plansession

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"

	"github.com/ashureev/planforge/internal/auth"
	"github.com/ashureev/planforge/internal/planwire"
	"github.com/coder/websocket"
)

// Transport read limit. Plan documents ride inside document.update frames,
// so the default 32 KiB limit is too small.
const maxFrameSize = 1 << 20

var (
	// ErrNotConnected reports an operation that requires an open connection.
	ErrNotConnected = errors.New("transport not connected")
	// ErrAlreadyOpen reports an Open while a connection is still owned.
	ErrAlreadyOpen = errors.New("transport already open")
	// ErrMissingToken reports a dial attempted without a bearer credential.
	ErrMissingToken = errors.New("missing bearer token")
)

// Transport owns exactly one WebSocket connection to the planning service at
// a time. It serializes outgoing commands, decodes inbound frames into typed
// events, and drops anything it cannot decode.
type Transport struct {
	logger *slog.Logger

	mu   sync.Mutex
	conn *websocket.Conn
}

// NewTransport creates a disconnected transport.
func NewTransport(logger *slog.Logger) *Transport {
	if logger == nil {
		logger = slog.Default()
	}
	return &Transport{logger: logger}
}

// Open dials the planning service. The bearer token travels as a query
// parameter on the upgrade request; an empty token fails synchronously
// without dialing, so missing credentials never produce a hung handshake.
func (t *Transport) Open(ctx context.Context, rawURL, token string) error {
	if token == "" {
		return ErrMissingToken
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("parse server url: %w", err)
	}
	q := u.Query()
	q.Set(auth.WSTokenParam, token)
	u.RawQuery = q.Encode()

	t.mu.Lock()
	if t.conn != nil {
		t.mu.Unlock()
		return ErrAlreadyOpen
	}
	t.mu.Unlock()

	conn, resp, err := websocket.Dial(ctx, u.String(), nil) //nolint:bodyclose // handled below
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return fmt.Errorf("dial planning service: %w", err)
	}
	conn.SetReadLimit(maxFrameSize)

	t.mu.Lock()
	if t.conn != nil {
		// A concurrent Open won the race; give up this connection.
		t.mu.Unlock()
		_ = conn.Close(websocket.StatusNormalClosure, "duplicate connection")
		return ErrAlreadyOpen
	}
	t.conn = conn
	t.mu.Unlock()
	return nil
}

// Connected reports whether a connection is currently owned.
func (t *Transport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn != nil
}

// Send writes a command to the service. Sending while not connected returns
// ErrNotConnected; callers are expected to check connectivity before
// interactive actions.
func (t *Transport) Send(ctx context.Context, cmd planwire.Command) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("encode command: %w", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("write command: %w", err)
	}
	return nil
}

// Read blocks until the next well-formed event arrives. Malformed frames and
// unknown event types are logged and dropped; they are never surfaced as
// errors and never reach the state machine.
func (t *Transport) Read(ctx context.Context) (*planwire.Event, error) {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return nil, ErrNotConnected
	}

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return nil, err
		}
		ev, err := planwire.DecodeEvent(data)
		if err != nil {
			t.logger.Debug("dropping undecodable frame", "error", err)
			continue
		}
		return ev, nil
	}
}

// Close tears down the connection and releases ownership. Idempotent; safe
// to call when never opened or already closed.
func (t *Transport) Close() {
	t.mu.Lock()
	conn := t.conn
	t.conn = nil
	t.mu.Unlock()
	if conn == nil {
		return
	}
	if err := conn.Close(websocket.StatusNormalClosure, "session ended"); err != nil {
		t.logger.Debug("websocket close", "error", err)
	}
}
