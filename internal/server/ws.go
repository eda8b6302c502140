package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashureev/planforge/internal/auth"
	"github.com/ashureev/planforge/internal/planner"
	"github.com/ashureev/planforge/internal/planwire"
	"github.com/coder/websocket"
	"github.com/google/uuid"
)

// WSHandler handles WebSocket-based plan generation sessions.
type WSHandler struct {
	gen           planner.Generator
	maxRounds     int
	transcripts   *TranscriptLogger
	allowedOrigin string
	isDev         bool
}

// NewWSHandler creates a new WebSocket handler.
func NewWSHandler(gen planner.Generator, maxRounds int, transcripts *TranscriptLogger, allowedOrigin string, isDev bool) *WSHandler {
	return &WSHandler{
		gen:           gen,
		maxRounds:     maxRounds,
		transcripts:   transcripts,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
	}
}

// ServeHTTP implements http.Handler for WebSocket upgrade. Each connection
// runs one planning session with a fresh server-assigned session id.
func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())
	sessionID := uuid.NewString()
	slog.Info("Plan session connection request", "user_id", userID, "session_id", sessionID, "ip", r.RemoteAddr)

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "user_id", userID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "user_id", userID)
		}
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	engine := planner.NewEngine(h.gen, h.maxRounds, slog.Default())
	emit := func(ev planwire.Event) error {
		ev.SessionID = sessionID
		ev.Timestamp = time.Now().UTC().Format(time.RFC3339)
		return h.writeEvent(ctx, ws, userID, sessionID, ev)
	}

	h.commandLoop(ctx, ws, engine, emit, userID, sessionID)
	slog.Info("Plan session ended", "user_id", userID, "session_id", sessionID, "complete", engine.Done())
}

func (h *WSHandler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" {
		return true
	}
	if origin == h.allowedOrigin {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

func (h *WSHandler) commandLoop(ctx context.Context, ws *websocket.Conn, engine *planner.Engine, emit planner.Emit, userID, sessionID string) {
	for {
		_, message, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("WebSocket closed by client", "user_id", userID, "session_id", sessionID)
			} else if !errors.Is(err, context.Canceled) {
				slog.Warn("WebSocket read error", "error", err, "user_id", userID, "session_id", sessionID)
			}
			return
		}

		if h.transcripts != nil {
			h.transcripts.Log(TranscriptEntry{
				UserID:    userID,
				SessionID: sessionID,
				Direction: "inbound",
				Frame:     json.RawMessage(message),
			})
		}

		cmd, err := planwire.DecodeCommand(message)
		if err != nil {
			slog.Warn("Dropping malformed command", "error", err, "user_id", userID, "session_id", sessionID)
			h.emitError(emit, "unrecognized command", userID, sessionID)
			continue
		}

		switch cmd.Type {
		case planwire.CommandStartPlan:
			err = engine.Start(ctx, cmd.Prompt, emit)
		case planwire.CommandUserResponse:
			err = engine.Respond(ctx, cmd.Response, emit)
		}
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			slog.Error("Plan command failed", "error", err, "type", cmd.Type, "user_id", userID, "session_id", sessionID)
			h.emitError(emit, "plan generation failed", userID, sessionID)
		}
	}
}

// emitError sends a task.error frame. The session stays open so the client
// keeps its document and history.
func (h *WSHandler) emitError(emit planner.Emit, message, userID, sessionID string) {
	ev := planwire.Event{
		Type:    planwire.EventTaskError,
		Error:   message,
		Context: "plan_generation",
	}
	if err := emit(ev); err != nil {
		slog.Debug("Failed to send task.error", "error", err, "user_id", userID, "session_id", sessionID)
	}
}

func (h *WSHandler) writeEvent(ctx context.Context, ws *websocket.Conn, userID, sessionID string, ev planwire.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if h.transcripts != nil {
		h.transcripts.Log(TranscriptEntry{
			UserID:    userID,
			SessionID: sessionID,
			Direction: "outbound",
			Frame:     json.RawMessage(data),
		})
	}
	return ws.Write(ctx, websocket.MessageText, data)
}
