package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ashureev/planforge/internal/config"
)

// TranscriptEntry is one logged WebSocket frame.
type TranscriptEntry struct {
	Timestamp string          `json:"timestamp"`
	UserID    string          `json:"user_id"`
	SessionID string          `json:"session_id"`
	Direction string          `json:"direction"` // "inbound" = command, "outbound" = event
	Frame     json.RawMessage `json:"frame"`
}

// TranscriptLogger writes per-session NDJSON transcripts of plan sessions.
// Logging is asynchronous; a full queue drops entries rather than blocking
// the WebSocket loop.
type TranscriptLogger struct {
	enabled bool
	dir     string
	logger  *slog.Logger

	queue chan TranscriptEntry
	done  chan struct{}
	wg    sync.WaitGroup

	closeOnce sync.Once
}

// NewTranscriptLogger creates a transcript logger. A disabled config yields
// a logger whose Log is a no-op.
func NewTranscriptLogger(cfg config.TranscriptLogConfig, logger *slog.Logger) (*TranscriptLogger, error) {
	if logger == nil {
		logger = slog.Default()
	}
	t := &TranscriptLogger{
		enabled: cfg.Enabled,
		dir:     cfg.Dir,
		logger:  logger,
	}
	if !cfg.Enabled {
		return t, nil
	}

	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, fmt.Errorf("create transcript directory: %w", err)
	}

	t.queue = make(chan TranscriptEntry, cfg.QueueSize)
	t.done = make(chan struct{})
	t.wg.Add(1)
	go t.run()
	return t, nil
}

// Log queues one frame for writing. Never blocks.
func (t *TranscriptLogger) Log(entry TranscriptEntry) {
	if !t.enabled {
		return
	}
	if entry.Timestamp == "" {
		entry.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}
	select {
	case t.queue <- entry:
	default:
		t.logger.Debug("transcript queue full, dropping entry", "session_id", entry.SessionID)
	}
}

// Close drains pending entries and stops the writer.
func (t *TranscriptLogger) Close() error {
	if !t.enabled {
		return nil
	}
	t.closeOnce.Do(func() {
		close(t.done)
	})
	t.wg.Wait()
	return nil
}

func (t *TranscriptLogger) run() {
	defer t.wg.Done()
	for {
		select {
		case entry := <-t.queue:
			t.write(entry)
		case <-t.done:
			// Drain what is already queued before exiting.
			for {
				select {
				case entry := <-t.queue:
					t.write(entry)
				default:
					return
				}
			}
		}
	}
}

func (t *TranscriptLogger) write(entry TranscriptEntry) {
	dir := filepath.Join(t.dir, entry.UserID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.logger.Warn("failed to create transcript session directory", "error", err, "user_id", entry.UserID)
		return
	}

	data, err := json.Marshal(entry)
	if err != nil {
		t.logger.Warn("failed to marshal transcript entry", "error", err)
		return
	}

	path := filepath.Join(dir, entry.SessionID+".ndjson")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		t.logger.Warn("failed to open transcript file", "error", err, "path", path)
		return
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil {
			t.logger.Warn("failed to close transcript file", "error", closeErr, "path", path)
		}
	}()

	if _, err := f.Write(append(data, '\n')); err != nil {
		t.logger.Warn("failed to write transcript entry", "error", err, "path", path)
	}
}
