package agent

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/repolens/repolens/internal/config"
)

// ConversationLogEvent is one NDJSON line of the conversation log.
type ConversationLogEvent struct {
	EventID   string `json:"event_id"`
	Timestamp string `json:"ts"`
	SessionID string `json:"session_id"`
	Direction string `json:"direction"`  // "inbound" | "outbound"
	EventType string `json:"event_type"` // "user_message" | "assistant_answer" | "tool_call"
	Content   string `json:"content"`
	Repo      string `json:"repo,omitempty"`
}

// ConversationLogger records chat traffic for later inspection.
type ConversationLogger interface {
	Log(event ConversationLogEvent)
	Close() error
}

type noopConversationLogger struct{}

func (noopConversationLogger) Log(ConversationLogEvent) {}
func (noopConversationLogger) Close() error             { return nil }

// fileConversationLogger writes per-session NDJSON files asynchronously so
// logging never blocks a turn. Events are dropped, with a warning, when the
// queue is full.
type fileConversationLogger struct {
	dir    string
	queue  chan ConversationLogEvent
	done   chan struct{}
	closed sync.Once
	logger *slog.Logger
}

// NewConversationLogger creates a conversation logger from config. A disabled
// config yields a no-op logger.
func NewConversationLogger(cfg config.ConversationLogConfig, logger *slog.Logger) (ConversationLogger, error) {
	if !cfg.Enabled {
		return noopConversationLogger{}, nil
	}
	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, fmt.Errorf("create conversation log directory: %w", err)
	}

	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 1000
	}

	l := &fileConversationLogger{
		dir:    cfg.Dir,
		queue:  make(chan ConversationLogEvent, queueSize),
		done:   make(chan struct{}),
		logger: logger,
	}
	go l.run()
	return l, nil
}

// Log enqueues one event. Missing IDs and timestamps are filled in.
func (l *fileConversationLogger) Log(event ConversationLogEvent) {
	if event.EventID == "" {
		event.EventID = uuid.NewString()
	}
	if event.Timestamp == "" {
		event.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}

	select {
	case l.queue <- event:
	default:
		l.logger.Warn("Conversation log queue full, dropping event",
			"session_id", event.SessionID, "event_type", event.EventType)
	}
}

func (l *fileConversationLogger) run() {
	defer close(l.done)
	for event := range l.queue {
		l.write(event)
	}
}

func (l *fileConversationLogger) write(event ConversationLogEvent) {
	line, err := json.Marshal(event)
	if err != nil {
		l.logger.Warn("Failed to encode conversation log event", "error", err)
		return
	}

	path := filepath.Join(l.dir, event.SessionID+".ndjson")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		l.logger.Warn("Failed to open conversation log file", "path", path, "error", err)
		return
	}
	defer func() { _ = f.Close() }()

	if _, err := f.Write(append(line, '\n')); err != nil {
		l.logger.Warn("Failed to write conversation log event", "path", path, "error", err)
	}
}

// Close drains pending events and stops the writer goroutine.
func (l *fileConversationLogger) Close() error {
	l.closed.Do(func() {
		close(l.queue)
	})
	select {
	case <-l.done:
	case <-time.After(2 * time.Second):
		return fmt.Errorf("conversation logger: drain timeout")
	}
	return nil
}
