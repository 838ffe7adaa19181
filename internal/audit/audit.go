// Package audit writes an append-only JSONL record of every step the
// supervisor takes: model requests, sandbox executions, egress filter
// firings, and terminal outcomes.
package audit

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// Event is a single entry in the append-only audit log.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	RunID     string    `json:"run_id"`
	Iteration int       `json:"iteration"`
	Action    string    `json:"action"`
	CostUSD   float64   `json:"cost_usd,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// Logger writes audit events as append-only JSONL. Each event is a single
// JSON line. Thread-safe: multiple goroutines can log concurrently.
type Logger struct {
	mu     sync.Mutex
	file   *os.File
	logger *slog.Logger
}

// NewLogger opens (or creates) the audit log file in append-only mode.
// File permissions are 0600 (owner read/write only).
func NewLogger(path string, logger *slog.Logger) (*Logger, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("opening audit log %s: %w", path, err)
	}
	return &Logger{file: f, logger: logger}, nil
}

// Log serializes the event as JSON and appends it. Marshal happens outside
// the lock; only the file write is serialized.
func (l *Logger) Log(event Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling audit event: %w", err)
	}
	data = append(data, '\n')

	l.mu.Lock()
	_, writeErr := l.file.Write(data)
	l.mu.Unlock()

	if writeErr != nil {
		return fmt.Errorf("writing audit event: %w", writeErr)
	}

	l.logger.Debug("audit event logged",
		slog.String("run_id", event.RunID),
		slog.String("action", event.Action),
		slog.Int("iteration", event.Iteration),
	)
	return nil
}

// Close closes the underlying file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}
