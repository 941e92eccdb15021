package audit

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"sync"
	"time"
)

// Entry describes one statement run through the query tool.
type Entry struct {
	RequestID string        `json:"request_id,omitempty"`
	Statement string        `json:"statement"`
	Rows      int           `json:"rows"`
	Duration  time.Duration `json:"duration"`
	Error     string        `json:"error,omitempty"`
	Time      time.Time     `json:"time"`
}

type requestIDKey struct{}

// WithRequestID attaches the id of the request being served to ctx.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestID returns the id stored by WithRequestID, if any.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// Logger emits audit entries as JSON lines. A nil or disabled Logger drops
// everything.
type Logger struct {
	enabled bool
	mu      sync.Mutex
	out     io.Writer
}

// New creates a new audit logger writing to the provided writer. Stdout is
// reserved for protocol messages, so a nil writer means stderr.
func New(enabled bool, out io.Writer) *Logger {
	if out == nil {
		out = os.Stderr
	}
	return &Logger{enabled: enabled, out: out}
}

// Open appends to the file at path, or writes to stderr when path is empty.
func Open(enabled bool, path string) (*Logger, io.Closer, error) {
	if !enabled || path == "" {
		return New(enabled, nil), io.NopCloser(nil), nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, nil, err
	}
	return New(true, f), f, nil
}

// Log writes an audit entry if enabled.
func (l *Logger) Log(entry Entry) {
	if l == nil || !l.enabled {
		return
	}
	if entry.Time.IsZero() {
		entry.Time = time.Now()
	}
	entry.Time = entry.Time.UTC()
	data, err := json.Marshal(entry)
	if err != nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	_, _ = l.out.Write(append(data, '\n'))
}
