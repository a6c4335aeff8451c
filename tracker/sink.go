package tracker

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// SessionSink receives every completed session, for offline analysis.
type SessionSink interface {
	Record(s Session) error
}

// NewSessionLogFilePath returns a file path based on a cleaned up model name
// so logs produced with different models are easy to tell apart.
func NewSessionLogFilePath(dir, model string) string {
	clean := strings.NewReplacer(":", "_", "/", "_", " ", "_").Replace(strings.ToLower(model))
	return fmt.Sprintf("%s/%d.%s.json", strings.TrimRight(dir, "/"), time.Now().Unix(), clean)
}

// FileSink accumulates sessions and writes them as one JSON document on Flush.
type FileSink struct {
	mu       sync.Mutex
	sessions []Session
	writer   io.Writer
}

func NewFileSink(writer io.Writer) *FileSink {
	return &FileSink{
		sessions: make([]Session, 0),
		writer:   writer,
	}
}

// Record buffers the session; nothing is written until Flush.
func (f *FileSink) Record(s Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions = append(f.sessions, s)
	return nil
}

// Flush writes all buffered sessions to the writer and clears the buffer.
func (f *FileSink) Flush() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.writer == nil {
		return nil
	}

	data, err := json.MarshalIndent(map[string]any{
		"model_usage": map[string]any{
			"timestamp": time.Now(),
			"sessions":  f.sessions,
		},
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal session log: %w", err)
	}

	if _, err := f.writer.Write(data); err != nil {
		return fmt.Errorf("failed to write session log: %w", err)
	}

	f.sessions = f.sessions[:0]
	return nil
}

// NoOpSink discards all sessions.
type NoOpSink struct{}

func NewNoOpSink() *NoOpSink {
	return &NoOpSink{}
}

func (NoOpSink) Record(Session) error {
	return nil
}

// StdoutSink writes each session as a JSON line (for Lambda/CloudWatch).
type StdoutSink struct {
	out io.Writer
}

func NewStdoutSink() *StdoutSink {
	return &StdoutSink{out: os.Stdout}
}

func (l *StdoutSink) Record(s Session) error {
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(l.out, string(data))
	return err
}
