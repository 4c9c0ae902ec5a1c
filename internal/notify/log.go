package notify

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"autoaccess.org/internal/obs"
)

// LogSender "delivers" by appending a readable block to a local file and
// emitting a log line. It stands in for a real transport in development
// and tests.
type LogSender struct {
	mu   sync.Mutex
	path string
	from string
	now  func() time.Time
}

var _ Sender = (*LogSender)(nil)

// NewLogSender creates a file-appending sender. The parent directory is
// created on first send if missing.
func NewLogSender(path, from string) *LogSender {
	return &LogSender{path: path, from: from, now: time.Now}
}

func (s *LogSender) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrSendFailed, err)
	}

	ts := s.now().UTC().Format(time.RFC3339)
	block := fmt.Sprintf(
		"[%s] FROM: %s TO: %s\nSUBJECT: %s\nBODY:\n%s\n%s\n",
		ts, s.from, msg.To, msg.Subject, msg.Body, strings.Repeat("-", 60),
	)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("%w: %v", ErrSendFailed, err)
	}
	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSendFailed, err)
	}
	defer f.Close()
	if _, err := f.WriteString(block); err != nil {
		return fmt.Errorf("%w: %v", ErrSendFailed, err)
	}

	obs.LogEntry(map[string]any{
		"ts":      ts,
		"type":    "email",
		"to":      msg.To,
		"subject": msg.Subject,
	})
	return nil
}
