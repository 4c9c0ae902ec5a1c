package audit

import (
	"context"
	"sync"
)

// Memory keeps entries in order of arrival. Used by tests and as a
// bounded in-process trail when no database is configured.
type Memory struct {
	mu      sync.Mutex
	entries []Entry
}

var _ Recorder = (*Memory)(nil)

// NewMemory creates an empty in-memory recorder.
func NewMemory() *Memory { return &Memory{} }

func (m *Memory) Append(_ context.Context, entry *Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, *entry)
	return nil
}

// Entries returns a copy of everything appended so far.
func (m *Memory) Entries() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Entry, len(m.entries))
	copy(out, m.entries)
	return out
}

// ByAction filters recorded entries by action.
func (m *Memory) ByAction(action Action) []Entry {
	var out []Entry
	for _, e := range m.Entries() {
		if e.Action == action {
			out = append(out, e)
		}
	}
	return out
}
