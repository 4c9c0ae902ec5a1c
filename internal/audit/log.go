// Package audit records every state transition the core performs. The
// log is append-only: entries are never mutated or deleted.
package audit

import (
	"context"
	"strings"
	"time"

	"autoaccess.org/internal/ids"
	"autoaccess.org/internal/obs"
)

// Action enumerates auditable state transitions.
type Action string

const (
	ActionCreateUser     Action = "create_user"
	ActionUpdateUser     Action = "update_user"
	ActionDeactivateUser Action = "deactivate_user"
	ActionEmailSent      Action = "email_sent"
	ActionEmailFailed    Action = "email_failed"
	ActionOTPIssued      Action = "otp_issued"
	ActionOTPVerified    Action = "otp_verified"
	ActionOTPFailed      Action = "otp_failed"
	ActionSummarySent    Action = "summary_sent"
)

// Entry is one immutable audit record. Subject is the username or email
// the action applied to; Details stay structured rather than free text.
type Entry struct {
	ID         string            `json:"id"`
	OccurredAt time.Time         `json:"occurred_at"`
	Action     Action            `json:"action"`
	Subject    string            `json:"subject"`
	BatchID    string            `json:"batch_id,omitempty"`
	Details    map[string]string `json:"details,omitempty"`
}

// Recorder appends immutable entries.
type Recorder interface {
	Append(ctx context.Context, entry *Entry) error
}

// Record fills in ID and timestamp if missing and appends the entry.
// A failing recorder degrades to a warning: audit loss must never abort
// the action that triggered it.
func Record(ctx context.Context, rec Recorder, entry *Entry) {
	if rec == nil || entry == nil {
		return
	}
	if entry.ID == "" {
		entry.ID = ids.New()
	}
	if entry.OccurredAt.IsZero() {
		entry.OccurredAt = time.Now().UTC()
	}
	if bid := BatchIDFromContext(ctx); bid != "" && entry.BatchID == "" {
		entry.BatchID = bid
	}
	if err := rec.Append(ctx, entry); err != nil {
		obs.Warn("audit append failed", map[string]any{
			"action":  string(entry.Action),
			"subject": entry.Subject,
			"error":   err.Error(),
		})
	}
}

type ctxKey string

const batchIDKey ctxKey = "audit_batch_id"

// WithBatchID attaches the provisioning batch identifier to the context
// so every entry emitted during that run carries it.
func WithBatchID(ctx context.Context, batchID string) context.Context {
	batchID = strings.TrimSpace(batchID)
	if batchID == "" {
		return ctx
	}
	return context.WithValue(ctx, batchIDKey, batchID)
}

// BatchIDFromContext extracts the batch id from context if present.
func BatchIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(batchIDKey).(string); ok {
		return v
	}
	return ""
}

// LogRecorder writes entries as JSON lines through the shared logger.
// It is the fallback recorder when Postgres is not configured.
type LogRecorder struct{}

var _ Recorder = LogRecorder{}

func (LogRecorder) Append(_ context.Context, entry *Entry) error {
	line := map[string]any{
		"ts":      entry.OccurredAt.Format(time.RFC3339Nano),
		"type":    "audit",
		"id":      entry.ID,
		"action":  string(entry.Action),
		"subject": entry.Subject,
	}
	if entry.BatchID != "" {
		line["batch_id"] = entry.BatchID
	}
	if len(entry.Details) > 0 {
		line["details"] = entry.Details
	}
	obs.LogEntry(line)
	return nil
}
