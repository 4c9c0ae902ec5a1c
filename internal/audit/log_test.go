package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"autoaccess.org/internal/obs"
)

func TestLogRecorderOutput(t *testing.T) {
	logger := obs.Logger()
	original := logger.Writer()
	logger.SetFlags(0)
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	defer logger.SetOutput(original)

	ctx := WithBatchID(context.Background(), "batch-7")
	Record(ctx, LogRecorder{}, &Entry{
		Action:  ActionCreateUser,
		Subject: "jdoe",
		Details: map[string]string{"department": "Finance", "role": "Analyst"},
	})

	line := buf.String()
	if line == "" {
		t.Fatal("expected log output")
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		t.Fatalf("log not valid JSON: %v", err)
	}
	if entry["type"] != "audit" {
		t.Fatalf("unexpected type: %v", entry["type"])
	}
	if entry["action"] != "create_user" {
		t.Fatalf("unexpected action: %v", entry["action"])
	}
	if entry["subject"] != "jdoe" {
		t.Fatalf("unexpected subject: %v", entry["subject"])
	}
	if entry["batch_id"] != "batch-7" {
		t.Fatalf("batch id not propagated: %v", entry["batch_id"])
	}
	if entry["id"] == "" {
		t.Fatal("expected generated id")
	}
	details, ok := entry["details"].(map[string]any)
	if !ok || details["department"] != "Finance" {
		t.Fatalf("details missing or incorrect: %v", entry["details"])
	}
}

func TestRecordFillsTimestamp(t *testing.T) {
	mem := NewMemory()
	Record(context.Background(), mem, &Entry{Action: ActionOTPIssued, Subject: "jane.doe@company.com"})

	entries := mem.Entries()
	if len(entries) != 1 {
		t.Fatalf("expected one entry, got %d", len(entries))
	}
	if entries[0].OccurredAt.IsZero() {
		t.Fatal("timestamp not filled")
	}
	if time.Since(entries[0].OccurredAt) > time.Minute {
		t.Fatalf("timestamp implausible: %v", entries[0].OccurredAt)
	}
}

type failingRecorder struct{}

func (failingRecorder) Append(context.Context, *Entry) error {
	return errors.New("disk full")
}

func TestRecordDegradesOnFailure(t *testing.T) {
	logger := obs.Logger()
	original := logger.Writer()
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	defer logger.SetOutput(original)

	// Must not panic or propagate the failure.
	Record(context.Background(), failingRecorder{}, &Entry{Action: ActionEmailFailed, Subject: "jdoe"})

	if !bytes.Contains(buf.Bytes(), []byte("audit append failed")) {
		t.Fatalf("expected degraded-mode warning, got: %s", buf.String())
	}
}
