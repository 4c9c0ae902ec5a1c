// Package hire models one uploaded hire record and its validation. Rows
// are transient: created per upload, consumed by one pipeline run, and
// persisted only through the audit trail.
package hire

import (
	"fmt"
	"time"
)

// Row is a raw uploaded record, fields exactly as supplied.
type Row struct {
	Name       string `json:"name"`
	Email      string `json:"email"`
	Department string `json:"department"`
	Role       string `json:"role"`
	JoinDate   string `json:"join_date"`
	Status     string `json:"status"`
}

// NormalizedRow is a Row that passed validation: email lowercased and
// trimmed, join date parsed, status canonical.
type NormalizedRow struct {
	Name       string
	Email      string
	Department string
	Role       string
	JoinDate   time.Time
	Status     string
}

// Validation failure reasons, stable across the API surface.
const (
	ReasonMissing          = "missing"
	ReasonInvalidEmail     = "invalid_email"
	ReasonUnknownDept      = "unknown_department"
	ReasonInvalidJoinDate  = "invalid_join_date"
	ReasonInvalidStatus    = "invalid_status"
	ReasonDuplicateInBatch = "duplicate_in_batch"
)

// FieldError reports which field failed validation and why. It is a value
// reported to the caller, not a system failure.
type FieldError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("hire: field %s: %s", e.Field, e.Reason)
}
