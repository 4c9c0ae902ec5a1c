package hire

import (
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"autoaccess.org/internal/directory"
	"autoaccess.org/internal/roles"
)

// Accepted join date layouts, tried in order.
var joinDateLayouts = []string{"2006-01-02", time.RFC3339, "02/01/2006"}

// Validator checks and normalizes uploaded rows against the role matrix.
// It is pure apart from the batch-level duplicate set supplied by the
// caller; validating one row never affects another.
type Validator struct {
	matrix   *roles.Matrix
	validate *validator.Validate
}

// NewValidator builds a Validator over the given matrix.
func NewValidator(matrix *roles.Matrix) *Validator {
	return &Validator{
		matrix:   matrix,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// Validate checks one row, short-circuiting on the first failure. seen
// tracks lowercased emails already accepted in this batch: the first
// occurrence wins, later duplicates are rejected. On success the accepted
// email is added to seen and the normalized row returned.
func (v *Validator) Validate(row Row, seen map[string]struct{}) (NormalizedRow, *FieldError) {
	fields := []struct {
		name  string
		value string
	}{
		{"name", row.Name},
		{"email", row.Email},
		{"department", row.Department},
		{"role", row.Role},
		{"join_date", row.JoinDate},
		{"status", row.Status},
	}
	for _, f := range fields {
		if strings.TrimSpace(f.value) == "" {
			return NormalizedRow{}, &FieldError{Field: f.name, Reason: ReasonMissing}
		}
	}

	email := strings.ToLower(strings.TrimSpace(row.Email))
	if err := v.validate.Var(email, "email"); err != nil {
		return NormalizedRow{}, &FieldError{Field: "email", Reason: ReasonInvalidEmail}
	}

	department := strings.TrimSpace(row.Department)
	if !v.matrix.Has(department) {
		return NormalizedRow{}, &FieldError{Field: "department", Reason: ReasonUnknownDept}
	}

	joined, ok := parseJoinDate(strings.TrimSpace(row.JoinDate))
	if !ok {
		return NormalizedRow{}, &FieldError{Field: "join_date", Reason: ReasonInvalidJoinDate}
	}

	status := strings.ToLower(strings.TrimSpace(row.Status))
	if !directory.ValidStatus(status) {
		return NormalizedRow{}, &FieldError{Field: "status", Reason: ReasonInvalidStatus}
	}

	if _, dup := seen[email]; dup {
		return NormalizedRow{}, &FieldError{Field: "email", Reason: ReasonDuplicateInBatch}
	}
	seen[email] = struct{}{}

	return NormalizedRow{
		Name:       strings.TrimSpace(row.Name),
		Email:      email,
		Department: department,
		Role:       strings.TrimSpace(row.Role),
		JoinDate:   joined,
		Status:     status,
	}, nil
}

func parseJoinDate(raw string) (time.Time, bool) {
	for _, layout := range joinDateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
