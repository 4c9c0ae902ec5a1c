package hire

import (
	"testing"

	"autoaccess.org/internal/roles"
)

func validRow() Row {
	return Row{
		Name:       "Jane Doe",
		Email:      "Jane.Doe@Company.com",
		Department: "Finance",
		Role:       "Analyst",
		JoinDate:   "2026-02-01",
		Status:     "Active",
	}
}

func TestValidateNormalizes(t *testing.T) {
	v := NewValidator(roles.Default())
	seen := map[string]struct{}{}

	norm, ferr := v.Validate(validRow(), seen)
	if ferr != nil {
		t.Fatalf("Validate: %v", ferr)
	}
	if norm.Email != "jane.doe@company.com" {
		t.Fatalf("email not normalized: %s", norm.Email)
	}
	if norm.Status != "active" {
		t.Fatalf("status not normalized: %s", norm.Status)
	}
	if norm.JoinDate.Year() != 2026 || norm.JoinDate.Month() != 2 {
		t.Fatalf("join date not parsed: %v", norm.JoinDate)
	}
	if _, ok := seen["jane.doe@company.com"]; !ok {
		t.Fatal("accepted email not tracked in batch set")
	}
}

func TestValidateChecksInOrder(t *testing.T) {
	v := NewValidator(roles.Default())

	cases := []struct {
		name   string
		mutate func(*Row)
		field  string
		reason string
	}{
		{"missing name", func(r *Row) { r.Name = " " }, "name", ReasonMissing},
		{"missing email", func(r *Row) { r.Email = "" }, "email", ReasonMissing},
		{"missing status", func(r *Row) { r.Status = "" }, "status", ReasonMissing},
		{"bad email", func(r *Row) { r.Email = "not-an-email" }, "email", ReasonInvalidEmail},
		{"unknown department", func(r *Row) { r.Department = "Sales" }, "department", ReasonUnknownDept},
		{"bad join date", func(r *Row) { r.JoinDate = "soon" }, "join_date", ReasonInvalidJoinDate},
		{"bad status", func(r *Row) { r.Status = "suspended" }, "status", ReasonInvalidStatus},
		// Presence is checked before syntax: an empty email with a bad
		// department still reports the email field first.
		{"presence before membership", func(r *Row) { r.Email = ""; r.Department = "Sales" }, "email", ReasonMissing},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			row := validRow()
			tc.mutate(&row)
			_, ferr := v.Validate(row, map[string]struct{}{})
			if ferr == nil {
				t.Fatal("expected validation failure")
			}
			if ferr.Field != tc.field || ferr.Reason != tc.reason {
				t.Fatalf("got (%s,%s), want (%s,%s)", ferr.Field, ferr.Reason, tc.field, tc.reason)
			}
		})
	}
}

func TestValidateDuplicateInBatch(t *testing.T) {
	v := NewValidator(roles.Default())
	seen := map[string]struct{}{}

	if _, ferr := v.Validate(validRow(), seen); ferr != nil {
		t.Fatalf("first occurrence rejected: %v", ferr)
	}

	dup := validRow()
	dup.Email = "JANE.DOE@company.com" // same address, different casing
	_, ferr := v.Validate(dup, seen)
	if ferr == nil || ferr.Reason != ReasonDuplicateInBatch {
		t.Fatalf("expected duplicate_in_batch, got %v", ferr)
	}
}

func TestValidateRowIsolation(t *testing.T) {
	v := NewValidator(roles.Default())
	seen := map[string]struct{}{}

	bad := validRow()
	bad.Email = "broken"
	if _, ferr := v.Validate(bad, seen); ferr == nil {
		t.Fatal("expected failure for malformed email")
	}

	// A failed row must not poison the batch set for later rows.
	if _, ferr := v.Validate(validRow(), seen); ferr != nil {
		t.Fatalf("valid row rejected after failed row: %v", ferr)
	}
}
