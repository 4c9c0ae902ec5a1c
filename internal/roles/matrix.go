// Package roles holds the static department-to-access configuration.
// The matrix is loaded once at process start and never mutated afterwards;
// a malformed matrix is a fatal configuration error, never a request error.
package roles

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
)

var (
	// ErrConfig marks matrix load/validation failures. These are
	// startup-fatal and must never surface at request time.
	ErrConfig = errors.New("roles: invalid configuration")

	// ErrUnknownDepartment indicates Resolve was called with a department
	// the validator should have rejected. A programming error, not user input.
	ErrUnknownDepartment = errors.New("roles: unknown department")
)

// Access is the set of directory groups and permissions granted to a
// department, plus its organizational-unit placement.
type Access struct {
	Groups      []string `json:"groups"`
	Permissions []string `json:"permissions"`
	OU          string   `json:"ou,omitempty"`
}

// Matrix maps department names to their access grants. Immutable after
// construction; Resolve returns defensive copies.
type Matrix struct {
	entries map[string]Access
}

// New validates entries eagerly and builds a Matrix.
func New(entries map[string]Access) (*Matrix, error) {
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: matrix has no departments", ErrConfig)
	}
	m := &Matrix{entries: make(map[string]Access, len(entries))}
	for dept, access := range entries {
		dept = strings.TrimSpace(dept)
		if dept == "" {
			return nil, fmt.Errorf("%w: empty department name", ErrConfig)
		}
		groups, err := cleanSet(access.Groups)
		if err != nil {
			return nil, fmt.Errorf("%w: department %s groups: %v", ErrConfig, dept, err)
		}
		perms, err := cleanSet(access.Permissions)
		if err != nil {
			return nil, fmt.Errorf("%w: department %s permissions: %v", ErrConfig, dept, err)
		}
		m.entries[dept] = Access{
			Groups:      groups,
			Permissions: perms,
			OU:          strings.TrimSpace(access.OU),
		}
	}
	return m, nil
}

// Load reads a JSON matrix file mapping department name to access grants.
func Load(path string) (*Matrix, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrConfig, path, err)
	}
	var entries map[string]Access
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", ErrConfig, path, err)
	}
	return New(entries)
}

// Default returns the built-in matrix mirroring the shipped configuration.
func Default() *Matrix {
	m, err := New(map[string]Access{
		"Finance": {
			Groups:      []string{"finance_full"},
			Permissions: []string{"read_ledger", "post_journal", "view_reports"},
			OU:          "OU=Finance,OU=Users,DC=company,DC=com",
		},
		"HR": {
			Groups:      []string{"hr_portal"},
			Permissions: []string{"view_hr_portal", "create_tickets"},
			OU:          "OU=HR,OU=Users,DC=company,DC=com",
		},
		"Marketing": {
			Groups:      []string{"mkt_basic"},
			Permissions: []string{"view_campaigns"},
			OU:          "OU=Marketing,OU=Users,DC=company,DC=com",
		},
		"IT": {
			Groups:      []string{"it_engineers"},
			Permissions: []string{"admin_console", "deploy_access"},
			OU:          "OU=IT,OU=Users,DC=company,DC=com",
		},
		"Intern": {
			Groups:      []string{"limited_access"},
			Permissions: []string{"read_only"},
			OU:          "OU=Interns,OU=Users,DC=company,DC=com",
		},
	})
	if err != nil {
		panic(err) // built-in matrix is known valid
	}
	return m
}

// Has reports whether department exists in the matrix.
func (m *Matrix) Has(department string) bool {
	_, ok := m.entries[department]
	return ok
}

// Departments returns the configured department names, sorted.
func (m *Matrix) Departments() []string {
	out := make([]string, 0, len(m.entries))
	for dept := range m.entries {
		out = append(out, dept)
	}
	sort.Strings(out)
	return out
}

// Resolve maps a validated department and role to its access grants.
// Unknown departments fail fast: the row validator guarantees membership,
// so hitting ErrUnknownDepartment here means a caller bypassed validation.
func (m *Matrix) Resolve(department, role string) (Access, error) {
	access, ok := m.entries[department]
	if !ok {
		return Access{}, fmt.Errorf("%w: %s", ErrUnknownDepartment, department)
	}
	// Role currently refines nothing beyond the department grant; it is
	// recorded on the account and kept in the audit trail.
	_ = role
	return Access{
		Groups:      append([]string(nil), access.Groups...),
		Permissions: append([]string(nil), access.Permissions...),
		OU:          access.OU,
	}, nil
}

func cleanSet(values []string) ([]string, error) {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			return nil, errors.New("empty entry")
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out, nil
}
