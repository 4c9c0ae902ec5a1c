// Package provision drives the onboarding/offboarding batch: validate
// rows, provision directory accounts, resolve access, request
// notifications, and record every action.
package provision

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"autoaccess.org/internal/audit"
	"autoaccess.org/internal/directory"
	"autoaccess.org/internal/hire"
	"autoaccess.org/internal/ids"
	"autoaccess.org/internal/notify"
	"autoaccess.org/internal/obs"
	"autoaccess.org/internal/roles"
)

// Per-row outcomes. Every submitted row yields exactly one.
const (
	OutcomeCreated     = "created"
	OutcomeUpdated     = "updated"
	OutcomeDeactivated = "deactivated"
	OutcomeSkipped     = "skipped"
	OutcomeError       = "error"
)

const (
	// maxUsernameCandidates bounds the disambiguation loop; hitting it
	// means the directory is effectively saturated for that base name.
	maxUsernameCandidates = 1000

	defaultCallTimeout = 10 * time.Second
)

// RowResult is the outcome of one submitted row, in submission order.
type RowResult struct {
	Line     int      `json:"line"`
	Email    string   `json:"email,omitempty"`
	Username string   `json:"username,omitempty"`
	Outcome  string   `json:"outcome"`
	Field    string   `json:"field,omitempty"`
	Reason   string   `json:"reason,omitempty"`
	Notes    []string `json:"notes,omitempty"`
}

// BatchResult aggregates one pipeline run.
type BatchResult struct {
	ID          string      `json:"id"`
	StartedAt   time.Time   `json:"started_at"`
	FinishedAt  time.Time   `json:"finished_at"`
	Created     int         `json:"created"`
	Updated     int         `json:"updated"`
	Deactivated int         `json:"deactivated"`
	Skipped     int         `json:"skipped"`
	Errors      int         `json:"errors"`
	Rows        []RowResult `json:"rows"`
}

func (b *BatchResult) counts() notify.SummaryCounts {
	return notify.SummaryCounts{
		Created:     b.Created,
		Updated:     b.Updated,
		Deactivated: b.Deactivated,
		Skipped:     b.Skipped,
		Errors:      b.Errors,
	}
}

// Pipeline processes hire batches. Rows are handled sequentially so
// username disambiguation and in-batch duplicate detection stay
// deterministic.
type Pipeline struct {
	store     directory.Store
	matrix    *roles.Matrix
	validator *hire.Validator
	sender    notify.Sender
	rec       audit.Recorder

	now           func() time.Time
	newCredential func() (string, error)
	callTimeout   time.Duration
	summaryTo     []string
	adminEmail    string
}

// Option configures Pipeline behavior.
type Option func(*Pipeline) error

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(p *Pipeline) error {
		if fn == nil {
			return errors.New("provision: clock must not be nil")
		}
		p.now = fn
		return nil
	}
}

// WithCredentialSource overrides temporary-password generation.
func WithCredentialSource(fn func() (string, error)) Option {
	return func(p *Pipeline) error {
		if fn == nil {
			return errors.New("provision: credential source must not be nil")
		}
		p.newCredential = fn
		return nil
	}
}

// WithCallTimeout bounds each directory or notification call.
func WithCallTimeout(d time.Duration) Option {
	return func(p *Pipeline) error {
		if d <= 0 {
			return errors.New("provision: call timeout must be greater than zero")
		}
		p.callTimeout = d
		return nil
	}
}

// WithSummaryRecipients sets where per-batch summary emails go.
func WithSummaryRecipients(addrs ...string) Option {
	return func(p *Pipeline) error {
		p.summaryTo = append([]string(nil), addrs...)
		return nil
	}
}

// WithAdminEmail sets the recipient of validation reports for batches
// that contained rejected rows.
func WithAdminEmail(addr string) Option {
	return func(p *Pipeline) error {
		p.adminEmail = addr
		return nil
	}
}

// NewPipeline constructs a Pipeline over its collaborators.
func NewPipeline(store directory.Store, matrix *roles.Matrix, sender notify.Sender, rec audit.Recorder, opts ...Option) (*Pipeline, error) {
	if store == nil {
		return nil, errors.New("provision: store is required")
	}
	if matrix == nil {
		return nil, errors.New("provision: role matrix is required")
	}
	if sender == nil {
		return nil, errors.New("provision: sender is required")
	}
	p := &Pipeline{
		store:         store,
		matrix:        matrix,
		validator:     hire.NewValidator(matrix),
		sender:        sender,
		rec:           rec,
		now:           time.Now,
		newCredential: NewTemporaryPassword,
		callTimeout:   defaultCallTimeout,
	}
	for _, opt := range opts {
		if err := opt(p); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// Process runs one batch. Every row yields exactly one RowResult; a
// failing row never aborts the rest. Cancellation is honored between
// rows only, so no account is left half-updated. The returned error is
// non-nil only for cancellation, and the partial result is still valid.
func (p *Pipeline) Process(ctx context.Context, rows []hire.Row) (*BatchResult, error) {
	batch := &BatchResult{
		ID:        ids.New(),
		StartedAt: p.now().UTC(),
		Rows:      make([]RowResult, 0, len(rows)),
	}
	ctx = audit.WithBatchID(ctx, batch.ID)

	seen := make(map[string]struct{}, len(rows))
	for i, raw := range rows {
		if err := ctx.Err(); err != nil {
			batch.FinishedAt = p.now().UTC()
			return batch, err
		}
		res := p.processRow(ctx, i+1, raw, seen)
		batch.Rows = append(batch.Rows, res)
		switch res.Outcome {
		case OutcomeCreated:
			batch.Created++
		case OutcomeUpdated:
			batch.Updated++
		case OutcomeDeactivated:
			batch.Deactivated++
		case OutcomeSkipped:
			batch.Skipped++
		default:
			batch.Errors++
		}
		obs.ObserveRow(res.Outcome)
	}
	batch.FinishedAt = p.now().UTC()

	p.sendSummary(ctx, batch)
	return batch, nil
}

func (p *Pipeline) processRow(ctx context.Context, line int, raw hire.Row, seen map[string]struct{}) RowResult {
	row, ferr := p.validator.Validate(raw, seen)
	if ferr != nil {
		return RowResult{
			Line:    line,
			Email:   raw.Email,
			Outcome: OutcomeError,
			Field:   ferr.Field,
			Reason:  ferr.Reason,
		}
	}

	existing, err := p.getByEmail(ctx, row.Email)
	switch {
	case err == nil && row.Status == directory.StatusActive:
		return p.updateAccount(ctx, line, row, existing)
	case err == nil && row.Status == directory.StatusInactive:
		return p.deactivateAccount(ctx, line, row, existing)
	case errors.Is(err, directory.ErrNotFound) && row.Status == directory.StatusActive:
		return p.createAccount(ctx, line, row)
	case errors.Is(err, directory.ErrNotFound):
		return RowResult{Line: line, Email: row.Email, Outcome: OutcomeSkipped, Reason: "no_such_account"}
	default:
		return RowResult{Line: line, Email: row.Email, Outcome: OutcomeError, Reason: "store_error", Notes: []string{err.Error()}}
	}
}

func (p *Pipeline) createAccount(ctx context.Context, line int, row hire.NormalizedRow) RowResult {
	access, err := p.matrix.Resolve(row.Department, row.Role)
	if err != nil {
		return RowResult{Line: line, Email: row.Email, Outcome: OutcomeError, Reason: "role_resolve", Notes: []string{err.Error()}}
	}
	password, err := p.newCredential()
	if err != nil {
		return RowResult{Line: line, Email: row.Email, Outcome: OutcomeError, Reason: "credential", Notes: []string{err.Error()}}
	}
	hash, err := HashCredential(password)
	if err != nil {
		return RowResult{Line: line, Email: row.Email, Outcome: OutcomeError, Reason: "credential", Notes: []string{err.Error()}}
	}

	base := DeriveUsername(row.Name)
	if base == "" {
		return RowResult{Line: line, Email: row.Email, Outcome: OutcomeError, Field: "name", Reason: "unusable_name"}
	}

	now := p.now().UTC()
	var created *directory.Account
	for n := 1; n <= maxUsernameCandidates; n++ {
		candidate := usernameCandidate(base, n)
		if taken, err := p.usernameTaken(ctx, candidate); err != nil {
			return RowResult{Line: line, Email: row.Email, Outcome: OutcomeError, Reason: "store_error", Notes: []string{err.Error()}}
		} else if taken {
			continue
		}
		acc := &directory.Account{
			Username:       candidate,
			Name:           row.Name,
			Email:          row.Email,
			Department:     row.Department,
			Role:           row.Role,
			OU:             access.OU,
			Groups:         access.Groups,
			Permissions:    access.Permissions,
			Status:         directory.StatusActive,
			CredentialHash: hash,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		err := p.withTimeout(ctx, func(cctx context.Context) error {
			return p.store.Create(cctx, acc)
		})
		if errors.Is(err, directory.ErrConflict) {
			// Lost the race for this candidate; try the next suffix.
			continue
		}
		if err != nil {
			return RowResult{Line: line, Email: row.Email, Outcome: OutcomeError, Reason: "store_error", Notes: []string{err.Error()}}
		}
		created = acc
		break
	}
	if created == nil {
		return RowResult{Line: line, Email: row.Email, Outcome: OutcomeError, Field: "name", Reason: "username_exhausted"}
	}

	audit.Record(ctx, p.rec, &audit.Entry{
		Action:  audit.ActionCreateUser,
		Subject: created.Username,
		Details: map[string]string{
			"email":      created.Email,
			"department": created.Department,
			"role":       created.Role,
			"groups":     strconv.Itoa(len(created.Groups)),
		},
	})

	res := RowResult{Line: line, Email: created.Email, Username: created.Username, Outcome: OutcomeCreated}
	p.notifyRow(ctx, &res, created.Email,
		notify.WelcomeMessage(created.Email, created.Name, created.Username, password, created.Department, created.Role))
	return res
}

func (p *Pipeline) updateAccount(ctx context.Context, line int, row hire.NormalizedRow, acc *directory.Account) RowResult {
	access, err := p.matrix.Resolve(row.Department, row.Role)
	if err != nil {
		return RowResult{Line: line, Email: row.Email, Outcome: OutcomeError, Reason: "role_resolve", Notes: []string{err.Error()}}
	}

	acc.Name = row.Name
	acc.Department = row.Department
	acc.Role = row.Role
	acc.OU = access.OU
	acc.Groups = access.Groups
	acc.Permissions = access.Permissions
	acc.Status = directory.StatusActive
	acc.UpdatedAt = p.now().UTC()

	err = p.withTimeout(ctx, func(cctx context.Context) error {
		return p.store.Update(cctx, acc)
	})
	if err != nil {
		return RowResult{Line: line, Email: row.Email, Outcome: OutcomeError, Reason: "store_error", Notes: []string{err.Error()}}
	}

	audit.Record(ctx, p.rec, &audit.Entry{
		Action:  audit.ActionUpdateUser,
		Subject: acc.Username,
		Details: map[string]string{
			"email":      acc.Email,
			"department": acc.Department,
			"role":       acc.Role,
		},
	})

	res := RowResult{Line: line, Email: acc.Email, Username: acc.Username, Outcome: OutcomeUpdated}
	p.notifyRow(ctx, &res, acc.Email,
		notify.AccessUpdateMessage(acc.Email, acc.Name, acc.Username, acc.Department, acc.Role))
	return res
}

func (p *Pipeline) deactivateAccount(ctx context.Context, line int, row hire.NormalizedRow, acc *directory.Account) RowResult {
	acc.Status = directory.StatusInactive
	acc.Groups = []string{}
	acc.Permissions = []string{}
	acc.UpdatedAt = p.now().UTC()

	err := p.withTimeout(ctx, func(cctx context.Context) error {
		return p.store.Update(cctx, acc)
	})
	if err != nil {
		return RowResult{Line: line, Email: row.Email, Outcome: OutcomeError, Reason: "store_error", Notes: []string{err.Error()}}
	}

	audit.Record(ctx, p.rec, &audit.Entry{
		Action:  audit.ActionDeactivateUser,
		Subject: acc.Username,
		Details: map[string]string{"email": acc.Email},
	})
	return RowResult{Line: line, Email: acc.Email, Username: acc.Username, Outcome: OutcomeDeactivated}
}

// notifyRow dispatches a best-effort notification. A transport failure is
// recorded and noted on the row but never rolls back the account change.
func (p *Pipeline) notifyRow(ctx context.Context, res *RowResult, email string, msg notify.Message) {
	err := p.withTimeout(ctx, func(cctx context.Context) error {
		return p.sender.Send(cctx, msg)
	})
	if err != nil {
		audit.Record(ctx, p.rec, &audit.Entry{
			Action:  audit.ActionEmailFailed,
			Subject: email,
			Details: map[string]string{"subject_line": msg.Subject, "error": err.Error()},
		})
		res.Notes = append(res.Notes, "email_failed")
		return
	}
	audit.Record(ctx, p.rec, &audit.Entry{
		Action:  audit.ActionEmailSent,
		Subject: email,
		Details: map[string]string{"subject_line": msg.Subject},
	})
}

// sendSummary reports batch counts once per run, zero counts included.
// A cancelled request context must not suppress it, so delivery runs on a
// fresh context bounded by the call timeout.
func (p *Pipeline) sendSummary(ctx context.Context, batch *BatchResult) {
	sctx := audit.WithBatchID(context.Background(), batch.ID)
	counts := batch.counts()
	for _, to := range p.summaryTo {
		err := p.withTimeout(sctx, func(cctx context.Context) error {
			return p.sender.Send(cctx, notify.SummaryMessage(to, counts, batch.FinishedAt))
		})
		if err != nil {
			audit.Record(sctx, p.rec, &audit.Entry{
				Action:  audit.ActionEmailFailed,
				Subject: to,
				Details: map[string]string{"kind": "summary", "error": err.Error()},
			})
			continue
		}
	}
	audit.Record(sctx, p.rec, &audit.Entry{
		Action:  audit.ActionSummarySent,
		Subject: batch.ID,
		Details: map[string]string{
			"created":     strconv.Itoa(batch.Created),
			"updated":     strconv.Itoa(batch.Updated),
			"deactivated": strconv.Itoa(batch.Deactivated),
			"skipped":     strconv.Itoa(batch.Skipped),
			"errors":      strconv.Itoa(batch.Errors),
		},
	})

	if p.adminEmail != "" && batch.Errors > 0 {
		valid := len(batch.Rows) - batch.Errors
		err := p.withTimeout(sctx, func(cctx context.Context) error {
			return p.sender.Send(cctx, notify.ValidationReportMessage(p.adminEmail, valid, batch.Errors, batch.FinishedAt))
		})
		if err != nil {
			audit.Record(sctx, p.rec, &audit.Entry{
				Action:  audit.ActionEmailFailed,
				Subject: p.adminEmail,
				Details: map[string]string{"kind": "validation_report", "error": err.Error()},
			})
		}
	}
}

func (p *Pipeline) getByEmail(ctx context.Context, email string) (*directory.Account, error) {
	var acc *directory.Account
	err := p.withTimeout(ctx, func(cctx context.Context) error {
		var err error
		acc, err = p.store.GetByEmail(cctx, email)
		return err
	})
	return acc, err
}

func (p *Pipeline) usernameTaken(ctx context.Context, username string) (bool, error) {
	err := p.withTimeout(ctx, func(cctx context.Context) error {
		_, err := p.store.GetByUsername(cctx, username)
		return err
	})
	if errors.Is(err, directory.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lookup username %s: %w", username, err)
	}
	return true, nil
}

func (p *Pipeline) withTimeout(ctx context.Context, fn func(context.Context) error) error {
	cctx, cancel := context.WithTimeout(ctx, p.callTimeout)
	defer cancel()
	return fn(cctx)
}
