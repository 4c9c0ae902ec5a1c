// Package otp implements the one-time-code login state machine. Per
// email the lifecycle is NONE → ISSUED → (VERIFIED | EXPIRED | FAILED);
// a challenge is destroyed on successful verification or expiry, and at
// most one challenge is outstanding per email.
package otp

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"autoaccess.org/internal/audit"
	"autoaccess.org/internal/directory"
	"autoaccess.org/internal/notify"
	"autoaccess.org/internal/obs"
)

const (
	defaultTTL         = 5 * time.Minute
	defaultMaxAttempts = 5
)

// Verification failure reasons. ErrExpiredOrMissing deliberately does not
// distinguish "never issued" from "expired".
var (
	ErrNoActiveAccount  = errors.New("otp: no active account for email")
	ErrExpiredOrMissing = errors.New("otp: expired_or_missing")
	ErrAlreadyUsed      = errors.New("otp: already_used")
	ErrMismatch         = errors.New("otp: mismatch")
	ErrLocked           = errors.New("otp: locked")
)

// Reason maps a verification error to its stable reason code. The code is
// all a caller may learn; the expected code itself is never echoed.
func Reason(err error) string {
	switch {
	case errors.Is(err, ErrExpiredOrMissing):
		return "expired_or_missing"
	case errors.Is(err, ErrAlreadyUsed):
		return "already_used"
	case errors.Is(err, ErrMismatch):
		return "mismatch"
	case errors.Is(err, ErrLocked):
		return "locked"
	default:
		return "error"
	}
}

type challenge struct {
	code      string
	issuedAt  time.Time
	expiresAt time.Time
	consumed  bool
	attempts  int
}

// Authenticator issues and verifies one-time codes. The challenge store
// is in-memory and session-scoped; the mutex makes check-then-consume
// atomic so two concurrent verifies cannot both succeed on one code.
type Authenticator struct {
	mu         sync.Mutex
	challenges map[string]*challenge

	dir    directory.Store
	sender notify.Sender
	rec    audit.Recorder

	now         func() time.Time
	ttl         time.Duration
	maxAttempts int
	codeFn      func() (string, error)
}

// Option configures Authenticator behavior.
type Option func(*Authenticator)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(a *Authenticator) {
		if fn != nil {
			a.now = fn
		}
	}
}

// WithTTL configures challenge lifetime.
func WithTTL(ttl time.Duration) Option {
	return func(a *Authenticator) {
		if ttl > 0 {
			a.ttl = ttl
		}
	}
}

// WithMaxAttempts bounds wrong-code retries before lockout.
func WithMaxAttempts(n int) Option {
	return func(a *Authenticator) {
		if n > 0 {
			a.maxAttempts = n
		}
	}
}

// New constructs an Authenticator over the directory.
func New(dir directory.Store, sender notify.Sender, rec audit.Recorder, opts ...Option) *Authenticator {
	a := &Authenticator{
		challenges:  make(map[string]*challenge),
		dir:         dir,
		sender:      sender,
		rec:         rec,
		now:         time.Now,
		ttl:         defaultTTL,
		maxAttempts: defaultMaxAttempts,
		codeFn:      generateCode,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Issue generates a fresh code for an active account and requests
// delivery. Any prior challenge for the email is invalidated immediately.
// The code is returned for internal collaborators only and must never be
// exposed through the API surface.
func (a *Authenticator) Issue(ctx context.Context, email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	acc, err := a.dir.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, directory.ErrNotFound) {
			return "", ErrNoActiveAccount
		}
		return "", fmt.Errorf("otp: lookup account: %w", err)
	}
	if acc.Status != directory.StatusActive {
		return "", ErrNoActiveAccount
	}

	code, err := a.codeFn()
	if err != nil {
		return "", fmt.Errorf("otp: generate code: %w", err)
	}

	now := a.now()
	a.mu.Lock()
	a.challenges[email] = &challenge{
		code:      code,
		issuedAt:  now,
		expiresAt: now.Add(a.ttl),
	}
	a.mu.Unlock()

	audit.Record(ctx, a.rec, &audit.Entry{
		Action:  audit.ActionOTPIssued,
		Subject: email,
		Details: map[string]string{"expires_at": now.Add(a.ttl).UTC().Format(time.RFC3339)},
	})
	obs.ObserveOTP("issued")

	if err := a.sender.Send(ctx, notify.OTPMessage(email, code, a.ttl)); err != nil {
		// Best-effort delivery: the challenge stands, the failure is recorded.
		audit.Record(ctx, a.rec, &audit.Entry{
			Action:  audit.ActionEmailFailed,
			Subject: email,
			Details: map[string]string{"kind": "otp", "error": err.Error()},
		})
	} else {
		audit.Record(ctx, a.rec, &audit.Entry{
			Action:  audit.ActionEmailSent,
			Subject: email,
			Details: map[string]string{"kind": "otp"},
		})
	}
	return code, nil
}

// Verify checks a submitted code. nil means success; otherwise one of the
// reason sentinels. A mismatch keeps the challenge alive for retry until
// expiry or lockout; success consumes it so a code verifies at most once.
func (a *Authenticator) Verify(ctx context.Context, email, submitted string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	submitted = strings.TrimSpace(submitted)

	a.mu.Lock()
	defer a.mu.Unlock()

	ch, ok := a.challenges[email]
	if !ok {
		return a.fail(ctx, email, ErrExpiredOrMissing)
	}
	if a.now().After(ch.expiresAt) {
		delete(a.challenges, email)
		return a.fail(ctx, email, ErrExpiredOrMissing)
	}
	if ch.consumed {
		return a.fail(ctx, email, ErrAlreadyUsed)
	}
	if ch.attempts >= a.maxAttempts {
		return a.fail(ctx, email, ErrLocked)
	}
	if subtle.ConstantTimeCompare([]byte(ch.code), []byte(submitted)) != 1 {
		ch.attempts++
		return a.fail(ctx, email, ErrMismatch)
	}

	ch.consumed = true
	audit.Record(ctx, a.rec, &audit.Entry{
		Action:  audit.ActionOTPVerified,
		Subject: email,
	})
	obs.ObserveOTP("verified")
	return nil
}

// EndSession drops any challenge for the email, mirroring logout: OTP
// state never outlives the session.
func (a *Authenticator) EndSession(email string) {
	email = strings.ToLower(strings.TrimSpace(email))
	a.mu.Lock()
	delete(a.challenges, email)
	a.mu.Unlock()
}

func (a *Authenticator) fail(ctx context.Context, email string, reason error) error {
	audit.Record(ctx, a.rec, &audit.Entry{
		Action:  audit.ActionOTPFailed,
		Subject: email,
		Details: map[string]string{"reason": Reason(reason)},
	})
	obs.ObserveOTP("failed")
	return reason
}

// generateCode produces a fixed-width 6-digit code from a
// cryptographically strong source.
func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()+100000), nil
}
