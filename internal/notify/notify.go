// Package notify is the outbound message boundary. The core treats
// delivery failure as non-fatal: provisioning and notification are
// independent failure domains.
package notify

import (
	"context"
	"errors"
)

// ErrSendFailed wraps transport-level delivery failures.
var ErrSendFailed = errors.New("notify: send failed")

// Message is a plain-text outbound email.
type Message struct {
	To      string
	Subject string
	Body    string
}

// Sender delivers one message. Implementations must honor ctx
// cancellation and deadlines; a timeout is a recoverable per-call error.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// SenderFunc adapts a function to the Sender interface.
type SenderFunc func(ctx context.Context, msg Message) error

func (f SenderFunc) Send(ctx context.Context, msg Message) error { return f(ctx, msg) }
