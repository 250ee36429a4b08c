package reminder

import (
	"context"
	"fmt"
	"time"
)

// SessionSource returns pre-filtered candidate lists. The engine still
// classifies every returned session itself.
type SessionSource interface {
	FetchDueBeforeSessions(ctx context.Context) ([]Session, error)
	FetchDueAfterSessions(ctx context.Context) ([]Session, error)
}

type RegistrationSource interface {
	FetchRegisteredRecipientIDs(ctx context.Context, sessionID string) ([]string, error)
}

// EmailResolver reports ok=false when the identity has no address.
type EmailResolver interface {
	ResolveEmail(ctx context.Context, identity string) (email string, ok bool, err error)
}

// Deliverer renders and sends one notification. The content variant follows
// the recipient role and the notification type.
type Deliverer interface {
	Deliver(ctx context.Context, r Recipient, s Session, typ NotificationType) error
}

type DelivererFunc func(ctx context.Context, r Recipient, s Session, typ NotificationType) error

func (f DelivererFunc) Deliver(ctx context.Context, r Recipient, s Session, typ NotificationType) error {
	return f(ctx, r, s, typ)
}

// AuditEntry records an operator action.
type AuditEntry struct {
	ID        string    `json:"id"`
	At        time.Time `json:"at"`
	Action    string    `json:"action"`
	SessionID string    `json:"session_id,omitempty"`
	Type      string    `json:"type,omitempty"`
	Result    string    `json:"result"`
}

type Auditor interface {
	AppendAudit(ctx context.Context, e AuditEntry) error
}

// Observer receives dispatch outcomes, typically for metrics.
type Observer interface {
	Delivery(typ NotificationType, role Role, outcome Outcome, took time.Duration)
	Tick(r TickReport)
	Upstream(call string, err error)
	Swept(n int)
}

type Outcome string

const (
	OutcomeSent      Outcome = "sent"
	OutcomeFailed    Outcome = "failed"
	OutcomeDuplicate Outcome = "skipped_sent"
	OutcomeExhausted Outcome = "skipped_exhausted"
)

type nopObserver struct{}

func (nopObserver) Delivery(NotificationType, Role, Outcome, time.Duration) {}
func (nopObserver) Tick(TickReport)                                         {}
func (nopObserver) Upstream(string, error)                                  {}
func (nopObserver) Swept(int)                                               {}

// bounded runs fn with a timeout and returns when either fn finishes or the
// timeout fires, so a collaborator that ignores its context cannot stall the
// caller. A panic in fn becomes an error.
func bounded[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	go func() {
		var res result
		defer func() {
			if p := recover(); p != nil {
				res.err = fmt.Errorf("panic: %v", p)
			}
			done <- res
		}()
		res.v, res.err = fn(ctx)
	}()

	select {
	case res := <-done:
		return res.v, res.err
	case <-ctx.Done():
		var zero T
		return zero, fmt.Errorf("call abandoned: %w", ctx.Err())
	}
}
