// Package notify abstracts outbound operator alerts. The gateway and the
// heartbeat monitor emit plain-text messages ("service stopped",
// "listening port closed", outage and recovery notices); where those
// messages land is deployment policy, not core behavior.
package notify

import (
	"context"
	"errors"
	"log/slog"
)

// Notifier delivers one operator-facing message. Implementations must be
// safe for concurrent use.
type Notifier interface {
	Send(ctx context.Context, message string) error
}

// Func adapts a function to the Notifier interface.
type Func func(ctx context.Context, message string) error

// Send implements Notifier.
func (f Func) Send(ctx context.Context, message string) error {
	return f(ctx, message)
}

// Slog is the default notifier: alerts land in the structured log at
// warning level. Deployments wire richer channels through Multi.
type Slog struct {
	logger *slog.Logger
}

// NewSlog returns a Notifier writing to logger.
func NewSlog(logger *slog.Logger) *Slog {
	return &Slog{logger: logger.With(slog.String("component", "notify"))}
}

// Send implements Notifier. It never fails.
func (s *Slog) Send(ctx context.Context, message string) error {
	s.logger.WarnContext(ctx, "alert", slog.String("message", message))
	return nil
}

// Multi fans one message out to several notifiers. Every notifier is
// attempted; errors are joined.
type Multi []Notifier

// Send implements Notifier.
func (m Multi) Send(ctx context.Context, message string) error {
	var errs []error
	for _, n := range m {
		if err := n.Send(ctx, message); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
