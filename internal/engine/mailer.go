package engine

import (
	"context"
	"log/slog"
)

// Email is one outbound message emitted by a SendEmail node.
type Email struct {
	To      string
	Subject string
	Body    string
}

// Mailer delivers emails. The engine's contract with any implementation
// is at-least-once: a crashed worker may re-run a pending SendEmail
// step, so downstreams that cannot accept duplicates should dedupe on
// the step's (instance id, effective node id) idempotency key.
type Mailer interface {
	Send(ctx context.Context, email Email) error
}

// LogMailer is the default Mailer: it emits the email record to the
// structured log. A real delivery collaborator replaces it without
// touching the executor.
type LogMailer struct{}

// Send implements Mailer.
func (LogMailer) Send(_ context.Context, email Email) error {
	slog.Info("email sent",
		"to", email.To,
		"subject", email.Subject,
		"body", email.Body,
	)
	return nil
}
