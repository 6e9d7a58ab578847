// Package notify delivers formatted messages to the outbound channel.
package notify

import (
	"context"

	"go.uber.org/multierr"
)

// Notifier sends a titled message
type Notifier interface {
	Send(ctx context.Context, title, body string) error
}

// Multi sends every message to all of its notifiers
type Multi []Notifier

// Send sends to every notifier and joins their errors
func (m Multi) Send(ctx context.Context, title, body string) error {
	var err error
	for _, n := range m {
		err = multierr.Append(err, n.Send(ctx, title, body))
	}
	return err
}
