// Package alerts decouples outbound notifications from the hedge and risk
// core; callers depend on Notifier, never on a specific chat platform.
package alerts

import "context"

type Notifier interface {
	Notify(ctx context.Context, message string) error
}

type Noop struct{}

func (Noop) Notify(context.Context, string) error { return nil }
