package ports

import "context"

// Notifier delivers operator alerts for conditions the bot cannot
// resolve on its own (reconciliation mismatch, exit confirmation
// timeout). Delivery failures are logged by callers, never fatal.
type Notifier interface {
	Alert(ctx context.Context, title, message string) error
}
