package notify

import "context"

// Noop is used when no alert channel is configured; alerts still land
// in the logs through the engine's own logging.
type Noop struct{}

// Alert discards the notification.
func (Noop) Alert(ctx context.Context, title, message string) error {
	return nil
}
