package adapter

import "context"

// Notifier delivers failure-path messages. Implementations must be safe for
// concurrent use; delivery is best-effort and never blocks payment state.
type Notifier interface {
	NotifyUser(ctx context.Context, userID, message string) error
	AlertAdmin(ctx context.Context, message string) error
}
