package notify

import (
	"context"
	"sync"

	"credit-marketplace/internal/domain/ports/adapter"
)

var _ adapter.Notifier = (*NoopNotifier)(nil)

// NoopNotifier records messages in memory. Used in tests and when no
// Telegram token is configured.
type NoopNotifier struct {
	mu           sync.Mutex
	UserMessages map[string][]string
	AdminAlerts  []string
}

func NewNoopNotifier() *NoopNotifier {
	return &NoopNotifier{UserMessages: make(map[string][]string)}
}

func (n *NoopNotifier) NotifyUser(ctx context.Context, userID, message string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.UserMessages[userID] = append(n.UserMessages[userID], message)
	return nil
}

func (n *NoopNotifier) AlertAdmin(ctx context.Context, message string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.AdminAlerts = append(n.AdminAlerts, message)
	return nil
}
