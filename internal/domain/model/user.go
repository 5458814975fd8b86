package model

import "time"

// User is the marketplace account holding a prepaid credit balance.
type User struct {
	ID         string // UUID
	Username   string
	TelegramID int64 // notification channel; 0 when unlinked
	CreatedAt  time.Time
}
