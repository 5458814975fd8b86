package notify

import (
	"context"
	"errors"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"credit-marketplace/internal/domain"
	"credit-marketplace/internal/domain/ports/adapter"
	"credit-marketplace/internal/domain/ports/repository"
)

var _ adapter.Notifier = (*TelegramNotifier)(nil)

// TelegramNotifier delivers failure-path messages over a Telegram bot. User
// messages resolve the chat through the user's stored telegram id; admin
// alerts go to one configured chat.
type TelegramNotifier struct {
	bot         *tgbotapi.BotAPI
	users       repository.UserRepository
	adminChatID int64
	log         zerolog.Logger
}

func NewTelegramNotifier(token string, adminChatID int64, users repository.UserRepository, log zerolog.Logger) (*TelegramNotifier, error) {
	if token == "" {
		return nil, errors.New("telegram token is empty")
	}
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot init: %w", err)
	}
	return &TelegramNotifier{
		bot:         bot,
		users:       users,
		adminChatID: adminChatID,
		log:         log.With().Str("component", "telegram_notifier").Logger(),
	}, nil
}

func (n *TelegramNotifier) NotifyUser(ctx context.Context, userID, message string) error {
	u, err := n.users.FindByID(ctx, nil, userID)
	if err != nil {
		return err
	}
	if u.TelegramID == 0 {
		return fmt.Errorf("%w: user %s has no telegram chat", domain.ErrNotFound, userID)
	}
	msg := tgbotapi.NewMessage(u.TelegramID, message)
	if _, err := n.bot.Send(msg); err != nil {
		n.log.Warn().Err(err).Str("user_id", userID).Msg("telegram send failed")
		return err
	}
	return nil
}

func (n *TelegramNotifier) AlertAdmin(ctx context.Context, message string) error {
	if n.adminChatID == 0 {
		return errors.New("admin chat id not configured")
	}
	msg := tgbotapi.NewMessage(n.adminChatID, message)
	if _, err := n.bot.Send(msg); err != nil {
		n.log.Warn().Err(err).Msg("telegram admin alert failed")
		return err
	}
	return nil
}
