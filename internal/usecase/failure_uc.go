package usecase

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"credit-marketplace/internal/domain"
	"credit-marketplace/internal/domain/model"
	"credit-marketplace/internal/domain/ports/adapter"
	"credit-marketplace/internal/domain/ports/repository"
	"credit-marketplace/internal/infra/metrics"
)

// Compile-time check
var _ FailureClassifierUseCase = (*failureUC)(nil)

// FailureClassifierUseCase decides and executes one action for a failing
// payment. Policy is evaluated in order, first match wins. Transience is a
// property of the cause: gateways wrap retriable conditions with
// domain.ErrTransientProvider, hard provider verdicts with
// domain.ErrTerminalFailure.
type FailureClassifierUseCase interface {
	HandlePaymentFailure(ctx context.Context, paymentID string, status model.PaymentStatus, cause error) (model.FailureAction, error)
	// HandleMonitoringFailure records a provider-unreachable error without
	// touching payment status; it only feeds metrics and alerting.
	HandleMonitoringFailure(ctx context.Context, paymentID string, cause error) error
}

type failureUC struct {
	payments repository.PaymentRepository
	users    repository.UserRepository
	failures repository.FailureRecordStore
	pending  repository.PendingPaymentsCache
	notifier adapter.Notifier

	retryLimit     int
	alertThreshold int

	log *zerolog.Logger
}

func NewFailureClassifierUseCase(
	payments repository.PaymentRepository,
	users repository.UserRepository,
	failures repository.FailureRecordStore,
	pending repository.PendingPaymentsCache,
	notifier adapter.Notifier,
	retryLimit, alertThreshold int,
	logger *zerolog.Logger,
) *failureUC {
	if retryLimit <= 0 {
		retryLimit = 3
	}
	if alertThreshold <= 0 {
		alertThreshold = 5
	}
	return &failureUC{
		payments:       payments,
		users:          users,
		failures:       failures,
		pending:        pending,
		notifier:       notifier,
		retryLimit:     retryLimit,
		alertThreshold: alertThreshold,
		log:            logger,
	}
}

func (u *failureUC) HandlePaymentFailure(ctx context.Context, paymentID string, status model.PaymentStatus, cause error) (model.FailureAction, error) {
	terminal := !errors.Is(cause, domain.ErrTransientProvider)

	prior, err := u.failures.Get(ctx, paymentID)
	if err != nil {
		u.log.Debug().Err(err).Str("payment_id", paymentID).Msg("failure record read failed")
	}
	attempts, err := u.failures.IncrementAttempts(ctx, paymentID, cause.Error(), terminal)
	if err != nil {
		// Without the record store we can still resolve the failure; treat the
		// observation as the first.
		attempts = 1
		if prior != nil {
			attempts = prior.Attempts + 1
		}
	}

	action, err := u.classify(ctx, paymentID, status, cause, prior, attempts, terminal)
	if err != nil {
		return action, err
	}
	metrics.IncFailureAction(string(action))
	u.log.Info().
		Str("payment_id", paymentID).
		Str("status", string(status)).
		Str("reason", cause.Error()).
		Int("attempts", attempts).
		Str("action", string(action)).
		Msg("payment failure classified")
	return action, nil
}

func (u *failureUC) classify(ctx context.Context, paymentID string, status model.PaymentStatus, cause error, prior *model.FailureRecord, attempts int, terminal bool) (model.FailureAction, error) {
	// 1. Transient failure under the retry budget: leave the payment in the
	// monitoring rotation and let the next poll re-check it.
	if !terminal && attempts <= u.retryLimit {
		return model.ActionRetried, nil
	}

	p, err := u.payments.FindByID(ctx, nil, paymentID)
	if err != nil {
		return model.ActionMarkedFailed, err
	}

	// 2. First terminal failure for this payment: tell the user, keep the
	// terminal status the reconciler persisted. Earlier transient records
	// don't count; only a prior terminal observation suppresses the message.
	// Detail stays in the logs; the user sees a generic message.
	if terminal && (prior == nil || !prior.Terminal) {
		msg := fmt.Sprintf("Your payment %s could not be completed (%s). Your balance was not charged.",
			p.ID, string(status))
		if err := u.notifier.NotifyUser(ctx, p.UserID, msg); err != nil {
			u.log.Warn().Err(err).Str("payment_id", paymentID).Msg("user notification failed")
		}
		return model.ActionUserNotified, nil
	}

	// 3. Repeated failures past the alert threshold escalate to the admin.
	if attempts > u.alertThreshold {
		msg := fmt.Sprintf("payment %s (user %s) failed %d times, last status %s: %v",
			p.ID, p.UserID, attempts, status, cause)
		if err := u.notifier.AlertAdmin(ctx, msg); err != nil {
			u.log.Warn().Err(err).Str("payment_id", paymentID).Msg("admin alert failed")
		}
		return model.ActionAdminAlerted, nil
	}

	// 4. Mark failed and release reserved resources.
	cleaned := false
	if err := u.pending.Remove(ctx, paymentID); err == nil {
		cleaned = true
	}
	if err := u.failures.Clear(ctx, paymentID); err != nil {
		u.log.Debug().Err(err).Str("payment_id", paymentID).Msg("failure record clear failed")
	}
	if cleaned {
		return model.ActionCleanupCompleted, nil
	}
	return model.ActionMarkedFailed, nil
}

func (u *failureUC) HandleMonitoringFailure(ctx context.Context, paymentID string, cause error) error {
	// Unreachable providers are transient by definition; the record never
	// turns terminal here.
	attempts, err := u.failures.IncrementAttempts(ctx, paymentID, cause.Error(), false)
	if err != nil {
		u.log.Debug().Err(err).Str("payment_id", paymentID).Msg("failure record write failed")
	}
	u.log.Warn().
		Str("payment_id", paymentID).
		Int("attempts", attempts).
		Str("error", cause.Error()).
		Msg("provider unreachable during monitoring")

	if attempts > 0 && attempts%u.alertThreshold == 0 {
		msg := fmt.Sprintf("provider unreachable for payment %s (%d consecutive cycles): %v",
			paymentID, attempts, cause)
		if err := u.notifier.AlertAdmin(ctx, msg); err != nil {
			u.log.Warn().Err(err).Msg("admin alert failed")
		}
	}
	return nil
}
