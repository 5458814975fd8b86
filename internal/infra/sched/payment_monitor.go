package sched

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"credit-marketplace/internal/config"
	"credit-marketplace/internal/domain"
	"credit-marketplace/internal/domain/model"
	"credit-marketplace/internal/domain/ports/adapter"
	"credit-marketplace/internal/domain/ports/repository"
	"credit-marketplace/internal/infra/metrics"
	red "credit-marketplace/internal/infra/redis"
	"credit-marketplace/internal/infra/worker"
	"credit-marketplace/internal/retry"
	"credit-marketplace/internal/usecase"
)

const monitorLockKey = "monitor:cycle"

// stopGrace bounds how long Stop waits for an in-flight cycle before
// cancelling it outright.
const stopGrace = 30 * time.Second

// PaymentMonitor is the active half of reconciliation: it periodically polls
// providers for every non-terminal payment and feeds observations through the
// same reconcile path webhooks use. Missed or dropped webhooks are therefore
// only a latency problem, never a correctness one.
type PaymentMonitor struct {
	payments   repository.PaymentRepository
	gateways   map[model.PaymentProvider]adapter.PaymentGateway
	reconciler usecase.ReconcileUseCase
	classifier usecase.FailureClassifierUseCase
	pool       *worker.Pool
	pending    repository.PendingPaymentsCache // optional; nil skips the sweep
	locker     red.Locker                      // optional; nil means single-instance deployment
	cfg        config.MonitorConfig
	log        zerolog.Logger

	trigger  chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
	cancel   context.CancelFunc
	done     chan struct{}
}

func NewPaymentMonitor(
	payments repository.PaymentRepository,
	gateways map[model.PaymentProvider]adapter.PaymentGateway,
	reconciler usecase.ReconcileUseCase,
	classifier usecase.FailureClassifierUseCase,
	pool *worker.Pool,
	pending repository.PendingPaymentsCache,
	locker red.Locker,
	cfg config.MonitorConfig,
	logger zerolog.Logger,
) *PaymentMonitor {
	return &PaymentMonitor{
		payments:   payments,
		gateways:   gateways,
		reconciler: reconciler,
		classifier: classifier,
		pool:       pool,
		pending:    pending,
		locker:     locker,
		cfg:        cfg,
		log:        logger.With().Str("component", "payment_monitor").Logger(),
		trigger:    make(chan struct{}, 1),
	}
}

// Start launches the monitoring loop. Call Stop to halt it; Stop waits for an
// in-flight cycle to finish.
func (m *PaymentMonitor) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	m.stop = make(chan struct{})
	m.done = make(chan struct{})

	go func() {
		defer close(m.done)
		m.log.Info().Dur("interval", m.cfg.Interval).Msg("starting payment monitor")
		ticker := time.NewTicker(m.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				m.log.Info().Msg("stopping payment monitor")
				return
			case <-m.stop:
				m.log.Info().Msg("stopping payment monitor")
				return
			case <-ticker.C:
				m.runCycle(ctx)
			case <-m.trigger:
				m.runCycle(ctx)
			}
		}
	}()
}

// Stop signals the loop and lets an in-flight cycle run to completion, so
// shutdowns do not abort provider calls and log them as monitoring failures.
// The cycle context is cancelled only after the grace period expires.
func (m *PaymentMonitor) Stop() {
	if m.stop == nil {
		return
	}
	m.stopOnce.Do(func() { close(m.stop) })
	select {
	case <-m.done:
	case <-time.After(stopGrace):
		m.cancel()
		<-m.done
	}
	m.cancel()
}

// CheckNow requests an immediate cycle. Non-blocking; a no-op when a manual
// trigger is already queued.
func (m *PaymentMonitor) CheckNow() {
	select {
	case m.trigger <- struct{}{}:
	default:
	}
}

func (m *PaymentMonitor) runCycle(ctx context.Context) {
	if m.locker != nil {
		token, err := m.locker.TryLock(ctx, monitorLockKey, m.cfg.Interval)
		if err != nil {
			if !errors.Is(err, domain.ErrLockNotAcquired) {
				m.log.Warn().Err(err).Msg("monitor lock error")
			}
			return // another replica owns this cycle
		}
		defer func() { _ = m.locker.Unlock(ctx, monitorLockKey, token) }()
	}

	started := time.Now()
	batch, err := m.payments.ListNonTerminal(ctx, nil, time.Now(), m.cfg.BatchSize)
	if err != nil {
		m.log.Error().Err(err).Msg("list non-terminal payments")
		return
	}
	batch = m.appendOwed(ctx, batch)

	var wg sync.WaitGroup
	for _, p := range batch {
		p := p
		wg.Add(1)
		task := func(taskCtx context.Context) error {
			defer wg.Done()
			m.checkPayment(taskCtx, p)
			return nil
		}
		if err := m.pool.Submit(task); err != nil {
			// Saturated pool: do the work on the cycle goroutine instead.
			_ = task(ctx)
		}
	}
	wg.Wait()

	metrics.IncMonitorCycle()
	metrics.ObserveMonitorCycle(time.Since(started).Seconds())
	m.log.Debug().Int("checked", len(batch)).Dur("took", time.Since(started)).Msg("monitor cycle done")
}

// appendOwed adds payments from the pending set that the non-terminal scan
// misses. A finished payment stays in the set until its credit lands, so an
// allocation that failed after the terminal status committed keeps getting
// retried here.
func (m *PaymentMonitor) appendOwed(ctx context.Context, batch []*model.Payment) []*model.Payment {
	if m.pending == nil {
		return batch
	}
	ids, err := m.pending.List(ctx)
	if err != nil {
		m.log.Debug().Err(err).Msg("pending set unavailable")
		return batch
	}
	seen := make(map[string]struct{}, len(batch))
	for _, p := range batch {
		seen[p.ID] = struct{}{}
	}
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		p, err := m.payments.FindByID(ctx, nil, id)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				// Stale set entry.
				_ = m.pending.Remove(ctx, id)
			}
			continue
		}
		batch = append(batch, p)
	}
	return batch
}

func (m *PaymentMonitor) checkPayment(ctx context.Context, p *model.Payment) {
	gw, ok := m.gateways[p.Provider]
	if !ok || p.ProviderPaymentID == "" {
		metrics.IncMonitorCheck("skipped")
		return
	}

	policy := retry.Policy{
		MaxAttempts: m.cfg.RetryAttempts,
		Backoff:     retry.FixedBackoff(m.cfg.RetryBackoff),
	}
	var upd *model.StatusUpdate
	err := policy.Do(ctx, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, m.cfg.ProviderTimeout)
		defer cancel()
		var err error
		upd, err = gw.GetPaymentStatus(callCtx, p.ProviderPaymentID)
		return err
	})
	if err != nil {
		metrics.IncMonitorCheck("unreachable")
		if herr := m.classifier.HandleMonitoringFailure(ctx, p.ID, err); herr != nil {
			m.log.Error().Err(herr).Str("payment_id", p.ID).Msg("monitoring failure handling")
		}
		return
	}

	metrics.IncMonitorCheck("ok")
	if _, err := m.reconciler.Reconcile(ctx, p.ID, upd); err != nil {
		m.log.Error().Err(err).Str("payment_id", p.ID).
			Str("status", string(upd.Status)).
			Msg("reconcile from monitor failed")
	}
}
