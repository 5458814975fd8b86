package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"credit-marketplace/internal/config"
	"credit-marketplace/internal/domain/model"
	"credit-marketplace/internal/domain/ports/adapter"
	"credit-marketplace/internal/infra/adapters/notify"
	"credit-marketplace/internal/infra/adapters/provider"
	pg "credit-marketplace/internal/infra/db/postgres"
	httpapi "credit-marketplace/internal/infra/http"
	"credit-marketplace/internal/infra/logging"
	"credit-marketplace/internal/infra/metrics"
	red "credit-marketplace/internal/infra/redis"
	"credit-marketplace/internal/infra/sched"
	"credit-marketplace/internal/infra/security"
	"credit-marketplace/internal/infra/web"
	"credit-marketplace/internal/infra/worker"
	"credit-marketplace/internal/usecase"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ---- CLI flags ----
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "enable developer mode")
	flag.Parse()

	_ = godotenv.Load() // optional .env for local runs

	cfg, err := config.Load(*cfgPath, *devMode)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	if cfg.Runtime.Dev {
		logger.Info().Msg("dev mode enabled")
	}

	// ---- Migrations ----
	if err := pg.RunMigrations(cfg.Database.URL, cfg.Database.MigrationsDir); err != nil {
		logger.Fatal().Err(err).Msg("migrations")
	}

	// ---- Postgres ----
	pool, err := pg.NewPgxPool(ctx, cfg.Database.URL, cfg.Database.MaxConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres")
	}
	defer pool.Close()

	// ---- Redis ----
	redisClient, err := red.NewClient(ctx, &cfg.Redis)
	if err != nil {
		logger.Fatal().Err(err).Msg("redis")
	}
	defer redisClient.Close()

	idemCache := red.NewIdempotencyCache(redisClient)
	pendingCache := red.NewPendingPaymentsCache(redisClient)
	failureStore := red.NewFailureRecordStore(redisClient, cfg.Failure.RecordTTL)
	locker := red.NewLocker(redisClient)

	// ---- Encryption ----
	encKey := cfg.Security.EncryptionKey
	if len(encKey) != 32 {
		logger.Warn().Msg("security.encryption_key not set or not 32 bytes; using dev key (INSECURE)")
		encKey = "0123456789abcdef0123456789abcdef"
	}
	encSvc, err := security.NewEncryptionService(encKey)
	if err != nil {
		logger.Fatal().Err(err).Msg("encryption")
	}

	// ---- Repositories ----
	userRepo := pg.NewUserRepo(pool)
	payRepo := pg.NewPaymentRepo(pool)
	ledgerRepo := pg.NewLedgerRepo(pool)
	refundRepo := pg.NewRefundRepo(pool)
	tm := pg.NewTxManager(pool)

	// ---- Metrics ----
	metrics.MustRegister()

	// ---- Payment gateways ----
	gateways := map[model.PaymentProvider]adapter.PaymentGateway{}
	if cfg.Providers.Crypto.APIKey != "" {
		gw, err := provider.NewNowPaymentsGateway(cfg.Providers.Crypto.APIKey, cfg.Providers.Crypto.IPNSecret, cfg.Providers.Crypto.BaseURL, cfg.Providers.Crypto.PayCurrency)
		if err != nil {
			logger.Fatal().Err(err).Msg("crypto gateway")
		}
		gateways[model.ProviderCrypto] = gw
		logger.Info().Str("base_url", cfg.Providers.Crypto.BaseURL).Msg("crypto gateway configured")
	}
	if cfg.Providers.Card.SecretKey != "" {
		gw, err := provider.NewStripeGateway(cfg.Providers.Card.SecretKey, cfg.Providers.Card.WebhookSecret, cfg.Providers.Card.SuccessURL, cfg.Providers.Card.CancelURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("card gateway")
		}
		gateways[model.ProviderCard] = gw
		logger.Info().Msg("card gateway configured")
	}
	if len(gateways) == 0 {
		if !cfg.Runtime.Dev {
			logger.Fatal().Msg("no payment provider configured")
		}
		gateways[model.ProviderManual] = provider.NewNoopGateway()
		logger.Warn().Msg("no provider configured; using noop gateway")
	}

	// ---- Notifier ----
	var notifier adapter.Notifier
	if cfg.Notify.TelegramToken != "" {
		notifier, err = notify.NewTelegramNotifier(cfg.Notify.TelegramToken, cfg.Notify.AdminChatID, userRepo, *logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("telegram notifier")
		}
	} else {
		notifier = notify.NewNoopNotifier()
		logger.Warn().Msg("no telegram token; notifications disabled")
	}

	// ---- Use cases ----
	rate, err := decimal.NewFromString(cfg.Allocation.USDCreditRate)
	if err != nil {
		logger.Fatal().Err(err).Msg("allocation.usd_credit_rate")
	}
	minPaidRatio, err := decimal.NewFromString(cfg.Allocation.MinPaidRatio)
	if err != nil {
		logger.Fatal().Err(err).Msg("allocation.min_paid_ratio")
	}

	allocUC := usecase.NewCreditAllocationUseCase(userRepo, payRepo, ledgerRepo, idemCache, tm, rate, minPaidRatio, cfg.Allocation.CacheTTL, logger)
	failUC := usecase.NewFailureClassifierUseCase(payRepo, userRepo, failureStore, pendingCache, notifier, cfg.Failure.RetryLimit, cfg.Failure.AlertThreshold, logger)
	reconUC := usecase.NewReconcileUseCase(payRepo, tm, allocUC, failUC, pendingCache, encSvc, logger)
	paymentUC := usecase.NewPaymentUseCase(payRepo, userRepo, gateways, pendingCache, logger)
	balanceUC := usecase.NewBalanceUseCase(userRepo, ledgerRepo, payRepo, rate, logger)
	refundUC := usecase.NewRefundUseCase(payRepo, refundRepo, ledgerRepo, userRepo, tm, logger)

	// ---- Monitoring loop ----
	pool2 := worker.NewPool(cfg.Monitor.Workers, *logger)
	pool2.Start(ctx)
	monitor := sched.NewPaymentMonitor(payRepo, gateways, reconUC, failUC, pool2, pendingCache, locker, cfg.Monitor, *logger)
	monitor.Start(ctx)

	// ---- API server ----
	authMgr := web.NewAuthManager(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	apiSrv := web.NewServer(paymentUC, balanceUC, refundUC, allocUC, reconUC, gateways, monitor, authMgr, cfg.Auth.AdminAPIKey, *logger)
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.APIPort),
		Handler:           apiSrv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info().Str("addr", server.Addr).Msg("api server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("api server")
		}
	}()

	// ---- Metrics server ----
	metricsSrv := httpapi.NewServer(cfg.HTTP.MetricsPort, *logger)
	go func() {
		if err := metricsSrv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics server")
		}
	}()

	// ---- Graceful shutdown ----
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	<-sigc
	logger.Info().Msg("shutdown requested")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("api shutdown")
	}
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("metrics shutdown")
	}
	// Stop accepting new cycles, wait for in-flight reconciliation, then the
	// pool; only after that may the DB pool close.
	monitor.Stop()
	pool2.Stop()
	cancel()
	logger.Info().Msg("stopped")
}
