package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/kevin07696/pos-payments/internal/adapters/postgres"
	"github.com/kevin07696/pos-payments/internal/adapters/stripe"
	"github.com/kevin07696/pos-payments/internal/config"
	"github.com/kevin07696/pos-payments/internal/domain"
	paymenthandler "github.com/kevin07696/pos-payments/internal/handlers/payment"
	webhookhandler "github.com/kevin07696/pos-payments/internal/handlers/webhook"
	"github.com/kevin07696/pos-payments/internal/middleware"
	"github.com/kevin07696/pos-payments/internal/services/ledger"
	"github.com/kevin07696/pos-payments/internal/services/notify"
	"github.com/kevin07696/pos-payments/internal/services/reconcile"
	"github.com/kevin07696/pos-payments/internal/services/strategy"
	pkghttp "github.com/kevin07696/pos-payments/pkg/http"
	pkgmiddleware "github.com/kevin07696/pos-payments/pkg/middleware"
	"github.com/kevin07696/pos-payments/pkg/observability"
	"github.com/kevin07696/pos-payments/pkg/security"
	"github.com/kevin07696/pos-payments/pkg/shutdown"
)

const cardProvider = "stripe"

func main() {
	// Optional in deployment; local runs keep settings in .env
	_ = godotenv.Load()

	cfg, err := config.LoadFromEnv()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	logger, err := newLogger(cfg.Logger)
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx := context.Background()
	portsLogger := security.NewZapLogger(logger)

	// Secrets. Stripe credentials and the webhook signing secret may live
	// in AWS Secrets Manager or Vault rather than the environment.
	secretManager, err := newSecretManager(ctx, &cfg.Secrets, logger)
	if err != nil {
		return fmt.Errorf("secrets backend: %w", err)
	}
	cfg.Stripe.SecretKey = resolveSecret(ctx, secretManager, &cfg.Secrets,
		"stripe_secret_key", "STRIPE_SECRET_KEY", cfg.Stripe.SecretKey)
	cfg.Webhook.SigningSecret = resolveSecret(ctx, secretManager, &cfg.Secrets,
		"webhook_signing_secret", "WEBHOOK_SIGNING_SECRET", cfg.Webhook.SigningSecret)
	if cfg.Stripe.SecretKey == "" {
		return fmt.Errorf("stripe secret key is not configured")
	}
	if cfg.Webhook.SigningSecret == "" {
		return fmt.Errorf("webhook signing secret is not configured")
	}

	// Database
	poolConfig, err := pgxpool.ParseConfig(cfg.Database.ConnectionString())
	if err != nil {
		return fmt.Errorf("parse database config: %w", err)
	}
	poolConfig.MaxConns = cfg.Database.MaxConns
	poolConfig.MinConns = cfg.Database.MinConns

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return fmt.Errorf("create database pool: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return fmt.Errorf("ping database: %w", err)
	}
	logger.Info("connected to database",
		zap.String("host", cfg.Database.Host),
		zap.String("database", cfg.Database.Database))

	db := postgres.NewDBExecutor(pool)
	paymentRepo := postgres.NewPaymentRepository(db)
	txnRepo := postgres.NewTransactionRepository(db)
	giftCardRepo := postgres.NewGiftCardRepository(db)

	// Completion events fan out after commit; the tracker lets shutdown
	// drain deliveries still in flight before the pool closes.
	completionTracker := shutdown.NewInFlightTracker("completion-events", logger)
	notifier := notify.NewNotifier(portsLogger)
	notifier.Subscribe(notify.SubscriberFunc(func(ctx context.Context, event notify.PaymentCompleted) {
		completionTracker.Run(func() {
			logger.Info("dispatching order completion",
				zap.String("order_id", event.OrderID),
				zap.String("payment_id", event.Payment.ID),
				zap.String("total_collected", event.Payment.TotalCollected.String()))
		})
	}))

	led := ledger.NewService(db, paymentRepo, txnRepo, notifier, portsLogger)

	gateway := stripe.NewGateway(stripe.Config{
		BaseURL:   cfg.Stripe.BaseURL,
		SecretKey: cfg.Stripe.SecretKey,
		Timeout:   cfg.Stripe.Timeout,
	}, pkghttp.NewClient(pkghttp.StripeClientConfig(), cfg.Stripe.Timeout), portsLogger)

	registry := strategy.NewRegistry()
	registry.Register(domain.PaymentMethodCash, "", strategy.NewCashStrategy(led, portsLogger))
	registry.Register(domain.PaymentMethodGiftCard, "", strategy.NewGiftCardStrategy(db, giftCardRepo, led, portsLogger))
	registry.Register(domain.PaymentMethodCardTerminal, cardProvider, strategy.NewCardTerminalStrategy(gateway, led, portsLogger))
	registry.Register(domain.PaymentMethodCardOnline, cardProvider, strategy.NewCardOnlineStrategy(gateway, led, portsLogger))

	reconciler := reconcile.NewReconciler(led, portsLogger)

	paymentHandler := paymenthandler.NewHandler(registry, led, cardProvider, logger)
	webhookHandler := webhookhandler.NewHandler(reconciler, logger)
	webhookAuth := middleware.NewWebhookAuth(cfg.Webhook.SigningSecret, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/payments/intents", paymentHandler.CreateIntent)
	mux.HandleFunc("POST /api/v1/payments/intents/{intent_id}/capture", paymentHandler.CaptureIntent)
	mux.HandleFunc("POST /api/v1/payments/intents/{intent_id}/cancel", paymentHandler.CancelIntent)
	mux.HandleFunc("POST /api/v1/payments/{payment_id}/refund", paymentHandler.Refund)
	mux.HandleFunc("GET /api/v1/payments/{payment_id}", paymentHandler.GetPayment)
	mux.HandleFunc("POST /api/v1/terminal/connection-token", paymentHandler.ConnectionToken)
	mux.HandleFunc("POST /api/v1/webhooks/stripe", webhookAuth.Middleware(webhookHandler.HandleEvent))

	rateLimiter := pkgmiddleware.NewRateLimiter(cfg.Server.RateLimitPerSecond, cfg.Server.RateLimitBurst)
	securityHeaders := middleware.NewSecurityHeaders(cfg.Logger.Development)
	handler := securityHeaders.Middleware(rateLimiter.Middleware(observability.HTTPMetricsMiddleware(mux)))

	apiServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	metricsServer := observability.StartMetricsServer(
		strconv.Itoa(cfg.Server.MetricsPort),
		observability.NewHealthChecker(pool),
	)

	// Registered in startup order; shutdown runs in reverse, so the API
	// server stops accepting requests before the pool closes.
	shutdownManager := shutdown.NewManager(logger, cfg.Server.ShutdownTimeout)
	shutdownManager.RegisterNoErr("database-pool", pool.Close)
	shutdownManager.Register("completion-events", completionTracker.Shutdown)
	shutdownManager.RegisterNoErr("rate-limiter", rateLimiter.Shutdown)
	shutdownManager.RegisterHTTPServer("metrics-server", metricsServer)
	shutdownManager.RegisterHTTPServer("api-server", apiServer)

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("payment API listening", zap.String("addr", apiServer.Addr))
		if err := apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	signalDone := make(chan struct{})
	go func() {
		shutdownManager.WaitForShutdown()
		close(signalDone)
	}()

	select {
	case err := <-serverErr:
		shutdownManager.Shutdown()
		return err
	case <-signalDone:
		return nil
	}
}

func newLogger(cfg config.LoggerConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	var zapConfig zap.Config
	if cfg.Development {
		zapConfig = zap.NewDevelopmentConfig()
	} else {
		zapConfig = zap.NewProductionConfig()
	}
	zapConfig.Level = zap.NewAtomicLevelAt(level)
	return zapConfig.Build()
}
