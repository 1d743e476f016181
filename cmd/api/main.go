package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/safar/storefront-checkout/internal/checkout"
	"github.com/safar/storefront-checkout/internal/config"
	"github.com/safar/storefront-checkout/internal/database"
	"github.com/safar/storefront-checkout/internal/httpapi"
	"github.com/safar/storefront-checkout/internal/lock"
	"github.com/safar/storefront-checkout/internal/notify"
	"github.com/safar/storefront-checkout/internal/payment"
	"github.com/safar/storefront-checkout/internal/telemetry"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	if err := run(logger); err != nil {
		logger.Error("checkout service failed", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := telemetry.InitTracerProvider(ctx, cfg.Telemetry)
	if err != nil {
		return err
	}
	defer func() { _ = shutdownTracer(context.Background()) }()

	metricsHandler, shutdownMeter, err := telemetry.InitMeterProvider(cfg.Telemetry.ServiceName, cfg.Telemetry.ServiceVersion)
	if err != nil {
		return err
	}
	defer func() { _ = shutdownMeter(context.Background()) }()

	db, err := database.NewConnection(ctx, &cfg.Database)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()
	logger.Info("connected to database")

	var guard checkout.CaptureGuard
	if cfg.Redis.URL != "" {
		client, err := lock.NewClient(ctx, cfg.Redis.URL)
		if err != nil {
			return err
		}
		defer func() { _ = client.Close() }()
		guard = lock.NewRedisLocker(client, cfg.Checkout.CaptureLockTTL, logger)
	} else {
		logger.Warn("REDIS_URL not set, concurrent captures rely on the database constraint only")
	}

	var notifiers []notify.Notifier
	if cfg.Notify.MailServiceURL != "" {
		notifiers = append(notifiers, notify.NewMailNotifier(cfg.Notify.MailServiceURL, cfg.Notify.StoreOperatorEmail))
	}
	if len(cfg.Notify.KafkaBrokers) > 0 {
		producer := notify.NewKafkaNotifier(cfg.Notify.KafkaBrokers, cfg.Notify.KafkaOrderTopic)
		defer func() { _ = producer.Close() }()
		notifiers = append(notifiers, producer)
	}
	dispatcher := notify.NewDispatcher(logger, cfg.Notify.Timeout, notifiers...)

	identity := checkout.NewIdentityResolver(db)
	service, err := checkout.NewService(checkout.ServiceConfig{
		GatewayTimeout: cfg.Gateway.Timeout,
		DBTimeout:      cfg.Checkout.DBTimeout,
	}, checkout.Dependencies{
		Engine:   checkout.NewEngine(checkout.NewCatalogOracle(db)),
		Gateway:  payment.NewClient(cfg.Gateway, logger),
		Identity: identity,
		Settler:  checkout.NewSettler(db, identity),
		Guard:    guard,
		Notifier: dispatcher,
	}, logger)
	if err != nil {
		return err
	}

	handler := httpapi.NewHandler(service, httpapi.HeaderSession{Header: cfg.Checkout.AuthUserHeader}, logger, cfg.Server.MaxBodyBytes)
	router := httpapi.NewRouter(handler, httpapi.RouterConfig{
		RequestTimeout: cfg.Server.RequestTimeout,
		Metrics:        metricsHandler,
		DB:             db,
	}, logger)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      otelhttp.NewHandler(router, "checkout"),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting checkout service", "port", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
	if err := dispatcher.Wait(shutdownCtx); err != nil {
		logger.Warn("notifications still pending at shutdown", "error", err)
	}

	return nil
}
