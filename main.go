package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"lipila-gateway/api"
	"lipila-gateway/cache"
	"lipila-gateway/checkout"
	"lipila-gateway/config"
	"lipila-gateway/events"
	"lipila-gateway/gateway"
	"lipila-gateway/logging"
	"lipila-gateway/poller"
	"lipila-gateway/providers"
	"lipila-gateway/subscription"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}
	log := logging.New(cfg.Logging)

	ctx, cancel := withSignals(context.Background())
	defer cancel()

	if problem := cfg.Lipila.CredentialProblem(); problem != "" && !cfg.Lipila.MockMode {
		// keep serving: status reads and mock checks still work, and payments fail with guidance
		log.Error("critical misconfiguration", "problem", problem)
	}

	client := gateway.NewClient(log, gateway.Options{
		BaseURL:          cfg.Lipila.BaseURL,
		Secret:           cfg.Lipila.SecretKey,
		BreakerThreshold: uint32(max(cfg.Gateway.BreakerThreshold, 0)),
	})
	orchestrator := providers.NewOrchestrator(log, client, providerConfig(cfg))
	if orchestrator.MockMode() {
		log.Warn("mock mode enabled: payments are not sent to the gateway")
	}

	store, closeStore, err := openStore(ctx, log, cfg.Postgres)
	if err != nil {
		log.Error("subscription store unavailable", "err", err)
		os.Exit(1)
	}
	defer closeStore()

	marks, closeMarks := openMarks(ctx, log, cfg.Redis)
	defer closeMarks()

	publisher, closePublisher := openPublisher(log, cfg.Kafka)
	defer closePublisher()

	manager := poller.NewManager(log, poller.New(log, orchestrator, cfg.Poll.Interval, cfg.Poll.Timeout))
	defer manager.Shutdown()

	reconciler := subscription.NewReconciler(log, store, marks, publisher)
	service := checkout.NewService(log, orchestrator, store, manager, reconciler, cfg.Lipila.CallbackURL)
	handler := api.NewHandler(log, service, orchestrator.MockMode())

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:      handler.Routes(),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	go func() {
		log.Info("starting server", "port", cfg.HTTP.Port, "gateway", cfg.Lipila.BaseURL, "secret", gateway.MaskSecret(cfg.Lipila.SecretKey))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server stopped", "err", err)
			cancel()
		}
	}()

	<-ctx.Done()
	shutdownCtx, stop := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "err", err)
	}
	log.Info("lipila-gateway shutdown")
}

func withSignals(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-ch
		cancel()
	}()

	return ctx, cancel
}

func providerConfig(cfg config.Config) providers.Config {
	call := func(timeout time.Duration) gateway.CallOptions {
		return gateway.CallOptions{Timeout: timeout, MaxRetries: cfg.Gateway.MaxRetries, RetryDelay: cfg.Gateway.RetryDelay}
	}
	return providers.Config{
		Currency:        cfg.Lipila.Currency,
		MockMode:        cfg.Lipila.MockMode,
		Phone:           providers.NewPhoneFormat(cfg.Lipila.CountryCode),
		Paths:           providers.DefaultPaths(),
		MobileMoneyCall: call(cfg.Gateway.MobileMoneyTimeout),
		CardCall:        call(cfg.Gateway.CardTimeout),
		StatusCall:      call(cfg.Gateway.StatusTimeout),
	}
}

// openStore uses Postgres when PG_URL is set and an in-memory store otherwise.
func openStore(ctx context.Context, log *slog.Logger, cfg config.PostgresConfig) (subscription.Store, func(), error) {
	if cfg.URL == "" {
		log.Warn("PG_URL not set, subscriptions are kept in memory")
		return subscription.NewMemoryStore(subscription.DefaultPlans()...), func() {}, nil
	}
	pool, err := pgxpool.New(ctx, cfg.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("pg connect: %w", err)
	}
	store := subscription.NewPostgresStore(log, pool)
	if err := store.Migrate(ctx, subscription.DefaultPlans()); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("pg migrate: %w", err)
	}
	return store, pool.Close, nil
}

// openMarks uses Redis when it answers and in-process marks otherwise. The
// store's unique transaction id still blocks double extension either way.
func openMarks(ctx context.Context, log *slog.Logger, cfg config.RedisConfig) (subscription.Marks, func()) {
	if cfg.Addr == "" {
		return cache.NewMemoryStore(), func() {}
	}
	rdb := cache.NewRedisStore(cfg.Addr, cfg.Password, cfg.DB)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx); err != nil {
		log.Warn("redis unavailable, using in-process idempotency marks", "addr", cfg.Addr, "err", err)
		_ = rdb.Close()
		return cache.NewMemoryStore(), func() {}
	}
	return rdb, func() { _ = rdb.Close() }
}

func openPublisher(log *slog.Logger, cfg config.KafkaConfig) (events.Publisher, func()) {
	if len(cfg.Brokers) == 0 {
		return events.NopPublisher{}, func() {}
	}
	pub := events.NewKafkaPublisher(log, cfg.Brokers, cfg.Topic)
	return pub, func() {
		if err := pub.Close(); err != nil {
			log.Warn("kafka writer close failed", "err", err)
		}
	}
}
