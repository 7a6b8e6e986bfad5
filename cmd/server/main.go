package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/kiumaa/kixikila/internal/archive"
	"github.com/kiumaa/kixikila/internal/auth"
	"github.com/kiumaa/kixikila/internal/balance"
	"github.com/kiumaa/kixikila/internal/config"
	"github.com/kiumaa/kixikila/internal/draw"
	"github.com/kiumaa/kixikila/internal/ledger"
	"github.com/kiumaa/kixikila/internal/membership"
	"github.com/kiumaa/kixikila/internal/metrics"
	"github.com/kiumaa/kixikila/internal/notify"
	"github.com/kiumaa/kixikila/internal/outbox"
	"github.com/kiumaa/kixikila/internal/payout"
	"github.com/kiumaa/kixikila/internal/server"
	"github.com/kiumaa/kixikila/internal/service"
	"github.com/kiumaa/kixikila/internal/storage/sqlstore"
	"github.com/kiumaa/kixikila/internal/telemetry"
	"github.com/kiumaa/kixikila/pkg/logging"
)

const (
	serviceName   = "kixikila"
	version       = "0.1.0"
	tokenDuration = 24 * time.Hour
)

func main() {
	if err := run(); err != nil {
		slog.Error("Server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Setup structured logging
	logging.Setup(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, serviceName, version, cfg.OTelEndpoint)
	if err != nil {
		return err
	}
	defer shutdownTracing(context.Background())

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	slog.Info("Storage initialized", "driver", store.Driver())

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	l := ledger.New(store, ledger.WithCurrency(cfg.Currency), ledger.WithMetrics(m))
	projector := balance.New(l, store, m)
	registry := membership.NewRegistry(store, cfg.Currency)
	queue := outbox.NewQueue(store)

	var locker draw.Locker = draw.NewMemoryLocker()
	if cfg.DrawLock == "database" {
		locker = draw.NewStoreLocker(store)
	}

	var archiver archive.Archiver = archive.Nop{}
	if cfg.ArchiveBucket != "" {
		archiver, err = archive.NewS3Archiver(ctx, archive.Config{
			Bucket:    cfg.ArchiveBucket,
			Endpoint:  cfg.ArchiveEndpoint,
			Region:    cfg.ArchiveRegion,
			AccessKey: cfg.ArchiveAccessKey,
			SecretKey: cfg.ArchiveSecretKey,
		})
		if err != nil {
			return err
		}
		slog.Info("Cycle archive enabled", "bucket", cfg.ArchiveBucket)
	}

	engine := draw.NewEngine(l, store, locker,
		draw.WithNotifier(queue),
		draw.WithArchiver(archiver),
		draw.WithMetrics(m),
		draw.WithLockTTL(cfg.DrawLockTTL),
	)
	processor := payout.NewProcessor(l, store,
		payout.WithNotifier(queue),
		payout.WithMetrics(m),
	)

	var signer *auth.Signer
	if cfg.WebhookSecret != "" {
		signer, err = auth.NewSigner(cfg.WebhookSecret)
		if err != nil {
			return err
		}
	}

	var dispatcher notify.Dispatcher = notify.LogDispatcher{Logger: slog.Default()}
	if cfg.NotifyWebhookURL != "" {
		dispatcher = notify.NewWebhookDispatcher(cfg.NotifyWebhookURL, signer, nil)
	}

	relay := outbox.NewRelay(store, l, dispatcher, m, outbox.RelayConfig{
		Batch:       cfg.OutboxBatch,
		MaxAttempts: cfg.OutboxMaxAttempts,
	})
	scheduler, err := outbox.NewScheduler(relay, store, cfg.OutboxInterval)
	if err != nil {
		return err
	}
	scheduler.Start()
	defer func() {
		if err := scheduler.Shutdown(); err != nil {
			slog.Error("Scheduler shutdown failed", "error", err)
		}
	}()

	deps := server.Deps{
		Draw:     service.NewDrawService(engine, registry),
		Wallet:   service.NewWalletService(l, projector, processor, queue, store),
		Group:    service.NewGroupService(registry, store),
		JWT:      auth.NewJWTManager(cfg.JWTSecret, tokenDuration),
		Gatherer: reg,
	}
	if signer != nil {
		deps.Webhooks = service.NewWebhookHandler(l, processor, signer)
	} else {
		slog.Warn("WEBHOOK_SECRET not set, payment webhooks disabled")
	}

	// Wrap with h2c for HTTP/2 without TLS (required for Connect)
	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           h2c.NewHandler(server.NewRouter(deps), &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Connect server starting", "address", srv.Addr, "currency", cfg.Currency, "draw_lock", cfg.DrawLock)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		slog.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
	}
	return nil
}

func openStore(cfg *config.Config) (*sqlstore.Store, error) {
	if cfg.DBDriver == "postgres" {
		return sqlstore.NewPostgres(cfg.DatabaseURL)
	}
	return sqlstore.NewSQLite(cfg.DBPath)
}
