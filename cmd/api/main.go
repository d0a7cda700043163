package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ariefcatur/go-storefront-orders/internal/admin"
	"github.com/ariefcatur/go-storefront-orders/internal/catalog"
	"github.com/ariefcatur/go-storefront-orders/internal/checkout"
	"github.com/ariefcatur/go-storefront-orders/internal/config"
	"github.com/ariefcatur/go-storefront-orders/internal/httpx"
	kafkax "github.com/ariefcatur/go-storefront-orders/internal/kafka"
	"github.com/ariefcatur/go-storefront-orders/internal/ledger"
	"github.com/ariefcatur/go-storefront-orders/internal/logger"
	"github.com/ariefcatur/go-storefront-orders/internal/metrics"
	"github.com/ariefcatur/go-storefront-orders/internal/notify"
	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	"github.com/ariefcatur/go-storefront-orders/internal/payments"
	"github.com/ariefcatur/go-storefront-orders/internal/postgres"
	"github.com/ariefcatur/go-storefront-orders/internal/redisx"
	"github.com/ariefcatur/go-storefront-orders/internal/reservation"
	"github.com/ariefcatur/go-storefront-orders/internal/sweep"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logg := logger.New(logger.Options{
		ServiceName: cfg.App.ServiceName,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		Format:      cfg.App.LogFormat,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// Redis
	rdb := redisx.New(cfg.Redis.Addr)
	defer rdb.Close()
	if err := redisx.Ping(ctx, rdb); err != nil {
		// Idempotency replay and the status cache degrade. The sheets ledger
		// and the sweep lock through Redis, so with that backend checkout
		// fails closed with REMOTE_UNAVAILABLE until Redis is back.
		logg.Error(ctx, "redis unavailable at startup", err)
	}

	// Ledger
	var (
		l    ledger.Ledger
		pool *pgxpool.Pool
	)
	switch strings.ToLower(cfg.Ledger.Backend) {
	case config.LedgerSheets:
		l, err = ledger.NewSheets(ctx, ledger.SheetsParams{
			SpreadsheetID:   cfg.Sheets.SpreadsheetID,
			CredentialsJSON: cfg.Sheets.CredentialsJSON,
			CredentialsFile: cfg.Sheets.CredentialsFile,
			InventorySheet:  cfg.Ledger.InventorySheet,
			OrdersSheet:     cfg.Ledger.OrdersSheet,
			StockColumn:     cfg.Sheets.StockColumn,
			Locker:          redisx.NewLock(rdb, "ledger", redisx.TTLLock),
			Logger:          logg,
			Metrics:         m,
		})
	case config.LedgerPostgres:
		pool, err = postgres.Connect(ctx, cfg.Postgres.DSN)
		if err == nil {
			defer pool.Close()
			err = postgres.Migrate(ctx, pool)
		}
		if err == nil {
			l = ledger.NewPostgres(pool, ledger.PostgresParams{
				ProductsTable:  cfg.Ledger.ProductsSheet,
				InventoryTable: cfg.Ledger.InventorySheet,
				Logger:         logg,
				Metrics:        m,
			})
		}
	default:
		l, err = ledger.LoadMemory(cfg.Ledger.SeedFile, cfg.Ledger.InventorySheet)
	}
	if err != nil {
		fatal(ctx, logg, "ledger", err)
	}

	store, err := orders.NewFileStore(cfg.App.OrdersDir(), logg)
	if err != nil {
		fatal(ctx, logg, "order store", err)
	}
	cache, err := catalog.NewCache(cfg.App.CachePath(), l, cfg.Ledger.ProductsSheet, cfg.Ledger.InventorySheet, logg)
	if err != nil {
		fatal(ctx, logg, "product cache", err)
	}

	// Notifications
	var (
		notifiers []notify.Notifier
		telegram  *notify.Telegram
		producer  *kafkax.Producer
	)
	// With Kafka configured, cmd/notifier owns Telegram delivery.
	if cfg.Kafka.Enabled() {
		producer = kafkax.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.EventsTopic, 1024, logg)
		producer.Start(ctx)
		notifiers = append(notifiers, notify.NewKafka(producer, cfg.App.ServiceName, logg))
	} else if cfg.Telegram.Enabled() {
		telegram = notify.NewTelegram(cfg.Telegram.APIBase, cfg.Telegram.BotToken, cfg.Telegram.ChatID, logg)
		notifiers = append(notifiers, telegram)
	}
	var notifier notify.Notifier = notify.Noop{}
	if len(notifiers) > 0 {
		notifier = notify.Multi(notifiers)
	}

	lifecycle := checkout.New(checkout.Deps{
		Store:       store,
		Reserver:    reservation.NewCoordinator(l, cache, logg, m).WithNotifier(notifier),
		Pricer:      cache,
		Idempotency: redisx.NewIdempotencyStore(rdb, cfg.App.IdempotencyTTL),
		StatusCache: redisx.NewStatusCache(rdb),
		Notifier:    notifier,
		Metrics:     m,
		Logger:      logg,
	})
	reconciler, err := sweep.New(sweep.Params{
		Logger:    logg,
		Orders:    store,
		Lifecycle: lifecycle,
		Ledger:    l,
		Cache:     cache,
		Locker:    redisx.NewLock(rdb, "sweep", 5*time.Minute),
		Notifier:  notifier,
		Metrics:   m,
		Threshold: cfg.App.AbandonedThreshold,
	})
	if err != nil {
		fatal(ctx, logg, "sweep", err)
	}
	gateway := payments.NewRazorpay(payments.RazorpayConfig{
		KeyID:     cfg.Payments.KeyID,
		KeySecret: cfg.Payments.KeySecret,
		BaseURL:   cfg.Payments.BaseURL,
		Currency:  cfg.Payments.Currency,
	}, logg)

	router := httpx.NewRouter(logg, reg)
	(&httpx.StorefrontHandler{
		Catalog:   cache,
		Lifecycle: lifecycle,
		Payments:  gateway,
		Status:    redisx.NewStatusCache(rdb),
		Currency:  cfg.Payments.Currency,
		Log:       logg,
	}).Routes(router)
	(&httpx.AdminHandler{
		Ops:   admin.NewService(store, l, cache, reconciler, logg),
		Token: cfg.App.AdminToken,
		Log:   logg,
	}).Routes(router)
	if cfg.App.AdminToken == "" {
		logg.Warn(ctx, "admin token not set, admin routes disabled")
	}

	srv := &http.Server{Addr: cfg.App.HTTPAddr, Handler: router, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		logg.Info(logg.WithFields(ctx, map[string]any{"addr": cfg.App.HTTPAddr, "ledger": cfg.Ledger.Backend}), "http listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fatal(ctx, logg, "listen", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logg.Info(ctx, "shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)
	cancel() // stops the producer loop, which flushes and closes the writer
	if producer != nil {
		producer.WaitClosed()
	}
	if telegram != nil {
		telegram.Wait()
	}
}

func fatal(ctx context.Context, logg *logger.Logger, what string, err error) {
	logg.Error(ctx, what+" init failed", err)
	os.Exit(1)
}
