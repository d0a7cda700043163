package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/ariefcatur/go-storefront-orders/internal/config"
	kafkax "github.com/ariefcatur/go-storefront-orders/internal/kafka"
	"github.com/ariefcatur/go-storefront-orders/internal/logger"
	"github.com/ariefcatur/go-storefront-orders/internal/notify"
	"github.com/ariefcatur/go-storefront-orders/internal/redisx"
	"github.com/ariefcatur/go-storefront-orders/internal/relay"
	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logg := logger.New(logger.Options{
		ServiceName: cfg.App.ServiceName + "-notifier",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		Format:      cfg.App.LogFormat,
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if !cfg.Kafka.Enabled() || !cfg.Telegram.Enabled() {
		logg.Error(ctx, "notifier needs kafka brokers and a telegram bot", nil)
		os.Exit(1)
	}

	rdb := redisx.New(cfg.Redis.Addr)
	defer rdb.Close()

	svc := &relay.Service{
		Sender: notify.NewTelegram(cfg.Telegram.APIBase, cfg.Telegram.BotToken, cfg.Telegram.ChatID, logg),
		Dedup:  redisx.NewDeduper(rdb, "notifier"),
		Logger: logg,
	}
	cons := kafkax.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.ConsumerGroup, cfg.Kafka.EventsTopic, cfg.Kafka.Workers, logg)

	done := make(chan struct{})
	go func() {
		defer close(done)
		logg.Info(logg.WithFields(ctx, map[string]any{
			"group":   cfg.Kafka.ConsumerGroup,
			"topic":   cfg.Kafka.EventsTopic,
			"workers": cfg.Kafka.Workers,
		}), "notifier consumer started")
		if err := cons.Start(ctx, svc.HandleNotification); err != nil {
			logg.Error(ctx, "consumer exit", err)
			cancel()
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case <-ctx.Done():
	}
	logg.Info(ctx, "shutting down consumer")
	cancel()
	<-done
}
