package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-pos-payments/internal/config"
	kafkax "github.com/ariefcatur/go-pos-payments/internal/kafka"
	"github.com/ariefcatur/go-pos-payments/internal/logger"
	"github.com/ariefcatur/go-pos-payments/internal/notify"
	"github.com/ariefcatur/go-pos-payments/internal/redisx"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	zl, err := logger.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = zl.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	proj := &notify.Projector{Redis: rdb, Log: zl}
	cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.NotifierGroup, notify.Topics, cfg.NotifierWorkers, zl)

	done := make(chan struct{})
	go func() {
		defer close(done)
		zl.Info("notifier started",
			zap.String("group", cfg.NotifierGroup),
			zap.Strings("topics", notify.Topics),
			zap.Int("workers", cfg.NotifierWorkers))
		if err := cons.Start(ctx, proj.Handle); err != nil {
			zl.Error("consumer exit", zap.Error(err))
			cancel()
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case <-ctx.Done():
	}
	zl.Info("shutting down notifier")
	cancel()
	<-done
}
