package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-pos-payments/internal/auth"
	"github.com/ariefcatur/go-pos-payments/internal/billing"
	"github.com/ariefcatur/go-pos-payments/internal/checkout"
	"github.com/ariefcatur/go-pos-payments/internal/config"
	"github.com/ariefcatur/go-pos-payments/internal/httpx"
	"github.com/ariefcatur/go-pos-payments/internal/inventory"
	kafkax "github.com/ariefcatur/go-pos-payments/internal/kafka"
	"github.com/ariefcatur/go-pos-payments/internal/logger"
	"github.com/ariefcatur/go-pos-payments/internal/orders"
	"github.com/ariefcatur/go-pos-payments/internal/payments"
	"github.com/ariefcatur/go-pos-payments/internal/postgres"
	"github.com/ariefcatur/go-pos-payments/internal/reconcile"
	"github.com/ariefcatur/go-pos-payments/internal/redisx"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	if err := cfg.RequireSecrets(); err != nil {
		log.Fatalf("config: %v", err)
	}

	zl, err := logger.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = zl.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		zl.Fatal("db connect", zap.Error(err))
	}
	defer db.Close()
	if err := postgres.Migrate(ctx, db); err != nil {
		zl.Fatal("db migrate", zap.Error(err))
	}

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// Kafka producer
	prod := kafkax.NewProducer(cfg.KafkaBrokers, 1024, zl)
	prod.Start(ctx)

	inv := &inventory.Repo{DB: db}
	orderRepo := &orders.Repo{DB: db, Inventory: inv}
	gw := payments.NewStripeGateway(cfg.StripeSecretKey, zl)

	engine := reconcile.NewEngine(orderRepo, gw, zl,
		reconcile.WithPublisher(prod, cfg.ServiceName),
		reconcile.WithCache(rdb),
	)
	subs := &billing.Service{
		Store:        &billing.Repo{DB: db},
		Counter:      orderRepo,
		MonthlyLimit: cfg.BasicMonthlyLimit,
		Log:          zl,
	}
	svc := &checkout.Service{
		Orders:     orderRepo,
		Catalog:    inv,
		Gateway:    gw,
		Cache:      rdb,
		Bus:        prod,
		Log:        zl,
		SuccessURL: cfg.CheckoutSuccessURL,
		CancelURL:  cfg.CheckoutCancelURL,
		Producer:   cfg.ServiceName,
	}

	router := httpx.NewRouter(zl)
	(&httpx.WebhookHandler{
		Verifier:           gw,
		Engine:             engine,
		Subscriptions:      subs,
		TransactionSecret:  cfg.WebhookSecretTransaction,
		SubscriptionSecret: cfg.WebhookSecretSubscription,
		Log:                zl,
	}).Register(router)
	(&httpx.TransactionsHandler{Checkout: svc, Log: zl}).
		Register(router, auth.New(cfg.JWTSecret).Middleware, subs.Gate)

	// HTTP server
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		zl.Info("http listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zl.Fatal("listen", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	zl.Info("shutting down")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)
	prod.Close() // flush inbox, then close writer
	prod.WaitClosed()
	cancel()
}
