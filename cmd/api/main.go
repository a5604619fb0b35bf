package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dmartinezc/orders-api/internal/config"
	"github.com/dmartinezc/orders-api/internal/customers"
	"github.com/dmartinezc/orders-api/internal/httpx"
	kafkax "github.com/dmartinezc/orders-api/internal/kafka"
	"github.com/dmartinezc/orders-api/internal/orders"
	"github.com/dmartinezc/orders-api/internal/postgres"
	"github.com/dmartinezc/orders-api/internal/redisx"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	log, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal("db connect", zap.Error(err))
	}
	defer db.Close()

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// Kafka producer
	prod := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicOrderEvents, 1024, log)
	prod.Start(ctx)

	// Customers identity service
	cust := customers.NewClient(cfg.CustomersBaseURL, cfg.CustomersToken, cfg.CustomersTimeout)

	// Service & handlers
	repo := &orders.Repo{DB: db}
	svc := &orders.Service{
		Store:     repo,
		Customers: cust,
		Producer:  prod,
		Redis:     rdb,
		Log:       log,
		Name:      cfg.ServiceName,
	}
	router := httpx.NewRouter()
	(&httpx.OrdersHandler{Service: svc}).Register(router)
	(&httpx.ProductsHandler{Store: repo}).Register(router)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router}

	// graceful shutdown
	go func() {
		log.Info("HTTP listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("listen", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("shutting down...")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)
	prod.Close()      // close inbox -> flush & close writer
	cancel()          // stop producer loop
	prod.WaitClosed() // drain
}
