package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"checkout-service/config"
	"checkout-service/internal/api"
	"checkout-service/internal/broker"
	"checkout-service/internal/checkout"
	"checkout-service/internal/gateway"
	"checkout-service/internal/redisclient"
	"checkout-service/internal/store"
	"checkout-service/internal/util"
	"checkout-service/internal/worker"

	"github.com/gin-gonic/gin"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting checkout service")

	tp, err := util.InitTracer("checkout-service", cfg.Observ.JaegerEndpoint)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			log.Printf("Error shutting down tracer: %v", err)
		}
	}()

	if cfg.Gateway.MerchantID == "" || cfg.Gateway.IntegrationKey == "" {
		log.Fatal("GATEWAY_MERCHANT_ID and GATEWAY_INTEGRATION_KEY must be set")
	}

	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}
	log.Println("Database connected")

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()
	log.Println("Redis connected")

	producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.PaymentTopic)
	defer producer.Close()
	log.Println("Kafka producer initialized")

	eventPublisher := broker.NewEventPublisher(producer)

	codec := gateway.NewCodec(cfg.Gateway.MerchantID, cfg.Gateway.IntegrationKey, cfg.Gateway.Currency)
	gatewayClient := gateway.NewClient(cfg.Gateway.BaseURL, codec, 10*time.Second)

	finalizer := checkout.NewFinalizer(db, db, db)
	initiator := checkout.NewInitiator(db, db, gatewayClient, eventPublisher,
		cfg.Checkout.CleanupOnInitiationFailure)

	sessions := checkout.NewSessionManager(db, finalizer, eventPublisher, redisClient, gatewayClient,
		checkout.PollerConfig{
			InitialDelay: cfg.Polling.InitialDelay,
			Interval:     cfg.Polling.Interval,
			MaxAttempts:  cfg.Polling.MaxAttempts,
		},
		checkout.ArbitratorConfig{
			GuardTTL:       cfg.Checkout.GuardTTL,
			ResolveTimeout: cfg.Checkout.ResolveTimeout,
		})

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	reconciler := worker.NewReconciler(db, gatewayClient, finalizer, redisClient, sessions, eventPublisher,
		worker.ReconcilerConfig{
			Interval:   cfg.Checkout.ReconcileInterval,
			StaleAge:   cfg.Checkout.StaleAge,
			AbandonAge: cfg.Checkout.AbandonAge,
			BatchSize:  cfg.Checkout.ReconcileBatchSize,
			GuardTTL:   cfg.Checkout.GuardTTL,
		})
	go reconciler.Run(workerCtx)

	deliveryConsumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.DeliveryTopic, cfg.Kafka.ConsumerGroup)
	deliveryWorker := worker.NewDeliveryWorker(deliveryConsumer, db)
	go func() {
		if err := deliveryWorker.Start(workerCtx); err != nil {
			log.Printf("Delivery worker error: %v", err)
		}
	}()

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(initiator, sessions, db)
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		log.Printf("Starting HTTP server on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	// Live sessions stop polling; their pending orders are the reconciler's
	// problem on the next boot.
	sessions.Shutdown()

	workerCancel()
	deliveryWorker.Stop()

	log.Println("Server exited")
}
