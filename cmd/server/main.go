package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"workbridge/internal/api"
	"workbridge/internal/app/resilience"
	"workbridge/internal/app/service"
	"workbridge/internal/app/sweep"
	"workbridge/internal/common/security"
	"workbridge/internal/domain/repository"
	"workbridge/internal/notify"
	"workbridge/internal/platform/config"
	"workbridge/internal/platform/database"
	"workbridge/internal/platform/gateway"
	"workbridge/internal/platform/logger"
	"workbridge/internal/platform/queue"

	amqp "github.com/rabbitmq/amqp091-go"
)

func main() {
	// 1. Load Configuration
	config.Load()

	// 2. Logger & JWT
	appLogger := logger.New(config.AppConfig.LogLevel, config.AppConfig.LogFormat)
	security.InitJWT()

	// 3. Initialize Database
	database.Connect()
	defer database.Close()

	// 4. Initialize Redis
	queue.ConnectRedis()
	defer queue.CloseRedis()

	// 5. Notifications. AMQP being down degrades to a no-op notifier; the
	// engine keeps serving, parties just miss push events.
	var notifier notify.Notifier = notify.NopNotifier{}
	amqpConn, err := amqp.Dial(config.AppConfig.AmqpURL)
	if err != nil {
		appLogger.Warn("amqp unavailable, notifications disabled", "error", err)
	} else {
		defer amqpConn.Close()
		amqpNotifier, err := notify.NewAmqpNotifier(amqpConn, config.AppConfig.AmqpExchange, appLogger)
		if err != nil {
			log.Fatalf("Could not set up notifier: %v", err)
		}
		defer amqpNotifier.Close()
		notifier = amqpNotifier
	}

	// 6. Store & platform collaborators
	store := repository.NewPgStore(database.DB)
	dedup := queue.NewDuplicateChecker(queue.RDB, config.AppConfig.BidDedupFilterKey)
	reconcileQueue := queue.NewReconciliationQueue(queue.RDB, config.AppConfig.ReconciliationQueueKey)
	paymentGateway := gateway.NewHTTPGateway(
		config.AppConfig.GatewayBaseURL,
		time.Duration(config.AppConfig.GatewayTimeoutSeconds)*time.Second,
	)
	gatewayDecorator := resilience.New[*gateway.Receipt](resilience.Options{
		Name:         "payment-gateway",
		MinRequests:  uint32(config.AppConfig.BreakerMinRequests),
		FailureRatio: config.AppConfig.BreakerFailureRatio,
		OpenTimeout:  time.Duration(config.AppConfig.BreakerOpenTimeoutSecs) * time.Second,
		MaxAttempts:  config.AppConfig.PaymentRetryMaxAttempts,
		InitialDelay: time.Duration(config.AppConfig.PaymentRetryInitialMs) * time.Millisecond,
		MaxDelay:     time.Duration(config.AppConfig.PaymentRetryMaxMs) * time.Millisecond,
	}, appLogger)

	// 7. Initialize Services
	penaltyService := service.NewPenaltyService(store, notifier, appLogger,
		config.AppConfig.CancellationThreshold,
		config.AppConfig.PenaltyBlockDays,
		config.AppConfig.SweepBatchSize,
	)
	jobService := service.NewJobService(store, penaltyService, notifier, appLogger,
		time.Duration(config.AppConfig.JobExpiryGraceHours)*time.Hour,
		config.AppConfig.SweepBatchSize,
	)
	bidService := service.NewBidService(store, dedup, notifier, appLogger)
	paymentService := service.NewPaymentService(store, paymentGateway, gatewayDecorator, reconcileQueue, notifier, appLogger)
	confirmationService := service.NewConfirmationService(store, paymentService, notifier, appLogger)

	// 8. Sweeps (job expiration, worker reinstatement)
	sweeper := sweep.New(queue.RDB, time.Duration(config.AppConfig.SweepLeaseTTLSeconds)*time.Second, appLogger)
	if err := sweeper.Register("job-expiry", config.AppConfig.JobExpirySpec, func(ctx context.Context) error {
		_, err := jobService.ExpireStaleJobs(ctx)
		return err
	}); err != nil {
		log.Fatalf("Could not register job expiry sweep: %v", err)
	}
	if err := sweeper.Register("worker-unblock", config.AppConfig.WorkerUnblockSpec, func(ctx context.Context) error {
		_, err := penaltyService.UnblockExpiredWorkers(ctx)
		return err
	}); err != nil {
		log.Fatalf("Could not register worker unblock sweep: %v", err)
	}
	sweeper.Start()

	// 9. Initialize Router & HTTP Server
	router := api.NewRouter(jobService, bidService, confirmationService, paymentService, penaltyService)

	server := &http.Server{
		Addr:         ":" + config.AppConfig.APIPort,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// 10. Graceful Shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	go func() {
		appLogger.Info("server starting", "port", config.AppConfig.APIPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Could not listen on %s: %v\n", config.AppConfig.APIPort, err)
		}
	}()

	<-stop

	appLogger.Info("shutting down")
	sweeper.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server shutdown failed: %v", err)
	}

	appLogger.Info("stopped gracefully")
}
