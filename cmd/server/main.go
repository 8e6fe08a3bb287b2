package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"nuvex-backend-go/internal/api"
	"nuvex-backend-go/internal/billing"
	"nuvex-backend-go/internal/cache"
	"nuvex-backend-go/internal/config"
	"nuvex-backend-go/internal/core"
	"nuvex-backend-go/internal/db"
	"nuvex-backend-go/internal/identity"
	"nuvex-backend-go/internal/mailer"
	"nuvex-backend-go/internal/metrics"
	"nuvex-backend-go/internal/middleware"
	"nuvex-backend-go/internal/objectstore"
	"nuvex-backend-go/internal/queue"
	"nuvex-backend-go/internal/scheduler"
)

func main() {
	// --- 1. Load Application Configuration ---
	appConfig, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("CRITICAL_ERROR: Failed to load application configuration: %v", err)
	}

	// --- 2. Initialize Logger (Zap) ---
	var zapLogger *zap.Logger
	if appConfig.IsProduction() {
		zapLogger, err = zap.NewProduction()
	} else {
		zapLogger, err = zap.NewDevelopment()
	}
	if err != nil {
		log.Fatalf("CRITICAL_ERROR: Failed to initialize Zap logger: %v", err)
	}
	defer zapLogger.Sync()
	zapLogger.Info("Configuration loaded and logger initialized.", zap.String("appEnv", appConfig.AppEnv))

	// --- 3. Initialize Firebase Admin SDK (Firestore and Auth clients) ---
	initCtx, cancelInitCtx := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancelInitCtx()
	firebaseClients, err := db.NewFirebaseClients(initCtx, appConfig, zapLogger)
	if err != nil {
		zapLogger.Fatal("CRITICAL_ERROR: Failed to initialize Firebase Admin SDK", zap.Error(err))
	}
	defer firebaseClients.Close()

	// --- 4. Initialize Repositories ---
	accountRepo := db.NewFirestoreAccountRepository(firebaseClients.Firestore)
	documentRepo := db.NewFirestoreDocumentRepository(firebaseClients.Firestore)
	notificationRepo := db.NewFirestoreNotificationRepository(firebaseClients.Firestore)
	zapLogger.Info("Repositories initialized successfully.")

	// --- 5. Initialize External Providers (Stripe, R2, Cloudinary) ---
	stripeProvider, err := billing.NewStripeProvider(billing.StripeConfig{
		SecretKey:     appConfig.StripeSecretKey,
		WebhookSecret: appConfig.StripeWebhookSecret,
		ClientURL:     appConfig.ClientURL,
		HTTPTimeout:   appConfig.ExternalCallTimeout,
	})
	if err != nil {
		zapLogger.Fatal("CRITICAL_ERROR: Failed to initialize Stripe provider", zap.Error(err))
	}

	r2Store, err := objectstore.NewR2Store(initCtx, objectstore.R2Config{
		Endpoint:        appConfig.R2Endpoint,
		AccessKeyID:     appConfig.R2AccessKeyID,
		SecretAccessKey: appConfig.R2SecretAccessKey,
		Bucket:          appConfig.R2BucketName,
		PresignTTL:      appConfig.R2PresignTTL,
	})
	if err != nil {
		zapLogger.Fatal("CRITICAL_ERROR: Failed to initialize R2 store", zap.Error(err))
	}
	cloudinaryStore, err := objectstore.NewCloudinaryStore(objectstore.CloudinaryConfig{
		URL:       appConfig.CloudinaryURL,
		CloudName: appConfig.CloudinaryCloudName,
		APIKey:    appConfig.CloudinaryAPIKey,
		APISecret: appConfig.CloudinaryAPISecret,
		Folder:    appConfig.CloudinaryFolder,
	})
	if err != nil {
		zapLogger.Fatal("CRITICAL_ERROR: Failed to initialize Cloudinary store", zap.Error(err))
	}
	objects := objectstore.NewRouter(r2Store, cloudinaryStore)
	zapLogger.Info("Stripe, R2 and Cloudinary clients initialized successfully.")

	// --- 6. Initialize Optional Infrastructure (Redis, RabbitMQ) ---
	// Both degrade gracefully: without Redis, webhook dedupe falls back to transaction
	// references; without RabbitMQ, notifications are written to the inbox only.
	healthChecks := map[string]api.Pinger{}
	var ledger core.EventLedger
	redisClient, err := cache.NewRedisClient(initCtx, cache.RedisConfig{
		Address:  appConfig.RedisAddr,
		Password: appConfig.RedisPassword,
		DB:       appConfig.RedisDB,
	})
	if err != nil {
		zapLogger.Warn("Redis unavailable; webhook event ledger disabled", zap.Error(err))
	} else {
		defer redisClient.Close()
		eventLedger := cache.NewEventLedger(redisClient, time.Duration(appConfig.WebhookEventTTLDays)*24*time.Hour)
		ledger = eventLedger
		healthChecks["redis"] = eventLedger
	}

	workerCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()
	workerDone := make(chan struct{})

	var emails core.EmailQueue
	mq, err := connectMailQueue(appConfig, zapLogger)
	if err != nil {
		zapLogger.Warn("Mail queue unavailable; alert emails disabled", zap.Error(err))
		close(workerDone)
	} else {
		defer mq.Close()
		emails = mq
		go runMailWorker(workerCtx, mq, appConfig, zapLogger, workerDone)
	}

	// --- 7. Initialize Metrics ---
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	appMetrics := metrics.New(registry)

	// --- 8. Initialize Services ---
	lifecycleCfg := core.LifecycleConfig{
		PlanName:            appConfig.PlanName,
		MonthlyPriceID:      appConfig.StripeMonthlyPrice,
		AnnualPriceID:       appConfig.StripeAnnualPrice,
		DefaultTrialDays:    appConfig.DefaultTrialDays,
		ExtendedTrialDays:   appConfig.ExtendedTrialDays,
		ExternalCallTimeout: appConfig.ExternalCallTimeout,
	}
	notificationService := core.NewNotificationService(notificationRepo, accountRepo, emails, appConfig.ExternalCallTimeout, appMetrics, zapLogger)
	quotaService := core.NewQuotaService(accountRepo, notificationService, appConfig.StorageLimitBytes, appConfig.ExternalCallTimeout, appMetrics, zapLogger)
	lifecycleService := core.NewLifecycleService(accountRepo, stripeProvider, ledger, notificationService, lifecycleCfg, appMetrics, zapLogger)
	billingService := core.NewBillingService(accountRepo, stripeProvider, lifecycleCfg, appMetrics, zapLogger)
	documentService := core.NewDocumentService(documentRepo, accountRepo, objects, quotaService, notificationService, core.DocumentConfig{
		MaxUploadBytes:      appConfig.MaxUploadBytes,
		ExternalCallTimeout: appConfig.ExternalCallTimeout,
	}, appMetrics, zapLogger)
	accountService := core.NewAccountService(identity.NewFirebaseIdentity(firebaseClients.Auth), lifecycleService, lifecycleCfg, appMetrics, zapLogger)
	zapLogger.Info("Core services initialized successfully.")

	dueDateJob := scheduler.NewDueDateJob(documentRepo, notificationService, time.Minute, appMetrics, zapLogger)
	if err := dueDateJob.Start(appConfig.DueDateCronSpec); err != nil {
		zapLogger.Fatal("CRITICAL_ERROR: Failed to schedule due date job", zap.Error(err))
	}

	// --- 9. Setup Gin HTTP Engine and Global Middleware ---
	if strings.ToLower(appConfig.GinMode) == "release" || appConfig.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}
	router := gin.New()
	router.Use(middleware.RequestLogger(zapLogger))
	router.Use(middleware.RecoveryMiddleware(zapLogger))
	router.Use(middleware.CORSMiddleware(appConfig.ClientURL))
	router.Use(appMetrics.GinMiddleware())

	// --- 10. Setup API Routes ---
	authMW := middleware.NewAuthMiddleware(firebaseClients.Auth, zapLogger)
	api.SetupRoutes(router, authMW, zapLogger, api.Services{
		Accounts:  accountService,
		Lifecycle: lifecycleService,
		Billing:   billingService,
		Documents: documentService,
	}, api.RouteOptions{
		MaxUploadBytes: appConfig.MaxUploadBytes,
		Metrics:        appMetrics,
		HealthChecks:   healthChecks,
	})

	// --- 11. Configure and Start HTTP Server ---
	serverAddr := fmt.Sprintf(":%s", appConfig.Port)
	httpServer := &http.Server{
		Addr:              serverAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	zapLogger.Info("Starting HTTP server...", zap.String("address", serverAddr), zap.String("ginMode", gin.Mode()))
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zapLogger.Fatal("Failed to start HTTP server", zap.Error(err))
		}
	}()

	// --- 12. Graceful Shutdown Handling ---
	quitChannel := make(chan os.Signal, 1)
	signal.Notify(quitChannel, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quitChannel
	zapLogger.Info("Received shutdown signal", zap.String("signal", sig.String()))

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancelShutdown()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		zapLogger.Error("HTTP server forced to shut down", zap.Error(err))
	}
	dueDateJob.Stop()
	// Pending notifications may still enqueue mail, so they drain before the worker stops.
	notificationService.Wait()
	stopWorkers()
	select {
	case <-workerDone:
	case <-shutdownCtx.Done():
		zapLogger.Warn("Mail worker did not stop before the shutdown deadline")
	}

	zapLogger.Info("Server exiting gracefully.")
}

func connectMailQueue(appConfig *config.Config, logger *zap.Logger) (*queue.RabbitMQ, error) {
	if appConfig.RabbitMQURL == "" {
		return nil, errors.New("RABBITMQ_URL is not set")
	}
	return queue.NewRabbitMQ(appConfig.RabbitMQURL, appConfig.MailQueueName, logger)
}

// runMailWorker consumes email jobs until ctx is cancelled, then closes done.
func runMailWorker(ctx context.Context, mq *queue.RabbitMQ, appConfig *config.Config, logger *zap.Logger, done chan<- struct{}) {
	defer close(done)

	smtpMailer, err := mailer.NewSMTPMailer(appConfig.SMTPHost, appConfig.SMTPPort, appConfig.SMTPUser, appConfig.SMTPPass, appConfig.MailFrom)
	if err != nil {
		logger.Warn("SMTP mailer not configured; queued emails stay in the queue", zap.Error(err))
		return
	}
	worker := queue.NewMailWorker(smtpMailer, logger, 2*time.Minute)
	if err := mq.Consume(ctx, worker.Handle); err != nil {
		logger.Error("Mail worker stopped", zap.Error(err))
	}
}
