package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/yashrajoria/reservation-service/apperrors"
	"github.com/yashrajoria/reservation-service/consumer"
	"github.com/yashrajoria/reservation-service/controllers"
	"github.com/yashrajoria/reservation-service/database"
	"github.com/yashrajoria/reservation-service/events"
	"github.com/yashrajoria/reservation-service/logger"
	"github.com/yashrajoria/reservation-service/middleware"
	"github.com/yashrajoria/reservation-service/models"
	"github.com/yashrajoria/reservation-service/notify"
	"github.com/yashrajoria/reservation-service/payment"
	awspkg "github.com/yashrajoria/reservation-service/pkg/aws"
	"github.com/yashrajoria/reservation-service/repository"
	"github.com/yashrajoria/reservation-service/routes"
	"github.com/yashrajoria/reservation-service/services"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const serviceName = "reservation-service"

func main() {
	bootstrap, err := zap.NewProduction()
	if err != nil {
		panic("failed to initialize logger: " + err.Error())
	}

	cfg, err := LoadConfig()
	if err != nil {
		bootstrap.Fatal("Config load failed", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- Logging and metrics (CloudWatch, both optional) ---
	cwLogs, err := awspkg.NewCloudWatchLogsClient(ctx, serviceName)
	if err != nil {
		bootstrap.Warn("CloudWatch logs client init failed (non-fatal)", zap.Error(err))
	}
	var logWriter *awspkg.CloudWatchLogsClient
	if cwLogs.IsEnabled() {
		logWriter = cwLogs
	}
	var log *zap.Logger
	if logWriter != nil {
		log, err = logger.InitializeWithWriter(cfg.Env, logWriter)
	} else {
		log, err = logger.Initialize(cfg.Env)
	}
	if err != nil {
		bootstrap.Fatal("Logger init failed", zap.Error(err))
	}
	defer log.Sync()

	metricsClient, err := awspkg.NewMetricsClient(ctx, serviceName)
	if err != nil {
		log.Warn("CloudWatch metrics client init failed (non-fatal)", zap.Error(err))
	}
	var metrics services.MetricsRecorder
	if metricsClient.IsEnabled() {
		metrics = metricsClient
	}

	// --- Stores ---
	mongoClient, db, err := database.ConnectMongo(cfg.MongoURL, cfg.MongoDBName, log)
	if err != nil {
		log.Fatal("MongoDB connection failed", zap.Error(err))
	}
	defer func() {
		if err := database.DisconnectMongo(mongoClient); err != nil {
			log.Warn("MongoDB disconnect failed", zap.Error(err))
		}
	}()

	stockRepo := repository.NewMongoStockRepository(db)
	orderRepo := repository.NewMongoOrderRepository(db)
	indexCtx, indexCancel := context.WithTimeout(ctx, 30*time.Second)
	if err := stockRepo.EnsureIndexes(indexCtx); err != nil {
		log.Fatal("Failed to create stock indexes", zap.Error(err))
	}
	if err := orderRepo.EnsureIndexes(indexCtx); err != nil {
		log.Fatal("Failed to create order indexes", zap.Error(err))
	}
	indexCancel()

	redisClient, err := database.NewRedisClient(cfg.RedisURL, log)
	if err != nil {
		log.Fatal("Redis connection failed", zap.Error(err))
	}
	defer redisClient.Close()

	var ledger repository.ReconciliationRepository
	var ledgerDB *gorm.DB
	if cfg.PostgresDSN != "" {
		ledgerDB, err = database.ConnectPostgres(cfg.PostgresDSN, log, &models.ReconciliationEntry{})
		if err != nil {
			log.Fatal("Reconciliation ledger connection failed", zap.Error(err))
		}
		defer database.ClosePostgres(ledgerDB)
		ledger = repository.NewGormReconciliationRepository(ledgerDB)
	} else {
		mongoLedger := repository.NewMongoReconciliationRepository(db)
		indexCtx, indexCancel := context.WithTimeout(ctx, 30*time.Second)
		if err := mongoLedger.EnsureIndexes(indexCtx); err != nil {
			log.Fatal("Failed to create reconciliation indexes", zap.Error(err))
		}
		indexCancel()
		log.Info("POSTGRES_DSN not set, reconciliation ledger stored in MongoDB")
		ledger = mongoLedger
	}

	// --- Outbound integrations ---
	var eventPublisher services.EventPublisher
	var producer *events.Producer
	if len(cfg.KafkaBrokers) > 0 {
		producer = events.NewProducer(cfg.KafkaBrokers, cfg.KafkaOrderTopic, log)
		eventPublisher = producer
	}

	var notifier services.Notifier
	var queue *awspkg.SQSConsumer
	if cfg.SNSOrderTopicArn != "" || cfg.PaymentEventsQueueURL != "" {
		awsCfg, err := awspkg.LoadAWSConfig(ctx)
		if err != nil {
			log.Fatal("Failed to load AWS config", zap.Error(err))
		}
		if cfg.SNSOrderTopicArn != "" {
			notifier = notify.NewSNSNotifier(awspkg.NewSNSClient(awsCfg), cfg.SNSOrderTopicArn, cfg.OrderLinkBaseURL, log)
		}
		if cfg.PaymentEventsQueueURL != "" {
			queue = awspkg.NewSQSConsumer(awsCfg, cfg.PaymentEventsQueueURL, log)
		}
	}

	// --- Services ---
	tx := repository.NewMongoTransactor(mongoClient)
	stockService := services.NewStockService(stockRepo, tx, cfg.LockTTL, metrics, log)
	sessionGuard := services.NewSessionGuard(repository.NewRedisSessionRepository(redisClient), cfg.SessionSecret, cfg.SessionTTL, metrics, log)

	deps := services.SettlementDeps{
		Stock:    stockRepo,
		Orders:   orderRepo,
		Tx:       tx,
		Verifier: payment.NewHMACVerifier(cfg.PaymentSecret),
		Sessions: sessionGuard,
		Ledger:   ledger,
		Cache:    repository.NewRedisSettlementCache(redisClient, cfg.SettlementCacheTTL),
		Notifier: notifier,
		Events:   eventPublisher,
		Metrics:  metrics,
	}
	settlementService := services.NewSettlementService(deps, log)

	lockSweeper, err := services.NewLockSweeper(stockRepo, services.SweeperConfig{
		Interval:  cfg.SweepInterval,
		LockTTL:   cfg.LockTTL,
		BatchSize: cfg.SweepBatchSize,
	}, metrics, eventPublisher, nil, log)
	if err != nil {
		log.Fatal("Invalid sweeper configuration", zap.Error(err))
	}
	sessionSweeper, err := services.NewSessionSweeper(repository.NewRedisSessionRepository(redisClient),
		cfg.SessionGCInterval, cfg.SessionUsedGrace, metrics, nil, log)
	if err != nil {
		log.Fatal("Invalid session sweeper configuration", zap.Error(err))
	}

	lockSweeper.Start(ctx)
	sessionSweeper.Start(ctx)

	consumerDone := make(chan struct{})
	if queue != nil {
		paymentConsumer := consumer.NewPaymentEventConsumer(queue, settlementService, log)
		go func() {
			defer close(consumerDone)
			paymentConsumer.Start(ctx)
		}()
	} else {
		close(consumerDone)
	}

	// --- HTTP ---
	ctrls := routes.Controllers{
		Stock:          controllers.NewStockController(stockService),
		Checkout:       controllers.NewCheckoutController(sessionGuard, stockService, log),
		Settlement:     controllers.NewSettlementController(settlementService),
		Webhook:        controllers.NewWebhookController(payment.NewStripeVerifier(cfg.StripeWebhookSecret), settlementService, log),
		Reconciliation: controllers.NewReconciliationController(ledger),
	}

	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Metrics(metricsClient))
	r.Use(middleware.RequestLogger(log))
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.CORS(cfg.CORSAllowedOrigins))
	r.Use(middleware.RateLimit(cfg.RateLimitPerMinute, cfg.RateLimitPerMinute/2+1))
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(apperrors.ErrorMiddleware())

	routes.RegisterRoutes(r, ctrls)

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "OK"})
	})

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: r}

	go func() {
		log.Info("Reservation Service starting", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// --- Graceful shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down Reservation Service...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}

	cancel()
	lockSweeper.Stop()
	sessionSweeper.Stop()
	<-consumerDone
	if producer != nil {
		if err := producer.Close(); err != nil {
			log.Warn("Kafka producer close failed", zap.Error(err))
		}
	}

	log.Info("Reservation Service stopped gracefully")
}
