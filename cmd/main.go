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

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/markjakearzadon/recetra-gobackend/internal/auth"
	"github.com/markjakearzadon/recetra-gobackend/internal/cache"
	"github.com/markjakearzadon/recetra-gobackend/internal/config"
	"github.com/markjakearzadon/recetra-gobackend/internal/db"
	"github.com/markjakearzadon/recetra-gobackend/internal/events"
	"github.com/markjakearzadon/recetra-gobackend/internal/handlers"
	"github.com/markjakearzadon/recetra-gobackend/internal/idgen"
	"github.com/markjakearzadon/recetra-gobackend/internal/providers"
	"github.com/markjakearzadon/recetra-gobackend/internal/services"
	"github.com/markjakearzadon/recetra-gobackend/internal/store"
	"github.com/markjakearzadon/recetra-gobackend/internal/templates"
)

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, err
	}
	cfg.Level = lvl
	return cfg.Build()
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Receipts and templates live in MongoDB when configured, in memory otherwise.
	var (
		receipts store.ReceiptStore
		catalog  templates.Manager
	)
	if cfg.MongoURI != "" {
		client, err := db.Connect(ctx, cfg.MongoURI, logger)
		if err != nil {
			logger.Fatal("failed to connect to MongoDB", zap.Error(err))
		}
		defer func() {
			dctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := client.Disconnect(dctx); err != nil {
				logger.Error("error disconnecting from MongoDB", zap.Error(err))
			}
		}()
		database := client.Database(cfg.MongoDB)
		mongoStore := store.NewMongoStore(database, logger)
		if err := mongoStore.EnsureIndexes(ctx); err != nil {
			logger.Fatal("failed to create receipt indexes", zap.Error(err))
		}
		receipts = mongoStore
		catalog = templates.NewMongoCatalog(database)
	} else {
		logger.Warn("MONGOURI not set, receipts are kept in memory")
		receipts = store.NewMemoryStore()
		catalog = templates.NewMemoryCatalog()
	}

	// Redis shares receipt sequences across instances and caches verifications.
	var (
		sequencer idgen.Sequencer
		summaries cache.SummaryCache
	)
	if cfg.RedisAddr != "" {
		rdb, err := db.ConnectRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, logger)
		if err != nil {
			logger.Fatal("failed to connect to Redis", zap.Error(err))
		}
		defer rdb.Close()
		sequencer = idgen.NewRedisSequencer(redis.UniversalClient(rdb), "")
		summaries = cache.NewRedisSummaryCache(rdb, cfg.CacheTTL, logger)
	}

	var publisher events.Publisher = events.Nop{}
	if len(cfg.KafkaBrokers) > 0 {
		kp := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, logger)
		defer func() {
			if err := kp.Close(); err != nil {
				logger.Error("error closing event publisher", zap.Error(err))
			}
		}()
		publisher = kp
	}

	sim := providers.NewSimulated("sim", cfg.SimLatency, cfg.SimFailureRate, time.Now().UnixNano(), logger)
	var payment providers.PaymentProvider = sim
	if cfg.XenditSecretKey != "" {
		payment = providers.NewXendit(providers.XenditConfig{
			SecretKey: cfg.XenditSecretKey,
			BaseURL:   cfg.XenditBaseURL,
			PublicURL: cfg.PublicURL,
		}, &http.Client{Timeout: cfg.ProviderTimeout}, logger)
		logger.Info("using Xendit invoices for payment")
	}

	reconciler := services.NewReconciler(receipts, summaries, publisher, logger)
	dispatcher := services.NewDispatcher(
		services.Providers{Payment: payment, Email: sim, SMS: sim},
		catalog,
		reconciler,
		services.DispatchConfig{
			MaxRetries:  cfg.DispatchMaxRetries,
			Backoff:     cfg.DispatchBackoff,
			CallTimeout: cfg.ProviderTimeout,
		},
		logger,
	)
	verifier := services.NewVerifier(receipts, summaries, logger)
	receiptService := services.NewReceiptService(receipts, idgen.NewGenerator(sequencer, logger), dispatcher, reconciler, verifier, publisher, logger)
	templateService := services.NewTemplateService(catalog, logger)

	router := handlers.NewRouter(handlers.Routes{
		Receipts:  handlers.NewReceiptHandler(receiptService, logger),
		Payments:  handlers.NewPaymentHandler(receiptService, cfg.XenditWebhookToken, logger),
		Templates: handlers.NewTemplateHandler(templateService, logger),
		Issuer:    auth.NewIssuer(cfg.JWTSecret),
		Logger:    logger,
	})

	server := &http.Server{
		Addr:         "0.0.0.0:" + cfg.Port,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 2 * cfg.ProviderTimeout,
	}

	go func() {
		logger.Info("server running", zap.String("port", cfg.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	// in-flight channels still write their outcomes
	dispatcher.Wait()
	logger.Info("all dispatches drained")
}
