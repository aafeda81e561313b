package main

import (
	"context"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/streadway/amqp"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/speedwaystore/admin-push/internal/config"
	"github.com/speedwaystore/admin-push/internal/consumer"
	"github.com/speedwaystore/admin-push/internal/models"
	"github.com/speedwaystore/admin-push/internal/repository"
	"github.com/speedwaystore/admin-push/internal/routes"
	"github.com/speedwaystore/admin-push/internal/services"
	"github.com/speedwaystore/admin-push/pkg/logger"
	"github.com/speedwaystore/admin-push/pkg/metrics"
	"github.com/speedwaystore/admin-push/pkg/retry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	logr := logger.New(cfg.LogLevel, cfg.LogFormat)
	logr.Info("starting admin push service", slog.String("app", cfg.AppName))

	identity, err := services.LoadServiceIdentity(cfg.ServiceAccountFile)
	if err != nil {
		logr.Error("failed to load service account", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metricsCollector := metrics.New()
	connectCfg := retry.Config{
		MaxAttempts:    cfg.ConnectMaxAttempts,
		InitialBackoff: cfg.ConnectInitialBackoff,
		MaxBackoff:     cfg.ConnectMaxBackoff,
		OnRetry: func(attempt int, err error, wait time.Duration) {
			logr.Warn("connect attempt failed", slog.Int("attempt", attempt), slog.Duration("wait", wait), slog.Any("error", err))
		},
	}

	registry, closeRegistry, err := openRegistry(ctx, cfg, identity, connectCfg, logr)
	if err != nil {
		logr.Error("failed to open subscriber registry", slog.String("backend", cfg.RegistryBackend), slog.Any("error", err))
		os.Exit(1)
	}
	defer closeRegistry()

	var suppressor services.TokenSuppressor
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			opts = &redis.Options{Addr: cfg.RedisURL}
		}
		redisRepo := repository.NewRedisRepository(redis.NewClient(opts), cfg.SuppressionTTL)
		defer redisRepo.Close()
		if err := redisRepo.Ping(ctx); err != nil {
			logr.Warn("redis unreachable, token suppression degraded", slog.Any("error", err))
		}
		suppressor = redisRepo
	}

	broker, err := services.NewCredentialBroker(services.CredentialBrokerConfig{
		Identity:    identity,
		Timeout:     cfg.AuthTimeout,
		CacheTokens: cfg.TokenCache,
		Logger:      logr,
		Metrics:     metricsCollector,
	})
	if err != nil {
		logr.Error("failed to create credential broker", slog.Any("error", err))
		os.Exit(1)
	}

	resolver := services.NewRecipientResolver(registry, suppressor, cfg.AdminRole, cfg.RegistryTimeout, logr)
	fcmProvider := services.NewFCMProvider(cfg.FCMEndpoint, identity.ProjectID, cfg.ProviderTimeout, logr)
	dispatcher := services.NewDispatcher(
		broker,
		resolver,
		fcmProvider,
		suppressor,
		metricsCollector,
		logr,
		services.DispatcherConfig{
			Concurrency:     cfg.DeliveryConcurrency,
			ProviderTimeout: cfg.ProviderTimeout,
			SuppressionTTL:  cfg.SuppressionTTL,
			Template: services.PayloadTemplate{
				Title: cfg.NotificationTitle,
				Body:  cfg.NotificationBody,
			},
		},
	)

	started := time.Now()
	orders := routes.NewOrderHandler(dispatcher, metricsCollector, logr)
	httpSrv := startHTTPServer(cfg.HTTPPort, routes.NewRouter(orders, metricsCollector, cfg.CORSAllowedOrigins, started), logr)

	if cfg.RabbitURL != "" {
		runOrderConsumer(ctx, cfg, connectCfg, dispatcher, metricsCollector, logr)
	} else {
		<-ctx.Done()
	}

	shutdownHTTP(httpSrv, logr)
	logr.Info("admin push service stopped")
}

func openRegistry(ctx context.Context, cfg *config.Config, identity models.ServiceIdentity, connectCfg retry.Config, logr *slog.Logger) (services.Registry, func(), error) {
	if cfg.RegistryBackend == config.RegistryPostgres {
		var db *gorm.DB
		err := retry.Do(ctx, connectCfg, func() error {
			var err error
			db, err = gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{})
			return err
		})
		if err != nil {
			return nil, nil, err
		}
		store := repository.NewSubscriberStore(db, cfg.SubscriberTable)
		if cfg.RegistryAutoMigrate {
			if err := store.Migrate(ctx); err != nil {
				return nil, nil, err
			}
		}
		closeDB := func() {
			if sqlDB, err := db.DB(); err == nil {
				closeQuietly(sqlDB, logr)
			}
		}
		return store, closeDB, nil
	}

	client, err := repository.NewFirestoreClient(ctx, identity.ProjectID, cfg.ServiceAccountFile)
	if err != nil {
		return nil, nil, err
	}
	registry := repository.NewFirestoreRegistry(client, cfg.SubscriberCollection, cfg.AddressField)
	return registry, func() { closeQuietly(client, logr) }, nil
}

func runOrderConsumer(ctx context.Context, cfg *config.Config, connectCfg retry.Config, dispatcher consumer.Dispatcher, metricsCollector *metrics.Metrics, logr *slog.Logger) {
	var conn *amqp.Connection
	err := retry.Do(ctx, connectCfg, func() error {
		var err error
		conn, err = amqp.Dial(cfg.RabbitURL)
		return err
	})
	if err != nil {
		logr.Error("failed to connect rabbitmq, order consumer disabled", slog.Any("error", err))
		<-ctx.Done()
		return
	}
	defer conn.Close()

	topology := consumer.Topology{
		Exchange:   cfg.OrderExchange,
		RoutingKey: cfg.OrderRoutingKey,
		Queue:      cfg.OrderQueue,
		DeadLetter: cfg.OrderDLQ,
	}
	queue := consumer.NewQueue(conn, topology, cfg.PrefetchCount, cfg.WorkerCount, logr)
	orderConsumer := consumer.NewOrderConsumer(queue, dispatcher, metricsCollector, logr)
	if err := orderConsumer.Start(ctx); err != nil {
		logr.Error("order consumer exited", slog.Any("error", err))
		<-ctx.Done()
	}
}

func startHTTPServer(port string, handler http.Handler, logr *slog.Logger) *http.Server {
	if port == "" {
		port = "3000"
	}
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logr.Info("http server listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logr.Error("http server error", slog.Any("error", err))
		}
	}()
	return srv
}

func shutdownHTTP(srv *http.Server, logr *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logr.Error("failed to shutdown http server", slog.Any("error", err))
	}
}

func closeQuietly(c io.Closer, logr *slog.Logger) {
	if err := c.Close(); err != nil {
		logr.Warn("close failed", slog.Any("error", err))
	}
}
