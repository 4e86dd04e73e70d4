package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"example.com/signup/internal/api"
	"example.com/signup/internal/config"
	"example.com/signup/internal/domain"
	"example.com/signup/internal/observability"
	"example.com/signup/internal/outbox"
	"example.com/signup/internal/registry"
	httptransport "example.com/signup/internal/transport/http"
	"example.com/signup/internal/web"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "signup-api: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger, err := observability.NewLogger(cfg.LogLevel, "signup-api")
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := registry.NewInMemoryStore(registry.DefaultCatalog())
	observability.SeedRosterSizes(store.RosterSizes())

	publisher, dispatcher, closeProducer := buildPublisher(cfg, logger)
	defer closeProducer()
	if dispatcher != nil {
		go dispatcher.Start(ctx)
	}
	defer func() {
		cancel()
		if dispatcher != nil {
			dispatcher.Wait()
		}
	}()

	service := domain.NewService(store, publisher,
		domain.WithLogger(logger),
		domain.WithRosterObserver(observability.RecordRosterSize),
	)

	mux := http.NewServeMux()
	api.NewHandler(service, logger).RegisterRoutes(mux)
	web.RegisterRoutes(mux)
	mux.Handle("/metrics", promhttp.Handler())

	server := httptransport.NewServer(
		httptransport.DefaultServerConfig(cfg.HTTPAddress),
		httptransport.Chain(mux, httptransport.AccessLog(logger), httptransport.CORS(cfg.CORSOrigin)),
	)

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("signup-api listening", zap.String("address", cfg.HTTPAddress))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-shutdownCh:
		logger.Info("shutdown requested")
	case err := <-serverErr:
		return fmt.Errorf("server error: %w", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown failed", zap.Error(err))
	}
	return nil
}

// buildPublisher returns the event publisher for the configured environment.
// Without Kafka brokers roster events are discarded.
func buildPublisher(cfg config.Config, logger *zap.Logger) (domain.Publisher, *outbox.Dispatcher, func()) {
	if !cfg.EventsEnabled() {
		logger.Info("KAFKA_BROKERS not set, roster events disabled")
		return domain.NoopPublisher{}, nil, func() {}
	}

	producer := outbox.NewKafkaProducer(cfg.KafkaBrokers, logger.Named("kafka"))

	var registrar outbox.SchemaRegistrar = outbox.StaticRegistrar{}
	if cfg.SchemaRegistryURL != "" {
		registrar = outbox.NewSchemaRegistryClient(cfg.SchemaRegistryURL)
		logger.Info("schema registry enabled", zap.String("url", cfg.SchemaRegistryURL))
	}

	dispatcher := outbox.NewDispatcher(producer, registrar, outbox.Config{
		Topic:        cfg.RosterTopic,
		PollInterval: cfg.DispatchInterval,
		BatchSize:    cfg.DispatchBatchSize,
		QueueSize:    cfg.DispatchQueueSize,
	}, outbox.WithLogger(logger.Named("outbox")))

	logger.Info("roster events enabled",
		zap.Strings("brokers", cfg.KafkaBrokers),
		zap.String("topic", cfg.RosterTopic))

	return dispatcher, dispatcher, func() {
		if err := producer.Close(); err != nil {
			logger.Warn("kafka producer close failed", zap.Error(err))
		}
	}
}
