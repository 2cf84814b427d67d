package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	kafkago "github.com/segmentio/kafka-go"
	log "github.com/sirupsen/logrus"

	"twin-relay/pkg/kafka"
	"twin-relay/pkg/logging"
	"twin-relay/pkg/observability"
	"twin-relay/pkg/pprof"
	"twin-relay/pkg/schema"
	"twin-relay/telemetry-relay/internal/config"
	"twin-relay/telemetry-relay/internal/relay"
	"twin-relay/telemetry-relay/internal/twinstore"
)

const serviceName = "telemetry-relay"

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := logging.New(serviceName, cfg.LogLevel)
	logger.Infof("Starting up %s ...", serviceName)

	pprof.Start(cfg.PprofPort, logger)

	observability.Init()
	observability.ServeMetrics(cfg.MetricsPort)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sch, err := schema.Lookup(cfg.Schema)
	if err != nil {
		logger.WithError(err).Fatal("unknown telemetry schema")
	}

	store, err := twinstore.Open(ctx, twinstore.Options{
		Kind:           cfg.TwinStore,
		PostgresDSN:    cfg.TwinStoreURL,
		MigrationsPath: cfg.MigrationsPath,
		DynamoTable:    cfg.DynamoTable,
		DynamoEndpoint: cfg.DynamoEndpoint,
	}, logger)
	if err != nil {
		logger.WithError(err).Fatal("failed to open twin store")
	}
	defer store.Close()

	if cfg.CreateTwin {
		if err := store.EnsureTwin(ctx, cfg.TwinID); err != nil {
			logger.WithError(err).WithField("twin_id", cfg.TwinID).Fatal("failed to create twin")
		}
	}

	compression, _ := kafka.ParseCompression(cfg.KafkaCompression)
	producer := kafka.NewMultiTopicProducer(cfg.Brokers(), compression, logger, cfg.TwinChangesTopic, cfg.DLQTopic)
	defer producer.Close()

	var updater relay.Updater = store
	if cfg.TwinChangesTopic != "" {
		updater = twinstore.NewNotifier(store, producer, cfg.TwinChangesTopic)
	}

	r := relay.New(sch, cfg.TwinID, updater, logger)

	handler := kafka.BatchHandlerFunc(func(ctx context.Context, msgs []kafkago.Message) []error {
		payloads := make([][]byte, len(msgs))
		for i, m := range msgs {
			payloads[i] = m.Value
		}
		results := r.HandleBatch(ctx, payloads)
		relay.Report(logger, results)
		return relay.Errors(results)
	})

	consumer := kafka.NewBatchConsumer(kafka.ConsumerConfig{
		Brokers:      cfg.Brokers(),
		Topic:        cfg.KafkaTopic,
		GroupID:      cfg.GroupID,
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
		DLQTopic:     cfg.DLQTopic,
	}, handler, producer, logger)
	defer consumer.Close()

	logger.WithFields(log.Fields{
		"topic":   cfg.KafkaTopic,
		"twin_id": cfg.TwinID,
		"store":   cfg.TwinStore,
	}).Info("telemetry relay started")

	if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.WithError(err).Error("consumer stopped")
	}
}
