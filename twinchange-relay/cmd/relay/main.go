package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"twin-relay/pkg/kafka"
	"twin-relay/pkg/logging"
	"twin-relay/pkg/observability"
	"twin-relay/pkg/pprof"
	"twin-relay/pkg/schema"
	"twin-relay/twinchange-relay/internal/command"
	"twin-relay/twinchange-relay/internal/config"
	"twin-relay/twinchange-relay/internal/relay"
)

const (
	serviceName  = "twinchange-relay"
	dialAttempts = 10
)

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

	sender := dialCommandChannel(ctx, cfg, logger)
	if sender == nil {
		return
	}
	defer sender.Close()

	r := relay.New(sch, cfg.DeviceID, sender, logger)

	pool := kafka.NewPool(ctx, cfg.WorkerCount, cfg.BatchSize, logger)
	defer func() {
		logger.Info("shutting down pool...")
		pool.Shutdown()
	}()
	observability.RegisterQueueDepth(serviceName, pool.QueueLen)

	producer := kafka.NewMultiTopicProducer(cfg.Brokers(), 0, logger, cfg.DLQTopic)
	defer producer.Close()

	handler := kafka.Fanout(pool, kafka.HandlerFunc(func(ctx context.Context, _ string, value []byte) error {
		res := r.Handle(ctx, value)
		relay.Report(logger, res)
		return res.Err
	}))

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
		"topic":     cfg.KafkaTopic,
		"device_id": cfg.DeviceID,
		"exchange":  cfg.CommandExchange,
	}).Info("twin change relay started")

	if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.WithError(err).Error("consumer stopped")
	}
}

// dialCommandChannel retries until the broker accepts the connection. It returns nil when ctx
// ends first.
func dialCommandChannel(ctx context.Context, cfg *config.Config, logger *log.Entry) *command.AMQPSender {
	for attempt := 1; ; attempt++ {
		sender, err := command.DialAMQP(cfg.CommandChannelURL, cfg.CommandExchange)
		if err == nil {
			return sender
		}
		if attempt >= dialAttempts {
			logger.WithError(err).Fatal("unable to connect to the command channel")
		}
		logger.WithError(err).WithField("attempt", attempt).Warn("command channel not reachable, retrying")

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(2 * time.Second):
		}
	}
}
