// Lambda entrypoint for the telemetry relay, triggered by a Kafka event source mapping.
package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"sort"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	log "github.com/sirupsen/logrus"

	"twin-relay/pkg/event"
	"twin-relay/pkg/kafka"
	"twin-relay/pkg/logging"
	"twin-relay/pkg/schema"
	"twin-relay/telemetry-relay/internal/config"
	"twin-relay/telemetry-relay/internal/relay"
	"twin-relay/telemetry-relay/internal/twinstore"
)

type batchRelay interface {
	HandleBatch(ctx context.Context, payloads [][]byte) []relay.Result
}

type Handler struct {
	relay batchRelay
	log   *log.Entry
}

// HandleRequest relays every record of the invocation. Item failures are reported, never returned,
// so the event source does not redeliver the batch.
func (h *Handler) HandleRequest(ctx context.Context, ev events.KafkaEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			h.log.WithField("panic", r).Error("relay panic recovered")
			err = fmt.Errorf("internal error")
		}
	}()

	records, payloads, decodeErrs := decodeRecords(ev)
	for _, derr := range decodeErrs {
		h.log.WithError(derr).Warn("skipping undecodable kafka record")
	}

	results := h.relay.HandleBatch(ctx, payloads)
	failed := 0
	for i := range results {
		entry := h.log
		if i < len(records) {
			entry = recordLogger(h.log, records[i])
		}
		failed += relay.Report(entry, results[i:i+1])
	}
	h.log.WithFields(log.Fields{
		"records": len(payloads) + len(decodeErrs),
		"failed":  failed + len(decodeErrs),
	}).Info("processed telemetry batch")
	return nil
}

func recordLogger(logger *log.Entry, rec events.KafkaRecord) *log.Entry {
	return logger.WithFields(log.Fields{
		"topic":     rec.Topic,
		"partition": rec.Partition,
		"offset":    rec.Offset,
	})
}

// decodeRecords flattens the per-partition record lists in partition then offset order and
// base64-decodes each value. The returned records are index aligned with the payloads.
func decodeRecords(ev events.KafkaEvent) ([]events.KafkaRecord, [][]byte, []error) {
	keys := make([]string, 0, len(ev.Records))
	for k := range ev.Records {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sources []events.KafkaRecord
	var payloads [][]byte
	var errs []error
	for _, k := range keys {
		records := append([]events.KafkaRecord(nil), ev.Records[k]...)
		sort.SliceStable(records, func(i, j int) bool { return records[i].Offset < records[j].Offset })

		for _, rec := range records {
			value, err := base64.StdEncoding.DecodeString(rec.Value)
			if err != nil {
				errs = append(errs, fmt.Errorf("%w: %s-%d offset %d: %v", event.ErrMalformed, rec.Topic, rec.Partition, rec.Offset, err))
				continue
			}
			sources = append(sources, rec)
			payloads = append(payloads, value)
		}
	}
	return sources, payloads, errs
}

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := logging.New("telemetry-relay-lambda", cfg.LogLevel)
	logger.Info("telemetry relay: cold start")

	ctx := context.Background()

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
	if cfg.CreateTwin {
		if err := store.EnsureTwin(ctx, cfg.TwinID); err != nil {
			logger.WithError(err).WithField("twin_id", cfg.TwinID).Fatal("failed to create twin")
		}
	}

	var updater relay.Updater = store
	if cfg.TwinChangesTopic != "" {
		compression, _ := kafka.ParseCompression(cfg.KafkaCompression)
		producer := kafka.NewMultiTopicProducer(cfg.Brokers(), compression, logger, cfg.TwinChangesTopic)
		updater = twinstore.NewNotifier(store, producer, cfg.TwinChangesTopic)
	}

	h := &Handler{
		relay: relay.New(sch, cfg.TwinID, updater, logger),
		log:   logger,
	}
	lambda.Start(h.HandleRequest)
}
