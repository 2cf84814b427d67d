package kafka

import (
	"context"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"twin-relay/pkg/observability"
)

type ConsumerConfig struct {
	Brokers      []string
	Topic        string
	GroupID      string
	BatchSize    int
	BatchTimeout time.Duration
	// DLQTopic receives messages whose handling failed. Empty disables dead-lettering.
	DLQTopic string
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Publisher interface {
	Publish(ctx context.Context, topic, key string, value []byte, headers ...kafka.Header) error
}

// BatchConsumer groups fetched messages into batches, hands them to a BatchHandler and commits
// them once handled. Handling errors never stop consumption.
type BatchConsumer struct {
	reader       messageReader
	topic        string
	batchSize    int
	batchTimeout time.Duration
	handler      BatchHandler
	dlq          Publisher
	dlqTopic     string
	log          *logrus.Entry
}

func NewBatchConsumer(cfg ConsumerConfig, handler BatchHandler, dlq Publisher, logger *logrus.Entry) *BatchConsumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6,
		MaxWait:  500 * time.Millisecond,
	})
	return newBatchConsumer(r, cfg, handler, dlq, logger)
}

func newBatchConsumer(r messageReader, cfg ConsumerConfig, handler BatchHandler, dlq Publisher, logger *logrus.Entry) *BatchConsumer {
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 1
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = 50 * time.Millisecond
	}
	return &BatchConsumer{
		reader:       r,
		topic:        cfg.Topic,
		batchSize:    cfg.BatchSize,
		batchTimeout: cfg.BatchTimeout,
		handler:      handler,
		dlq:          dlq,
		dlqTopic:     cfg.DLQTopic,
		log:          logger.WithField("topic", cfg.Topic),
	}
}

// Run consumes until ctx is done or the reader fails.
func (c *BatchConsumer) Run(ctx context.Context) error {
	msgCh := make(chan kafka.Message, c.batchSize)
	errCh := make(chan error, 1)

	go func() {
		defer close(msgCh)
		for {
			m, err := c.reader.FetchMessage(ctx)
			if err != nil {
				errCh <- err
				return
			}
			select {
			case msgCh <- m:
			case <-ctx.Done():
				return
			}
		}
	}()

	batch := make([]kafka.Message, 0, c.batchSize)
	ticker := time.NewTicker(c.batchTimeout)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if len(batch) > 0 {
				c.flush(ctx, batch)
				batch = batch[:0]
			}
		case m, ok := <-msgCh:
			if !ok {
				select {
				case err := <-errCh:
					return err
				default:
					return ctx.Err()
				}
			}
			batch = append(batch, m)
			if len(batch) >= c.batchSize {
				c.flush(ctx, batch)
				batch = batch[:0]
			}
		}
	}
}

func (c *BatchConsumer) flush(ctx context.Context, batch []kafka.Message) {
	errs := c.handler.HandleBatch(ctx, batch)
	for i, err := range errs {
		if err == nil || i >= len(batch) {
			continue
		}
		c.deadLetter(ctx, batch[i], err)
	}

	if err := c.reader.CommitMessages(ctx, batch...); err != nil {
		c.log.WithError(err).WithField("count", len(batch)).Error("kafka commit failed")
	}
}

func (c *BatchConsumer) deadLetter(ctx context.Context, m kafka.Message, cause error) {
	if c.dlq == nil || c.dlqTopic == "" {
		return
	}
	headers := []kafka.Header{
		{Key: "x-error", Value: []byte(cause.Error())},
		{Key: "x-source-topic", Value: []byte(m.Topic)},
		{Key: "x-source-partition", Value: []byte(strconv.Itoa(m.Partition))},
		{Key: "x-source-offset", Value: []byte(strconv.FormatInt(m.Offset, 10))},
	}
	if err := c.dlq.Publish(ctx, c.dlqTopic, string(m.Key), m.Value, headers...); err != nil {
		c.log.WithError(err).WithField("offset", m.Offset).Error("dead-letter publish failed")
		return
	}
	observability.DeadLettered.WithLabelValues(c.dlqTopic).Inc()
}

func (c *BatchConsumer) Close() error {
	return c.reader.Close()
}
