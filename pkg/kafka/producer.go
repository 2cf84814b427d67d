package kafka

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

var (
	ErrUnknownTopic       = errors.New("unknown kafka topic")
	ErrUnknownCompression = errors.New("unknown kafka compression codec")
)

const writeTimeout = 5 * time.Second

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// MultiTopicProducer owns one writer per topic it is allowed to publish to.
type MultiTopicProducer struct {
	writers map[string]messageWriter
	log     *logrus.Entry
}

func NewMultiTopicProducer(brokers []string, compression kafka.Compression, logger *logrus.Entry, topics ...string) *MultiTopicProducer {
	writers := make(map[string]messageWriter)
	for _, topic := range topics {
		if topic == "" {
			continue
		}
		writers[topic] = &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			BatchTimeout: 10 * time.Millisecond,
			Compression:  compression,
		}
	}
	return &MultiTopicProducer{writers: writers, log: logger}
}

// ParseCompression maps a codec name to its kafka-go constant. Empty means uncompressed.
func ParseCompression(name string) (kafka.Compression, error) {
	switch name {
	case "", "none":
		return 0, nil
	case "gzip":
		return kafka.Gzip, nil
	case "snappy":
		return kafka.Snappy, nil
	case "lz4":
		return kafka.Lz4, nil
	case "zstd":
		return kafka.Zstd, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownCompression, name)
}

func (p *MultiTopicProducer) HasTopic(topic string) bool {
	_, ok := p.writers[topic]
	return ok
}

// Publish writes one message, bounded by a short timeout so a slow broker cannot stall the caller.
func (p *MultiTopicProducer) Publish(ctx context.Context, topic, key string, value []byte, headers ...kafka.Header) error {
	w, ok := p.writers[topic]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTopic, topic)
	}
	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return w.WriteMessages(writeCtx, kafka.Message{
		Key:     []byte(key),
		Value:   value,
		Headers: headers,
	})
}

func (p *MultiTopicProducer) Close() error {
	var firstErr error
	for topic, w := range p.writers {
		if err := w.Close(); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			p.log.WithField("topic", topic).WithError(err).Error("failed to close kafka writer")
		}
	}
	return firstErr
}
