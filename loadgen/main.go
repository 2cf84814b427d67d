package main

import (
	"context"
	"encoding/json"
	"flag"
	"math/rand"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	log "github.com/sirupsen/logrus"

	"twin-relay/pkg/schema"
)

var statuses = []string{"OK", "WARN", "ERROR"}

// sample builds one record for s. Malformed records drop the last schema field.
func sample(s schema.Schema, rng *rand.Rand, malformed bool) map[string]any {
	fields := s.Fields
	if malformed && len(fields) > 0 {
		fields = fields[:len(fields)-1]
	}
	rec := make(map[string]any, len(fields))
	for _, f := range fields {
		switch f.Kind {
		case schema.String:
			rec[f.Name] = statuses[rng.Intn(len(statuses))]
		case schema.Number:
			rec[f.Name] = float64(150+rng.Intn(150)) / 10
		case schema.Bool:
			rec[f.Name] = rng.Intn(2) == 1
		}
	}
	return rec
}

func main() {
	brokers := flag.String("broker", "localhost:9092", "Comma-separated Kafka broker addresses")
	topic := flag.String("topic", "telemetry", "Kafka topic to publish to")
	schemaName := flag.String("schema", schema.Temperature.Name, "Telemetry schema: temperature or plc")
	rps := flag.Int("rps", 10, "Messages per second")
	duration := flag.Int("duration", 10, "Duration in seconds")
	malformed := flag.Float64("malformed", 0, "Fraction of messages missing a field (0..1)")
	flag.Parse()

	s, err := schema.Lookup(*schemaName)
	if err != nil {
		log.Fatal(err)
	}

	writer := &kafka.Writer{
		Addr:     kafka.TCP(strings.Split(*brokers, ",")...),
		Topic:    *topic,
		Balancer: &kafka.LeastBytes{},
	}
	defer writer.Close()

	log.Infof("Starting loadgen: %d msg/s for %d seconds to topic %s (schema %s)", *rps, *duration, *topic, s.Name)

	ctx := context.Background()
	ticker := time.NewTicker(time.Second / time.Duration(*rps))
	defer ticker.Stop()

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	end := time.Now().Add(time.Duration(*duration) * time.Second)
	var sent, failed atomic.Int64

	for time.Now().Before(end) {
		<-ticker.C

		value, err := json.Marshal(sample(s, rng, rng.Float64() < *malformed))
		if err != nil {
			log.Fatal(err)
		}
		msg := kafka.Message{
			Key:   []byte(uuid.NewString()),
			Value: value,
		}
		sent.Add(1)

		go func() {
			if err := writer.WriteMessages(ctx, msg); err != nil {
				failed.Add(1)
				log.WithError(err).Warn("failed to write message")
			}
		}()
	}

	log.WithFields(log.Fields{"sent": sent.Load(), "failed": failed.Load()}).Info("Load generation complete")
}
