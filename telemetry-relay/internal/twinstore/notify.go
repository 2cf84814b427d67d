package twinstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"twin-relay/pkg/event"
	"twin-relay/pkg/twin"
)

type updater interface {
	UpdateTwin(ctx context.Context, twinID string, patch twin.Patch) error
}

type Publisher interface {
	Publish(ctx context.Context, topic, key string, value []byte, headers ...kafka.Header) error
}

// Notifier publishes a Twin.Update change notification after every update the wrapped store accepts.
type Notifier struct {
	next  updater
	pub   Publisher
	topic string
	now   func() time.Time
}

func NewNotifier(next updater, pub Publisher, topic string) *Notifier {
	return &Notifier{next: next, pub: pub, topic: topic, now: time.Now}
}

func (n *Notifier) UpdateTwin(ctx context.Context, twinID string, patch twin.Patch) error {
	if err := n.next.UpdateTwin(ctx, twinID, patch); err != nil {
		return err
	}

	note := twin.ChangeNotification{
		ID:        uuid.NewString(),
		Subject:   twinID,
		EventType: twin.EventTypeUpdate,
		EventTime: n.now().UTC(),
		Data:      twin.ChangeData{Patch: patch},
	}
	body, err := json.Marshal(note)
	if err != nil {
		return fmt.Errorf("encode change notification: %w", err)
	}

	err = n.pub.Publish(ctx, n.topic, twinID, body,
		kafka.Header{Key: "content-type", Value: []byte("application/json")},
		kafka.Header{Key: "event-type", Value: []byte(twin.EventTypeUpdate)},
	)
	if err != nil {
		return fmt.Errorf("%w: publish change notification to %s: %w", event.ErrDownstream, n.topic, err)
	}
	return nil
}
