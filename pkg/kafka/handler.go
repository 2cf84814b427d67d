package kafka

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/segmentio/kafka-go"
)

var ErrHandlerPanic = errors.New("kafka handler panicked")

// JobHandler processes one message as an independent invocation.
type JobHandler interface {
	Handle(ctx context.Context, key string, value []byte) error
}

type HandlerFunc func(ctx context.Context, key string, value []byte) error

func (f HandlerFunc) Handle(ctx context.Context, key string, value []byte) error {
	return f(ctx, key, value)
}

// BatchHandler processes a fetched batch and returns one error per message, index aligned.
type BatchHandler interface {
	HandleBatch(ctx context.Context, msgs []kafka.Message) []error
}

type BatchHandlerFunc func(ctx context.Context, msgs []kafka.Message) []error

func (f BatchHandlerFunc) HandleBatch(ctx context.Context, msgs []kafka.Message) []error {
	return f(ctx, msgs)
}

// Fanout runs h for every message of a batch on the pool and waits for all of them.
func Fanout(pool *Pool, h JobHandler) BatchHandler {
	return BatchHandlerFunc(func(ctx context.Context, msgs []kafka.Message) []error {
		errs := make([]error, len(msgs))
		var wg sync.WaitGroup
		wg.Add(len(msgs))
		for i, m := range msgs {
			pool.Submit(func(ctx context.Context) error {
				defer wg.Done()
				defer func() {
					if r := recover(); r != nil {
						errs[i] = fmt.Errorf("%w: %v", ErrHandlerPanic, r)
					}
				}()
				errs[i] = h.Handle(ctx, string(m.Key), m.Value)
				return nil
			})
		}
		wg.Wait()
		return errs
	})
}
