// Package relay applies decoded telemetry records to a twin as partial updates.
package relay

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"twin-relay/pkg/event"
	"twin-relay/pkg/observability"
	"twin-relay/pkg/schema"
	"twin-relay/pkg/twin"
)

// Name labels this relay in logs and metrics.
const Name = "telemetry"

// Updater applies a patch to a twin in the twin-state store.
type Updater interface {
	UpdateTwin(ctx context.Context, twinID string, patch twin.Patch) error
}

// Result is the outcome of one payload. Patch is nil when decoding failed.
type Result struct {
	Index  int
	TwinID string
	Patch  twin.Patch
	Err    error
}

type Relay struct {
	schema schema.Schema
	twinID string
	store  Updater
	log    *logrus.Entry
}

func New(s schema.Schema, twinID string, store Updater, logger *logrus.Entry) *Relay {
	return &Relay{
		schema: s,
		twinID: twinID,
		store:  store,
		log:    logger.WithFields(logrus.Fields{"relay": Name, "schema": s.Name}),
	}
}

// HandleBatch handles payloads in order, one at a time. A failing item never stops the batch.
func (r *Relay) HandleBatch(ctx context.Context, payloads [][]byte) []Result {
	results := make([]Result, len(payloads))
	for i, payload := range payloads {
		results[i] = r.Handle(ctx, payload)
		results[i].Index = i
	}
	return results
}

// Handle decodes one payload and applies it to the configured twin.
// Malformed payloads never reach the store.
func (r *Relay) Handle(ctx context.Context, payload []byte) Result {
	res := Result{TwinID: r.twinID}
	r.log.WithField("body", string(payload)).Debug("received message")

	rec, err := r.schema.Decode(payload)
	if err != nil {
		res.Err = err
		return res
	}
	res.Patch = BuildPatch(rec)

	start := time.Now()
	err = r.store.UpdateTwin(ctx, r.twinID, res.Patch)
	observability.ForwardLatency.WithLabelValues(Name).Observe(time.Since(start).Seconds())
	if err != nil {
		res.Err = fmt.Errorf("update twin %s: %w: %w", r.twinID, event.ErrDownstream, err)
	}
	return res
}

// BuildPatch replaces each field's property path with its decoded value, in schema order.
func BuildPatch(rec schema.Record) twin.Patch {
	patch := make(twin.Patch, 0, len(rec.Values))
	for _, fv := range rec.Values {
		patch.AppendReplace(twin.PropertyPath(fv.Name), fv.Value)
	}
	return patch
}

// Report logs every result with its context and counts it. It returns the number of failed items.
func Report(logger *logrus.Entry, results []Result) int {
	failed := 0
	for _, res := range results {
		outcome := event.Outcome(res.Err)
		observability.RelayedItems.WithLabelValues(Name, outcome).Inc()

		entry := logger.WithFields(logrus.Fields{"index": res.Index, "twin_id": res.TwinID})
		switch outcome {
		case "ok":
			entry.WithField("patch", res.Patch).Info("updated digital twin")
			continue
		case "malformed":
			entry.WithError(res.Err).Warn("telemetry deserialization failed")
		default:
			entry.WithError(res.Err).Error("error updating digital twin")
		}
		failed++
	}
	return failed
}

// Errors returns the per-item errors, index aligned with results.
func Errors(results []Result) []error {
	errs := make([]error, len(results))
	for i, res := range results {
		errs[i] = res.Err
	}
	return errs
}
