// Package relay forwards tracked twin property changes to a device as a flat command message.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/valyala/fastjson"

	"twin-relay/pkg/event"
	"twin-relay/pkg/observability"
	"twin-relay/pkg/schema"
)

const Name = "twinchange"

var ErrNoPatch = fmt.Errorf("%w: patch data is null or missing", event.ErrMalformed)

// Sender delivers an encoded command to a device on the command channel.
type Sender interface {
	Send(ctx context.Context, deviceID string, body []byte) error
}

// Command is the flat field name to value message sent to the device.
type Command map[string]any

type Result struct {
	DeviceID string
	Command  Command
	Body     []byte
	Err      error
}

type Relay struct {
	schema   schema.Schema
	deviceID string
	sender   Sender
	log      *logrus.Entry
}

func New(s schema.Schema, deviceID string, sender Sender, logger *logrus.Entry) *Relay {
	return &Relay{
		schema:   s,
		deviceID: deviceID,
		sender:   sender,
		log:      logger.WithFields(logrus.Fields{"relay": Name, "schema": s.Name}),
	}
}

// Handle extracts the tracked fields from one change notification and sends them to the device.
// Nothing is sent unless every tracked field is present with the right type. An empty string
// counts as missing.
func (r *Relay) Handle(ctx context.Context, notification []byte) Result {
	res := Result{DeviceID: r.deviceID}
	r.log.WithField("body", string(notification)).Debug("received change notification")

	cmd, err := r.extract(notification)
	if err != nil {
		res.Err = err
		return res
	}
	res.Command = cmd

	body, err := json.Marshal(cmd)
	if err != nil {
		res.Err = fmt.Errorf("encode command: %w", err)
		return res
	}
	res.Body = body

	start := time.Now()
	err = r.sender.Send(ctx, r.deviceID, body)
	observability.ForwardLatency.WithLabelValues(Name).Observe(time.Since(start).Seconds())
	if err != nil {
		res.Err = fmt.Errorf("send to device %s: %w: %w", r.deviceID, event.ErrDownstream, err)
	}
	return res
}

var parsers fastjson.ParserPool

func (r *Relay) extract(notification []byte) (Command, error) {
	p := parsers.Get()
	defer parsers.Put(p)

	v, err := p.ParseBytes(notification)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", schema.ErrInvalidJSON, err)
	}

	patch := v.Get("data", "patch")
	if patch == nil || patch.Type() != fastjson.TypeArray {
		return nil, ErrNoPatch
	}
	ops, _ := patch.Array()

	cmd := make(Command, len(r.schema.Fields))
	for _, f := range r.schema.Fields {
		val, err := f.Value(firstValue(ops, f.Path()))
		if err != nil {
			return nil, err
		}
		if val == "" {
			return nil, fmt.Errorf("%w: %s is empty", schema.ErrMissingField, f.Name)
		}
		cmd[f.Name] = val
	}
	return cmd, nil
}

// firstValue returns the value of the first operation targeting path, or nil.
func firstValue(ops []*fastjson.Value, path string) *fastjson.Value {
	for _, op := range ops {
		if string(op.GetStringBytes("path")) == path {
			return op.Get("value")
		}
	}
	return nil
}

// Report logs the result with its context and counts it.
func Report(logger *logrus.Entry, res Result) {
	observability.RelayedItems.WithLabelValues(Name, event.Outcome(res.Err)).Inc()

	entry := logger.WithField("device_id", res.DeviceID)
	switch {
	case res.Err == nil:
		entry.WithField("message", string(res.Body)).Info("message sent to device")
	case errors.Is(res.Err, ErrNoPatch), errors.Is(res.Err, schema.ErrInvalidJSON):
		entry.WithError(res.Err).Error("patch data is null or missing")
	case errors.Is(res.Err, event.ErrMalformed):
		entry.WithError(res.Err).Warn("tracked fields are missing or invalid in the patch")
	default:
		entry.WithError(res.Err).Error("failed to send message to device")
	}
}
