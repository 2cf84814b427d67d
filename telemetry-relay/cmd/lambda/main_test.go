package main

import (
	"context"
	"encoding/base64"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"twin-relay/pkg/event"
	"twin-relay/telemetry-relay/internal/relay"
)

func b64(s string) string { return base64.StdEncoding.EncodeToString([]byte(s)) }

func TestDecodeRecords_OrdersByPartitionAndOffset(t *testing.T) {
	ev := events.KafkaEvent{Records: map[string][]events.KafkaRecord{
		"telemetry-1": {
			{Topic: "telemetry", Partition: 1, Offset: 4, Value: b64("c")},
		},
		"telemetry-0": {
			{Topic: "telemetry", Partition: 0, Offset: 9, Value: b64("b")},
			{Topic: "telemetry", Partition: 0, Offset: 2, Value: b64("a")},
			{Topic: "telemetry", Partition: 0, Offset: 10, Value: "%%%"},
		},
	}}

	records, payloads, errs := decodeRecords(ev)
	assert.Equal(t, [][]byte{[]byte("a"), []byte("b"), []byte("c")}, payloads)
	require.Len(t, records, 3)
	assert.Equal(t, int64(2), records[0].Offset)
	assert.Equal(t, int64(9), records[1].Offset)
	assert.Equal(t, int64(1), records[2].Partition)
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], event.ErrMalformed)
}

func TestHandleRequest_ReportsSourceOffsets(t *testing.T) {
	logger, hook := test.NewNullLogger()
	r := &fakeRelay{}
	h := &Handler{relay: r, log: logrus.NewEntry(logger)}

	ev := events.KafkaEvent{Records: map[string][]events.KafkaRecord{
		"telemetry-0": {
			{Topic: "telemetry", Partition: 0, Offset: 5, Value: "%%%"},
			{Topic: "telemetry", Partition: 0, Offset: 6, Value: b64(`{"status":"OK"}`)},
			{Topic: "telemetry", Partition: 0, Offset: 7, Value: b64(`{"status":"OK","temperature":21.5}`)},
		},
	}}

	require.NoError(t, h.HandleRequest(context.Background(), ev))
	require.Len(t, r.got, 2)

	var offsets []any
	for _, e := range hook.AllEntries() {
		if off, ok := e.Data["offset"]; ok {
			offsets = append(offsets, off)
		}
	}
	assert.Equal(t, []any{int64(6), int64(7)}, offsets)
	assert.Equal(t, 2, hook.LastEntry().Data["failed"])
}

type fakeRelay struct {
	got   [][]byte
	panic bool
}

func (f *fakeRelay) HandleBatch(_ context.Context, payloads [][]byte) []relay.Result {
	if f.panic {
		panic("boom")
	}
	f.got = payloads
	results := make([]relay.Result, len(payloads))
	for i := range results {
		results[i].Index = i
		if i == 0 {
			results[i].Err = event.ErrMalformed
		}
	}
	return results
}

func TestHandleRequest_ItemFailuresDoNotFailInvocation(t *testing.T) {
	logger, hook := test.NewNullLogger()
	r := &fakeRelay{}
	h := &Handler{relay: r, log: logrus.NewEntry(logger)}

	ev := events.KafkaEvent{Records: map[string][]events.KafkaRecord{
		"telemetry-0": {
			{Offset: 0, Value: b64(`{"status":"OK"}`)},
			{Offset: 1, Value: b64(`{"status":"OK","temperature":21.5}`)},
		},
	}}

	require.NoError(t, h.HandleRequest(context.Background(), ev))
	assert.Len(t, r.got, 2)
	assert.Equal(t, "processed telemetry batch", hook.LastEntry().Message)
	assert.Equal(t, 1, hook.LastEntry().Data["failed"])
}

func TestHandleRequest_RecoversPanic(t *testing.T) {
	logger, _ := test.NewNullLogger()
	h := &Handler{relay: &fakeRelay{panic: true}, log: logrus.NewEntry(logger)}

	err := h.HandleRequest(context.Background(), events.KafkaEvent{})
	assert.Error(t, err)
}
