package kafka

import (
	"context"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMultiTopicProducer_Publish(t *testing.T) {
	w := &fakeWriter{}
	p := &MultiTopicProducer{writers: map[string]messageWriter{"twin.changes": w}, log: discardLogger()}

	err := p.Publish(context.Background(), "twin.changes", "TestTwin1", []byte(`{}`), kafka.Header{Key: "k", Value: []byte("v")})
	require.NoError(t, err)
	require.Len(t, w.msgs, 1)
	assert.Equal(t, []byte("TestTwin1"), w.msgs[0].Key)
	assert.Equal(t, "k", w.msgs[0].Headers[0].Key)

	err = p.Publish(context.Background(), "other", "", nil)
	assert.ErrorIs(t, err, ErrUnknownTopic)

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestNewMultiTopicProducer_SkipsEmptyTopics(t *testing.T) {
	p := NewMultiTopicProducer([]string{"localhost:9092"}, 0, discardLogger(), "twin.changes", "")
	assert.True(t, p.HasTopic("twin.changes"))
	assert.False(t, p.HasTopic(""))
}

func TestParseCompression(t *testing.T) {
	c, err := ParseCompression("lz4")
	require.NoError(t, err)
	assert.Equal(t, kafka.Lz4, c)

	c, err = ParseCompression("")
	require.NoError(t, err)
	assert.Equal(t, kafka.Compression(0), c)

	_, err = ParseCompression("brotli")
	assert.ErrorIs(t, err, ErrUnknownCompression)
}
