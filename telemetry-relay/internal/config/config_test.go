package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, []string{"localhost:9092"}, cfg.Brokers())
	assert.Equal(t, "telemetry", cfg.KafkaTopic)
	assert.Equal(t, "telemetry-relay", cfg.GroupID)
	assert.Equal(t, 100, cfg.BatchSize)
	assert.Equal(t, 50*time.Millisecond, cfg.BatchTimeout)
	assert.Equal(t, "temperature", cfg.Schema)
	assert.Equal(t, "TestTwin1", cfg.TwinID)
	assert.Equal(t, StorePostgres, cfg.TwinStore)
	assert.True(t, cfg.CreateTwin)
	assert.Equal(t, "twin.changes", cfg.TwinChangesTopic)
	assert.Empty(t, cfg.DLQTopic)
}

func TestLoadConfig_EnvOverride(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("TWIN_ID", "Station7")
	t.Setenv("TELEMETRY_SCHEMA", "plc")
	t.Setenv("BATCH_TIMEOUT", "1s")
	t.Setenv("TWIN_CREATE_IF_MISSING", "false")
	t.Setenv("TWIN_STORE", "dynamodb")
	t.Setenv("DYNAMODB_TWINS_TABLE", "twins")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Brokers())
	assert.Equal(t, "Station7", cfg.TwinID)
	assert.Equal(t, "plc", cfg.Schema)
	assert.Equal(t, time.Second, cfg.BatchTimeout)
	assert.False(t, cfg.CreateTwin)
	assert.Equal(t, StoreDynamoDB, cfg.TwinStore)
	assert.Equal(t, "twins", cfg.DynamoTable)
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"unknown schema", map[string]string{"TELEMETRY_SCHEMA": "humidity"}},
		{"unknown store", map[string]string{"TWIN_STORE": "redis"}},
		{"dynamodb without table", map[string]string{"TWIN_STORE": "dynamodb"}},
		{"bad compression", map[string]string{"KAFKA_COMPRESSION": "brotli"}},
		{"zero batch", map[string]string{"BATCH_SIZE": "0"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := LoadConfig()
			assert.Error(t, err)
		})
	}
}
