// Package config loads the twin change relay configuration from the environment and an optional .env file.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"twin-relay/pkg/schema"
)

type Config struct {
	KafkaBrokers string        `mapstructure:"KAFKA_BROKERS"`
	KafkaTopic   string        `mapstructure:"KAFKA_TOPIC"`
	GroupID      string        `mapstructure:"KAFKA_GROUP_ID"`
	DLQTopic     string        `mapstructure:"KAFKA_DLQ_TOPIC"`
	BatchSize    int           `mapstructure:"BATCH_SIZE"`
	BatchTimeout time.Duration `mapstructure:"BATCH_TIMEOUT"`
	WorkerCount  int           `mapstructure:"WORKERS"`

	// CommandChannelURL is the AMQP connection string of the device command channel.
	CommandChannelURL string `mapstructure:"COMMAND_CHANNEL_URL"`
	CommandExchange   string `mapstructure:"COMMAND_EXCHANGE"`
	DeviceID          string `mapstructure:"DEVICE_ID"`
	// Schema selects the patch paths forwarded to the device.
	Schema string `mapstructure:"TELEMETRY_SCHEMA"`

	MetricsPort string `mapstructure:"METRICS_PORT"`
	PprofPort   string `mapstructure:"PPROF_PORT"`
	LogLevel    string `mapstructure:"LOG_LEVEL"`
}

func LoadConfig() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig()

	v.AutomaticEnv()

	v.SetDefault("KAFKA_BROKERS", "localhost:9092")
	v.SetDefault("KAFKA_TOPIC", "twin.changes")
	v.SetDefault("KAFKA_GROUP_ID", "twinchange-relay")
	v.SetDefault("KAFKA_DLQ_TOPIC", "")
	v.SetDefault("BATCH_SIZE", 50)
	v.SetDefault("BATCH_TIMEOUT", "20ms")
	v.SetDefault("WORKERS", 4)
	v.SetDefault("COMMAND_CHANNEL_URL", "")
	v.SetDefault("COMMAND_EXCHANGE", "iot-cmd-exchange-direct")
	v.SetDefault("DEVICE_ID", "FestoDevice")
	v.SetDefault("TELEMETRY_SCHEMA", schema.Temperature.Name)
	v.SetDefault("METRICS_PORT", "8083")
	v.SetDefault("PPROF_PORT", "")
	v.SetDefault("LOG_LEVEL", "info")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if len(c.Brokers()) == 0 {
		return errors.New("config: KAFKA_BROKERS must be set")
	}
	if c.CommandChannelURL == "" {
		return errors.New("config: COMMAND_CHANNEL_URL must be set")
	}
	if c.DeviceID == "" {
		return errors.New("config: DEVICE_ID must be set")
	}
	if c.WorkerCount < 1 {
		return errors.New("config: WORKERS must be positive")
	}
	if c.BatchSize < 1 {
		return errors.New("config: BATCH_SIZE must be positive")
	}
	if _, err := schema.Lookup(c.Schema); err != nil {
		return fmt.Errorf("config: TELEMETRY_SCHEMA: %w", err)
	}
	return nil
}

func (c *Config) Brokers() []string {
	if c == nil || c.KafkaBrokers == "" {
		return nil
	}
	parts := strings.Split(c.KafkaBrokers, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
