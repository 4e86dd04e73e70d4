// Package config centralises configuration parsing for the sign-up service.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config captures runtime configuration values shared by the api and consumer binaries.
type Config struct {
	HTTPAddress     string        `env:"HTTP_ADDRESS" envDefault:":8080"`
	MetricsAddress  string        `env:"METRICS_ADDRESS" envDefault:":9195"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`
	CORSOrigin      string        `env:"CORS_ORIGIN" envDefault:"http://localhost:5173"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"15s"`

	KafkaBrokers      []string      `env:"KAFKA_BROKERS" envSeparator:","`
	RosterTopic       string        `env:"ROSTER_TOPIC" envDefault:"roster_events"`
	SchemaRegistryURL string        `env:"SCHEMA_REGISTRY_URL"`
	DispatchInterval  time.Duration `env:"DISPATCH_INTERVAL" envDefault:"1s"`
	DispatchBatchSize int           `env:"DISPATCH_BATCH_SIZE" envDefault:"25"`
	DispatchQueueSize int           `env:"DISPATCH_QUEUE_SIZE" envDefault:"1024"`

	PostgresURL     string   `env:"POSTGRES_URL"`
	ConsumerGroupID string   `env:"CONSUMER_GROUP_ID" envDefault:"roster-audit"`
	ConsumerTopics  []string `env:"CONSUMER_TOPICS" envSeparator:"," envDefault:"roster_events"`
}

// Load reads environment variables into Config, applying defaults for local dev.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.KafkaBrokers = trimAll(cfg.KafkaBrokers)
	cfg.ConsumerTopics = trimAll(cfg.ConsumerTopics)

	if cfg.DispatchBatchSize <= 0 {
		return Config{}, fmt.Errorf("DISPATCH_BATCH_SIZE must be > 0, got %d", cfg.DispatchBatchSize)
	}
	if cfg.DispatchQueueSize <= 0 {
		return Config{}, fmt.Errorf("DISPATCH_QUEUE_SIZE must be > 0, got %d", cfg.DispatchQueueSize)
	}
	if cfg.DispatchInterval <= 0 {
		return Config{}, fmt.Errorf("DISPATCH_INTERVAL must be positive, got %s", cfg.DispatchInterval)
	}
	return cfg, nil
}

// EventsEnabled reports whether roster events should be published to Kafka.
func (c Config) EventsEnabled() bool {
	return len(c.KafkaBrokers) > 0
}

func trimAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
