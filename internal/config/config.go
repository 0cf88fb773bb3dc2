// Package config reads process configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type (
	Config struct {
		ServiceName     string        `env:"SERVICE_NAME"`
		Env             string        `env:"APP_ENV" envDefault:"development"`
		LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`
		HTTPAddr        string        `env:"HTTP_ADDR" envDefault:":3000"`
		MetricsAddr     string        `env:"METRICS_ADDR" envDefault:":9090"`
		OTLPEndpoint    string        `env:"OTLP_ENDPOINT"`
		ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`

		NATS     NATS
		Kafka    Kafka
		Mongo    Mongo
		Snapshot Snapshot

		PublisherGroup string `env:"PUBLISHER_GROUP" envDefault:"inventory_item_subscription_group"`
	}

	NATS struct {
		URL           string `env:"NATS_URL" envDefault:"nats://localhost:4222"`
		Stream        string `env:"NATS_STREAM" envDefault:"INVENTORY"`
		SubjectPrefix string `env:"NATS_SUBJECT_PREFIX" envDefault:"inventory"`
		// ProgressBucket holds the last published revision of every stream.
		ProgressBucket string `env:"NATS_PROGRESS_BUCKET" envDefault:"inventory_publisher_progress"`
	}

	Kafka struct {
		Brokers  []string `env:"KAFKA_BROKERS" envSeparator:"," envDefault:"localhost:9092"`
		Topic    string   `env:"KAFKA_TOPIC" envDefault:"inventory_item"`
		GroupID  string   `env:"KAFKA_GROUP_ID" envDefault:"inventory_item_denormaliser"`
		ClientID string   `env:"KAFKA_CLIENT_ID"`
	}

	Mongo struct {
		URI        string        `env:"MONGODB_URI" envDefault:"mongodb://localhost:27017"`
		Database   string        `env:"MONGODB_DATABASE" envDefault:"inventory_items"`
		Collection string        `env:"MONGODB_COLLECTION" envDefault:"inventory_items"`
		Timeout    time.Duration `env:"MONGODB_TIMEOUT" envDefault:"10s"`
	}

	Snapshot struct {
		Interval int    `env:"SNAPSHOT_INTERVAL" envDefault:"10"`
		Group    string `env:"SNAPSHOT_GROUP" envDefault:"inventory_item_snapshot_subscription"`
	}
)

// Load reads the given dotenv files, if they exist, and parses the
// environment into a Config. Variables already set win over dotenv values.
func Load(files ...string) (Config, error) {
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", f, err)
		}
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.Snapshot.Interval < 1 {
		return fmt.Errorf("SNAPSHOT_INTERVAL must be positive, got %d", c.Snapshot.Interval)
	}
	if len(c.Kafka.Brokers) == 0 {
		return errors.New("KAFKA_BROKERS is empty")
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("SHUTDOWN_TIMEOUT must be positive, got %s", c.ShutdownTimeout)
	}
	return nil
}
