// Package config loads process configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Server captures all process level configuration.
type Server struct {
	Addr            string        `env:"CHANGEFLOW_ADDR" envDefault:":8080"`
	Environment     string        `env:"CHANGEFLOW_ENV" envDefault:"development"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`
	DatabaseURL     string        `env:"DATABASE_URL"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"15s"`

	Redis    RedisConfig
	Kafka    KafkaConfig
	Auth     AuthConfig
	Workflow WorkflowConfig

	BlobRoot string `env:"BLOB_ROOT" envDefault:"./data/blobs"`
}

// RedisConfig configures the sequence allocator backend. Empty URL disables Redis.
type RedisConfig struct {
	URL          string        `env:"REDIS_URL"`
	PoolSize     int           `env:"REDIS_POOL_SIZE" envDefault:"10"`
	MinIdleConns int           `env:"REDIS_MIN_IDLE_CONNS" envDefault:"2"`
	DialTimeout  time.Duration `env:"REDIS_DIAL_TIMEOUT" envDefault:"5s"`
	ReadTimeout  time.Duration `env:"REDIS_READ_TIMEOUT" envDefault:"3s"`
	WriteTimeout time.Duration `env:"REDIS_WRITE_TIMEOUT" envDefault:"3s"`
}

// KafkaConfig configures notification publishing. Empty Brokers selects the log dispatcher.
type KafkaConfig struct {
	Brokers           []string `env:"KAFKA_BROKERS" envSeparator:","`
	NotificationTopic string   `env:"NOTIFICATION_TOPIC" envDefault:"cr-notifications"`
	HistoryTopic      string   `env:"HISTORY_TOPIC" envDefault:"cr-history"`
	ClientID          string   `env:"KAFKA_CLIENT_ID" envDefault:"changeflow"`
	Partitions        int32    `env:"KAFKA_TOPIC_PARTITIONS" envDefault:"3"`
	ReplicationFactor int16    `env:"KAFKA_TOPIC_REPLICATION" envDefault:"1"`
}

// AuthConfig configures bearer token validation.
type AuthConfig struct {
	JWTSigningKey string `env:"JWT_SIGNING_KEY"`
	JWTIssuer     string `env:"JWT_ISSUER" envDefault:"changeflow-idp"`
	JWTAudience   string `env:"JWT_AUDIENCE" envDefault:"changeflow"`
}

// WorkflowConfig tunes engine timing.
type WorkflowConfig struct {
	ClosureWindow time.Duration `env:"CLOSURE_WINDOW" envDefault:"48h"`
	NotifyTimeout time.Duration `env:"NOTIFY_TIMEOUT" envDefault:"10s"`
	TxTimeout     time.Duration `env:"TX_TIMEOUT" envDefault:"5s"`
	OutboxPoll    time.Duration `env:"OUTBOX_POLL_INTERVAL" envDefault:"1s"`
	OutboxBatch   int           `env:"OUTBOX_BATCH_SIZE" envDefault:"100"`
}

const devSigningKey = "dev-secret-key-change-in-production"

// Load reads optional .env files and then the environment.
func Load(envFiles ...string) (Server, error) {
	existing := make([]string, 0, len(envFiles))
	for _, f := range envFiles {
		if _, err := os.Stat(f); err == nil {
			existing = append(existing, f)
		}
	}
	if len(existing) > 0 {
		if err := godotenv.Load(existing...); err != nil {
			return Server{}, fmt.Errorf("load env files: %w", err)
		}
	}
	return FromEnv()
}

// FromEnv builds a Server config from environment variables so main stays lean.
func FromEnv() (Server, error) {
	cfg, err := env.ParseAs[Server]()
	if err != nil {
		return Server{}, fmt.Errorf("parse environment: %w", err)
	}
	if cfg.Auth.JWTSigningKey == "" {
		if cfg.IsProduction() {
			return Server{}, fmt.Errorf("JWT_SIGNING_KEY is required in production")
		}
		cfg.Auth.JWTSigningKey = devSigningKey
	}
	return cfg, nil
}

func (s Server) IsProduction() bool {
	return strings.EqualFold(s.Environment, "production")
}
