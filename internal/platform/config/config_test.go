package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnv_Defaults(t *testing.T) {
	t.Setenv("CHANGEFLOW_ENV", "development")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, 48*time.Hour, cfg.Workflow.ClosureWindow)
	assert.Equal(t, "cr-notifications", cfg.Kafka.NotificationTopic)
	assert.Equal(t, "cr-history", cfg.Kafka.HistoryTopic)
	assert.Equal(t, 100, cfg.Workflow.OutboxBatch)
	assert.Equal(t, devSigningKey, cfg.Auth.JWTSigningKey)
	assert.Empty(t, cfg.Kafka.Brokers)
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("CHANGEFLOW_ADDR", ":9090")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("CLOSURE_WINDOW", "24h")
	t.Setenv("JWT_SIGNING_KEY", "s3cret")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Addr)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 24*time.Hour, cfg.Workflow.ClosureWindow)
	assert.Equal(t, "s3cret", cfg.Auth.JWTSigningKey)
}

func TestFromEnv_ProductionRequiresSigningKey(t *testing.T) {
	t.Setenv("CHANGEFLOW_ENV", "production")
	t.Setenv("JWT_SIGNING_KEY", "")

	_, err := FromEnv()
	require.Error(t, err)
}

func TestLoad_ReadsEnvFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("NOTIFICATION_TOPIC=from-file\n"), 0o600))
	t.Setenv("NOTIFICATION_TOPIC", "")
	require.NoError(t, os.Unsetenv("NOTIFICATION_TOPIC"))

	cfg, err := Load(path, filepath.Join(dir, "missing.env"))
	require.NoError(t, err)
	assert.Equal(t, "from-file", cfg.Kafka.NotificationTopic)
}
