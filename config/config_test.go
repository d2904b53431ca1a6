package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "cfg.yaml")
	require.NoError(t, os.WriteFile(p, []byte(`
database:
  host: "localhost"
  port: 5432
  username: "u"
  password: "p"
  name: "db"
kafka:
  host: "localhost"
  port: 9092
  notifications_topic_name: "dispatch.notifications"
  delivery_status_topic_name: "delivery.status"
redis:
  host: "localhost"
  port: 6379
dispatch:
  http_addr: ":8080"
  kafka_consumer_group: "dispatch-api"
  settings_ttl_seconds: 60
  worker_tick_interval_seconds: 30
`), 0o600))

	cfg, err := LoadConfig(p)
	require.NoError(t, err)
	require.Equal(t, "u", cfg.Database.Username)
	require.Equal(t, "dispatch.notifications", cfg.Kafka.NotificationsTopicName)
	require.Equal(t, "delivery.status", cfg.Kafka.DeliveryStatusTopicName)
	require.Equal(t, 6379, cfg.Redis.Port)
	require.Equal(t, ":8080", cfg.Dispatch.HTTPAddr)
	require.Equal(t, 30, cfg.Dispatch.WorkerTickIntervalSeconds)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}
