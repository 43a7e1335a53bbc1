package global

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8000", cfg.HTTPAddr)
	assert.Equal(t, BrokerNone, cfg.Broker.Kind)
	assert.Equal(t, DefaultBroadcastTopic, cfg.Broker.Topic)
	assert.Equal(t, 4, cfg.Translate.Workers)
	assert.NotEmpty(t, cfg.NodeID)
}

func TestLoadYAMLThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "relay.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
node_id: relay-a
http_addr: ":9000"
translate:
  workers: 2
  timeout: 5s
broker:
  kind: nats
  nats:
    servers:
      - nats://n1:4222
      - nats://n2:4222
`), 0o600))

	t.Setenv("WORKER_COUNT", "6")
	t.Setenv("MAX_LATENCY_MS", "750")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "relay-a", cfg.NodeID)
	assert.Equal(t, ":9000", cfg.HTTPAddr)
	assert.Equal(t, 6, cfg.Translate.Workers)
	assert.Equal(t, 5*time.Second, cfg.Translate.Timeout)
	assert.Equal(t, 750, cfg.Metrics.MaxLatencyMs)
	assert.Equal(t, BrokerNats, cfg.Broker.Kind)
	assert.Equal(t, []string{"nats://n1:4222", "nats://n2:4222"}, cfg.Broker.Nats.Servers)
}

func TestLoadRedisEnabledLegacyEnv(t *testing.T) {
	t.Setenv("REDIS_ENABLED", "true")
	t.Setenv("REDIS_HOST", "cache")
	t.Setenv("REDIS_PORT", "7001")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, BrokerRedis, cfg.Broker.Kind)
	assert.Equal(t, "cache:7001", cfg.Broker.Redis.Addr())
	assert.Equal(t, true, cfg.ScalingReport()["redis_enabled"])
}

func TestValidateRejects(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Broker.Kind = "carrier-pigeon"
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Translate.Workers = 0
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Conn.PingInterval = time.Minute
	assert.Error(t, cfg.Validate())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestPresenceKeys(t *testing.T) {
	assert.Equal(t, "relay:node:a", PresenceKey("a"))
	assert.Equal(t, "a", NodeFromPresenceKey(PresenceKey("a")))
}
