package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultMatchesReferenceModel(t *testing.T) {
	c := Default()
	require.NoError(t, c.Validate())

	assert.Equal(t, 60, c.Model.Lookback)
	assert.Equal(t, []int{50, 50}, c.Model.Units)
	assert.Equal(t, 0.2, c.Model.DropoutRate)
	assert.Equal(t, 10, c.Model.Epochs)
	assert.Equal(t, 32, c.Model.BatchSize)
	assert.Equal(t, 0.001, c.Model.LearningRate)
	assert.Equal(t, 5000, c.Data.MaxRows)
	assert.Equal(t, PolicyReject, c.Identity.Policy)
	assert.Equal(t, 8000, c.Server.Port)
	assert.Less(t, c.Train.Timeout, c.Server.WriteTimeout)
}

func TestParseOverridesDefaults(t *testing.T) {
	c, err := Parse([]byte(`
server:
  port: 9100
identity:
  policy: fallback
model:
  units: [8]
  epochs: 2
redis:
  snapshot_ttl: 1h
`))
	require.NoError(t, err)
	assert.Equal(t, 9100, c.Server.Port)
	assert.Equal(t, PolicyFallback, c.Identity.Policy)
	assert.Equal(t, []int{8}, c.Model.Units)
	assert.Equal(t, 2, c.Model.Epochs)
	assert.Equal(t, 32, c.Model.BatchSize)
	assert.Equal(t, time.Hour, c.Redis.SnapshotTTL)
}

func TestParseRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"policy":     "identity:\n  policy: maybe\n",
		"http url":   "identity:\n  mode: http\n",
		"source":     "data:\n  source: s3\n",
		"clickhouse": "data:\n  source: clickhouse\n  symbol: AAPL\n",
		"dropout":    "model:\n  dropout_rate: 1.5\n",
		"kafka":      "kafka:\n  enabled: true\n",
		"train time": "train:\n  timeout: 6m\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestApplyEnv(t *testing.T) {
	c := Default()
	env := map[string]string{
		"MLASS_PORT":                  "9000",
		"MLASS_IDENTITY_POLICY":       "fallback",
		"KAFKA_BROKERS":               "k1:9092,k2:9092",
		"REDIS_ADDR":                  "cache:6379",
		"OTEL_EXPORTER_OTLP_ENDPOINT": "collector:4317",
		"MLASS_TELEMETRY_ENABLED":     "true",
	}
	c.applyEnv(func(k string) string { return env[k] })

	assert.Equal(t, 9000, c.Server.Port)
	assert.Equal(t, PolicyFallback, c.Identity.Policy)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, c.Kafka.Brokers)
	assert.True(t, c.Kafka.Enabled)
	assert.True(t, c.Redis.Enabled)
	assert.Equal(t, "cache:6379", c.Redis.Addr)
	assert.Equal(t, "collector:4317", c.Telemetry.Endpoint)
	assert.True(t, c.Telemetry.Enabled)
}

func TestLoadReadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("environment: test\n"), 0o600))

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "test", c.Environment)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestShippedConfigIsValid(t *testing.T) {
	c, err := Load(filepath.Join("..", "..", "config", "config.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default().Model, c.Model)
	assert.Equal(t, PolicyReject, c.Identity.Policy)
	assert.Equal(t, "data/stock_prices.csv", c.Data.Path)
}
