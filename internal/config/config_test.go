package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadServerConfigDefaults(t *testing.T) {
	cfg, err := LoadServerConfig()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, []float64{1000, 2500, 5000, 10000}, cfg.SearchRadiiMeters)
	assert.Equal(t, "responders_geo", cfg.RedisGeoKey)
}

func TestLoadServerConfigFromEnv(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", "a:9092, b:9092,")
	t.Setenv("SEARCH_RADII_M", "5000,500,2000")
	t.Setenv("MIGRATE", "TRUE")
	t.Setenv("LOG_LEVEL", "DEBUG")

	cfg, err := LoadServerConfig()
	require.NoError(t, err)
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, []float64{500, 2000, 5000}, cfg.SearchRadiiMeters)
	assert.True(t, cfg.RunMigrations)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadServerConfigCollectsErrors(t *testing.T) {
	t.Setenv("HTTP_READ_TIMEOUT", "soon")
	t.Setenv("SEARCH_RADII_M", "100,-5")
	t.Setenv("SEARCH_LIMIT", "0")

	_, err := LoadServerConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP_READ_TIMEOUT")
	assert.Contains(t, err.Error(), "SEARCH_RADII_M")
	assert.Contains(t, err.Error(), "SEARCH_LIMIT")
}

func TestLoadClientConfig(t *testing.T) {
	cfg, err := LoadClientConfig()
	require.NoError(t, err)
	assert.Equal(t, 20*time.Second, cfg.PollInterval)

	t.Setenv("TRACKING_POLL_INTERVAL", "5s")
	t.Setenv("SOS_LOCATION_TIMEOUT", "0s")
	_, err = LoadClientConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SOS_LOCATION_TIMEOUT")
}
