package config

import (
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "info", cfg.Logger.Level)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, 5, cfg.Tools.Runner.BatchSize)
	assert.Equal(t, 10*time.Minute, cfg.Tools.Runner.Timeout)
	assert.Equal(t, 20, cfg.Worker.APIBatchSize)
	assert.Equal(t, "default-crawl", cfg.Tools.Crawler.CrawlPreset)
}

func TestViperUnmarshal(t *testing.T) {
	yaml := `
logger:
  level: debug
  format: console
redis:
  addr: redis.internal:6379
  db: 2
tools:
  runner:
    batch_size: 10
    timeout: 2m
`
	v := viper.New()
	v.SetConfigType("yaml")
	require.NoError(t, v.ReadConfig(strings.NewReader(yaml)))

	cfg := Default()
	require.NoError(t, v.Unmarshal(cfg))

	assert.Equal(t, "debug", cfg.Logger.Level)
	assert.Equal(t, "console", cfg.Logger.Format)
	assert.Equal(t, "redis.internal:6379", cfg.Redis.Addr)
	assert.Equal(t, 2, cfg.Redis.DB)
	assert.Equal(t, 10, cfg.Tools.Runner.BatchSize)
	assert.Equal(t, 2*time.Minute, cfg.Tools.Runner.Timeout)

	// Values not present in the file keep their defaults.
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, 20, cfg.Worker.APIBatchSize)
}

func TestApplyDefaultsBackfillsZeroFields(t *testing.T) {
	cfg := &Config{}
	cfg.Logger.Level = "debug"
	cfg.Redis.Addr = "redis.internal:6379"

	cfg.ApplyDefaults()

	// Explicit values survive.
	assert.Equal(t, "debug", cfg.Logger.Level)
	assert.Equal(t, "redis.internal:6379", cfg.Redis.Addr)

	// Zero fields pick up working defaults.
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, 10*time.Minute, cfg.Tools.Runner.Timeout)
	assert.Equal(t, "cloudlist", cfg.Tools.CloudEnum.BinaryPath)
	assert.Equal(t, float64(10), cfg.Tools.RateLimit.RequestsPerSecond)
	assert.Equal(t, "ambit/scheduler", cfg.Scheduler.EventSource)
}
