package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "kline-mirror", cfg.AppName)
	assert.Equal(t, "./data", cfg.Mirror.DataDir)
	assert.Equal(t, "./data/manifest.json", cfg.Mirror.ManifestPath)
	assert.Equal(t, []string{"15m"}, cfg.Mirror.Timeframes)
	assert.Equal(t, "https://fapi.binance.com", cfg.Exchange.BaseURL)
	assert.Equal(t, 3, cfg.Exchange.MaxRetries)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestConfigValidation(t *testing.T) {
	m := NewManager("", nil)

	t.Run("valid config passes validation", func(t *testing.T) {
		assert.NoError(t, m.validateConfig(DefaultConfig()))
	})

	t.Run("missing data dir fails", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Mirror.DataDir = ""
		err := m.validateConfig(cfg)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "mirror.data_dir is required")
	})

	t.Run("empty timeframes fails", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Mirror.Timeframes = nil
		err := m.validateConfig(cfg)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "mirror.timeframes must not be empty")
	})

	t.Run("unknown timeframe fails", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Mirror.Timeframes = []string{"15m", "7m"}
		err := m.validateConfig(cfg)
		require.Error(t, err)
		assert.Contains(t, err.Error(), `unknown interval "7m"`)
	})

	t.Run("invalid duration fails", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Exchange.RetryBaseDelay = "not-a-duration"
		err := m.validateConfig(cfg)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "exchange.retry_base_delay is not a valid duration")
	})

	t.Run("invalid port fails", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Server.Port = 0
		err := m.validateConfig(cfg)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "server.port must be between")
	})

	t.Run("invalid log level fails", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Logging.Level = "verbose"
		err := m.validateConfig(cfg)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "logging.level must be one of")
	})
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	fileCfg := map[string]any{
		"mirror": map[string]any{
			"data_dir":   "/var/lib/klines",
			"timeframes": []string{"15m", "1h"},
		},
		"server": map[string]any{"port": 9000},
	}
	data, err := json.Marshal(fileCfg)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	cfg, err := NewManager(path, nil).Load()
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/klines", cfg.Mirror.DataDir)
	assert.Equal(t, []string{"15m", "1h"}, cfg.Mirror.Timeframes)
	assert.Equal(t, 9000, cfg.Server.Port)

	// untouched sections keep their defaults
	assert.Equal(t, "https://fapi.binance.com", cfg.Exchange.BaseURL)
}

func TestEnvOverridesFile(t *testing.T) {
	t.Setenv("DATA_DIR", "/env/data")
	t.Setenv("TIMEFRAMES", "1d,1w")
	t.Setenv("SERVER_PORT", "7070")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := NewManager("", nil).Load()
	require.NoError(t, err)

	assert.Equal(t, "/env/data", cfg.Mirror.DataDir)
	assert.Equal(t, []string{"1d", "1w"}, cfg.Mirror.Timeframes)
	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestMissingConfigFileUsesDefaults(t *testing.T) {
	cfg, err := NewManager(filepath.Join(t.TempDir(), "absent.json"), nil).Load()
	require.NoError(t, err)
	assert.Equal(t, "./data", cfg.Mirror.DataDir)
}

func TestDurationHelpers(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 100*time.Millisecond, cfg.Exchange.PageDelayDuration())
	assert.Equal(t, 2*time.Second, cfg.Exchange.RetryBaseDelayDuration())
	assert.Equal(t, 30*time.Second, cfg.Exchange.TimeoutDuration())
	assert.Equal(t, 10*time.Second, cfg.Server.ReadTimeoutDuration())
	assert.Equal(t, 30*time.Second, cfg.Server.WriteTimeoutDuration())
	assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeoutDuration())

	cfg.Exchange.PageDelay = "garbage"
	assert.Equal(t, 100*time.Millisecond, cfg.Exchange.PageDelayDuration())
}
