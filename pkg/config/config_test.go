package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_AppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte("analyzer:\n  platform: CHIP_V4_1_0\n"))
	require.NoError(t, err)

	assert.Equal(t, DefaultPort, cfg.Server.Port)
	assert.Equal(t, "CHIP_V4_1_0", cfg.Analyzer.Platform())
	assert.Equal(t, DefaultFrequencyMHz, cfg.Analyzer.FrequencyMHz())
	assert.Equal(t, DefaultQueueName, cfg.Queue.Name)
	assert.Equal(t, "info", cfg.Logger.Level)
	assert.False(t, cfg.MySQL.Enabled())
	assert.Equal(t, DefaultFlushInterval, cfg.Jobs.FlushInterval)
	assert.Equal(t, DefaultMySQLBatch, cfg.Sinks.MySQLBatch)
}

func TestParse_Durations(t *testing.T) {
	cfg, err := Parse([]byte("sinks:\n  retention: 2h\njobs:\n  sampler_interval: 5s\n"))
	require.NoError(t, err)
	assert.Equal(t, 2*time.Hour, cfg.Sinks.Retention)
	assert.Equal(t, 5*time.Second, cfg.Jobs.SamplerInterval)
}

func TestParse_Invalid(t *testing.T) {
	_, err := Parse([]byte("server: [unclosed"))
	assert.Error(t, err)
}

func TestInit_FromConfigPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("analyzer:\n  frequency_mhz: \"1800\"\n"), 0644))
	t.Setenv("CONFIG_PATH", path)

	require.NoError(t, Init())
	assert.Equal(t, "1800", GlobalConfig.Analyzer.FrequencyMHz())
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
