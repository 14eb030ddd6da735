package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsPopulated(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, ":8080", cfg.ListenAddr)
	require.Equal(t, 16000, cfg.SampleRateHz)
	require.Equal(t, 12.0, cfg.WindowSec)
	require.Equal(t, 0.75, cfg.AutoPromoteAvgConf)
	require.Equal(t, ":9090", cfg.MetricsAddr)
}

func TestLoad_EnvOverridesDefault(t *testing.T) {
	os.Setenv("MEETINGSCRIBE_LISTEN_ADDR", ":9999")
	defer os.Unsetenv("MEETINGSCRIBE_LISTEN_ADDR")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, ":9999", cfg.ListenAddr)
}

func TestConfig_DurationAccessorsConvertSecondsCorrectly(t *testing.T) {
	cfg := &Config{
		WindowSec:        12.0,
		HeartbeatTimeoutSec: 15.5,
		SessionLingerSec: 120.0,
	}

	require.Equal(t, 12*time.Second, cfg.WindowDuration())
	require.Equal(t, time.Duration(15.5*float64(time.Second)), cfg.HeartbeatTimeout())
	require.Equal(t, 120*time.Second, cfg.SessionLinger())
}

func TestLoad_UnknownConfigFileErrors(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	require.Error(t, err)
}
