package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaultsWhenEnvUnset(t *testing.T) {
	cfg := Load()
	require.Equal(t, "./data", cfg.DataDir)
	require.Equal(t, 5, cfg.DefaultIntervalSec)
	require.True(t, cfg.SmartSamplingEnabled)
	require.Equal(t, ":8080", cfg.ListenAddr)
	require.Equal(t, 15*time.Minute, cfg.StaleAfter)
}

func TestLoadHonorsEnvOverrides(t *testing.T) {
	t.Setenv("DATA_DIR", "/var/lib/framewatch")
	t.Setenv("DEFAULT_INTERVAL_SEC", "10")
	t.Setenv("SMART_SAMPLING_ENABLED", "false")
	t.Setenv("OPEN_VOCAB_LABELS", "tank,truck,soldier")

	cfg := Load()
	require.Equal(t, "/var/lib/framewatch", cfg.DataDir)
	require.Equal(t, 10, cfg.DefaultIntervalSec)
	require.False(t, cfg.SmartSamplingEnabled)
	require.Equal(t, []string{"tank", "truck", "soldier"}, cfg.OpenVocabLabels)
}

func TestClampIntervalEnforcesMinimumOfOne(t *testing.T) {
	require.Equal(t, 1, ClampInterval(0))
	require.Equal(t, 1, ClampInterval(-5))
	require.Equal(t, 30, ClampInterval(30))
}

func TestGetEnvListEmptyReturnsDefault(t *testing.T) {
	os.Unsetenv("UNSET_LIST_VAR")
	got := getEnvList("UNSET_LIST_VAR", []string{"a", "b"})
	require.Equal(t, []string{"a", "b"}, got)
}
