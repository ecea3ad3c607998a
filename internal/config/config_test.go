package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DriverPostgres, cfg.StoreDriver)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
	assert.True(t, cfg.CCE.Flags.Enabled)
	assert.True(t, cfg.CCE.Flags.V2Enabled)
	assert.Equal(t, 15*time.Minute, cfg.CCE.UpdateInterval)
	assert.Equal(t, 120*time.Hour, cfg.CCE.Tuning.TensionHalfLife)
	assert.Equal(t, 9*time.Hour, cfg.CCE.Tuning.HeatHalfLife)
	assert.InDelta(t, 0.1, cfg.CCE.MinTension, 1e-12)
	assert.InDelta(t, 6.0, cfg.CycleRatePerMinute, 1e-12)
	assert.Equal(t, 2, cfg.CycleRateBurst)
	assert.Equal(t, 30*time.Second, cfg.ShutdownTimeout)
	assert.False(t, cfg.SkipEmbeddedMigrations)
}

func TestLoad_CycleRateNeedsBurst(t *testing.T) {
	t.Setenv("CYCLE_RATE_BURST", "0")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CYCLE_RATE_BURST")

	t.Setenv("CYCLE_RATE_PER_MINUTE", "0")
	_, err = Load()
	assert.NoError(t, err)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("STORE_DRIVER", "sqlite")
	t.Setenv("SQLITE_PATH", "/tmp/cce.db")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("CCE_V2_ENABLED", "false")
	t.Setenv("CCE_MIN_TENSION", "0.25")
	t.Setenv("CCE_MAX_AGE", "24h")
	t.Setenv("CCE_WORKERS", "4")
	t.Setenv("CCE_HEAT_HALF_LIFE", "6h")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, DriverSQLite, cfg.StoreDriver)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
	assert.False(t, cfg.CCE.Flags.V2Enabled)
	assert.InDelta(t, 0.25, cfg.CCE.MinTension, 1e-12)
	assert.Equal(t, 24*time.Hour, cfg.CCE.MaxAge)
	assert.Equal(t, 4, cfg.CCE.Workers)
	assert.Equal(t, 6*time.Hour, cfg.CCE.Tuning.HeatHalfLife)
}

func TestLoad_InvalidValue(t *testing.T) {
	t.Setenv("PORT", "abc")
	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_UnknownDriver(t *testing.T) {
	t.Setenv("STORE_DRIVER", "mongo")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown STORE_DRIVER")
}

func TestLoad_HeatMustDecayFaster(t *testing.T) {
	t.Setenv("CCE_HEAT_HALF_LIFE", "200h")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "heat half-life")
}

func TestValidate_SQLiteNeedsPath(t *testing.T) {
	t.Setenv("STORE_DRIVER", "sqlite")
	cfg, err := Load()
	require.NoError(t, err)
	cfg.SQLitePath = ""
	assert.Error(t, cfg.Validate())
}

func TestSetupLoggerWithWriters_FansOut(t *testing.T) {
	var a, b bytes.Buffer
	logger := SetupLoggerWithWriters(&a, &b, slog.LevelInfo)
	logger.Info("cce: tick complete", "created", 2)
	logger.Debug("hidden")

	assert.Contains(t, a.String(), `"created":2`)
	assert.Contains(t, b.String(), `"created":2`)
	assert.NotContains(t, a.String(), "hidden")
}

func TestSetupLogger_WritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cce.log")
	logger, cleanup := SetupLogger(path, slog.LevelInfo)
	logger.Warn("refdata: reload failed")
	require.NoError(t, cleanup())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "refdata: reload failed")
}
