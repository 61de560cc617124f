package config

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	ctx := context.Background()

	t.Run("LoadDefaults", func(t *testing.T) {
		cfg, err := Load(ctx)
		require.NoError(t, err)
		require.NotNil(t, cfg)

		assert.Equal(t, "localhost", cfg.Server.Host)
		assert.Equal(t, 8080, cfg.Server.Port)
		assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
		assert.Equal(t, 30*time.Second, cfg.Server.WriteTimeout)
		assert.Equal(t, 120*time.Second, cfg.Server.IdleTimeout)
		assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)

		assert.Equal(t, "info", cfg.Logging.Level)
		assert.Equal(t, "structured", cfg.Logging.Profile)

		assert.True(t, cfg.Health.Enabled)

		assert.False(t, cfg.Debug.Enabled)
		assert.False(t, cfg.Debug.PprofEnabled)

		assert.Equal(t, 4, cfg.Workers)

		assert.Equal(t, 5, cfg.Retry.MaxAttempts)
		assert.Equal(t, 500*time.Millisecond, cfg.Retry.BaseDelay)
		assert.Equal(t, 5*time.Second, cfg.Analysis.PollInterval)
	})

	t.Run("RuntimeOverrides", func(t *testing.T) {
		overrides := map[string]any{
			"server": map[string]any{
				"port": 9000,
				"host": "0.0.0.0",
			},
			"logging": map[string]any{
				"level": "debug",
			},
		}

		cfg, err := Load(ctx, overrides)
		require.NoError(t, err)
		require.NotNil(t, cfg)

		assert.Equal(t, "0.0.0.0", cfg.Server.Host)
		assert.Equal(t, 9000, cfg.Server.Port)
		assert.Equal(t, "debug", cfg.Logging.Level)

		// Non-overridden values stay at defaults.
		assert.Equal(t, "structured", cfg.Logging.Profile)
		assert.Equal(t, 4, cfg.Workers)
	})

	t.Run("EnvOverrides", func(t *testing.T) {
		require.NoError(t, os.Setenv("GOLUMEN_PORT", "3000"))
		require.NoError(t, os.Setenv("GOLUMEN_LOG_LEVEL", "warn"))
		require.NoError(t, os.Setenv("GOLUMEN_WORKERS", "8"))
		defer func() {
			_ = os.Unsetenv("GOLUMEN_PORT")
			_ = os.Unsetenv("GOLUMEN_LOG_LEVEL")
			_ = os.Unsetenv("GOLUMEN_WORKERS")
		}()

		cfg, err := Load(ctx)
		require.NoError(t, err)
		require.NotNil(t, cfg)

		assert.Equal(t, 3000, cfg.Server.Port)
		assert.Equal(t, "warn", cfg.Logging.Level)
		assert.Equal(t, 8, cfg.Workers)
	})

	t.Run("ConfigPrecedence", func(t *testing.T) {
		require.NoError(t, os.Setenv("GOLUMEN_PORT", "4000"))
		defer func() {
			_ = os.Unsetenv("GOLUMEN_PORT")
		}()

		overrides := map[string]any{
			"server": map[string]any{
				"port": 5000,
			},
		}

		cfg, err := Load(ctx, overrides)
		require.NoError(t, err)
		require.NotNil(t, cfg)

		// Runtime override outranks the env var.
		assert.Equal(t, 5000, cfg.Server.Port)
	})
}

func TestGetConfig(t *testing.T) {
	ctx := context.Background()

	cfg, err := Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, cfg)

	retrieved := GetConfig()
	require.NotNil(t, retrieved)
	assert.Equal(t, cfg.Server.Port, retrieved.Server.Port)
	assert.Equal(t, cfg.Logging.Level, retrieved.Logging.Level)
}

func TestEnvSpecs(t *testing.T) {
	specs := getEnvSpecs()
	assert.NotEmpty(t, specs)

	envVarNames := make(map[string]bool)
	for _, spec := range specs {
		envVarNames[spec.Name] = true
		assert.Contains(t, spec.Name, "GOLUMEN_")
		assert.NotEmpty(t, spec.Path)
	}

	assert.True(t, envVarNames["GOLUMEN_LOG_LEVEL"])
	assert.True(t, envVarNames["GOLUMEN_PORT"])
	assert.True(t, envVarNames["GOLUMEN_HOST"])
	assert.True(t, envVarNames["GOLUMEN_WORKERS"])
}

func TestDurationParsing(t *testing.T) {
	ctx := context.Background()

	require.NoError(t, os.Setenv("GOLUMEN_READ_TIMEOUT", "45s"))
	require.NoError(t, os.Setenv("GOLUMEN_SHUTDOWN_TIMEOUT", "5m"))
	defer func() {
		_ = os.Unsetenv("GOLUMEN_READ_TIMEOUT")
		_ = os.Unsetenv("GOLUMEN_SHUTDOWN_TIMEOUT")
	}()

	cfg, err := Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, 45*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 5*time.Minute, cfg.Server.ShutdownTimeout)
}

func TestConfigReload(t *testing.T) {
	ctx := context.Background()

	cfg1, err := Load(ctx)
	require.NoError(t, err)
	initialPort := cfg1.Server.Port

	overrides := map[string]any{
		"server": map[string]any{
			"port": initialPort + 1000,
		},
	}

	cfg2, err := Load(ctx, overrides)
	require.NoError(t, err)
	assert.Equal(t, initialPort+1000, cfg2.Server.Port)

	current := GetConfig()
	require.NotNil(t, current)
	assert.Equal(t, cfg2.Server.Port, current.Server.Port)
}

func TestFlattenOverrides(t *testing.T) {
	flat := flattenOverrides("", map[string]any{
		"workers": 8,
		"server": map[string]any{
			"port": 9000,
		},
	})

	assert.Equal(t, 8, flat["workers"])
	assert.Equal(t, 9000, flat["server.port"])
}
