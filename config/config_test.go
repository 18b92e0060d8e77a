package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func setBaseEnv(t *testing.T) {
	t.Helper()
	t.Setenv("STUDYHUB_CONFIG", "")
	t.Setenv("AUTH_SECRET", testSecret)
}

func TestLoadFrom_Defaults(t *testing.T) {
	setBaseEnv(t)

	cfg, err := LoadFrom(viper.New())
	require.NoError(t, err)

	assert.Equal(t, EnvDevelopment, cfg.App.Environment)
	assert.True(t, cfg.App.Debug)
	assert.Equal(t, time.UTC, cfg.App.Location)
	assert.Equal(t, 8080, cfg.HTTP.Port)
	assert.Equal(t, []string{"*"}, cfg.HTTP.AllowedOrigins)
	assert.Equal(t, 3*time.Second, cfg.HTTP.HealthCheckTimeout)
	assert.Equal(t, StorageMemory, cfg.Storage.Driver)
	assert.Equal(t, 25*time.Minute, cfg.Timer.Pomodoro)
	assert.Equal(t, 4, cfg.Timer.LongBreakEvery)
	assert.Equal(t, "0 0 * * 1", cfg.Scheduler.WeeklyResetCron)
	assert.Equal(t, 15*time.Minute, cfg.Scheduler.ReconcileInterval)
	assert.False(t, cfg.RedisEnabled())
	require.NotNil(t, cfg.Features)
	assert.True(t, cfg.Features.IsEnabled(FeatureAssistantChat, nil))
}

func TestLoadFrom_Environment(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("HTTP_PORT", "9000")
	t.Setenv("HTTP_ALLOWED_ORIGINS", "https://a.example.com,https://b.example.com")
	t.Setenv("TIMER_POMODORO", "50m")
	t.Setenv("STORAGE_DRIVER", "postgres")
	t.Setenv("DATABASE_URL", "postgres://u:p@localhost:5432/studyhub")
	t.Setenv("REDIS_DISABLED", "false")
	t.Setenv("APP_TIMEZONE", "Asia/Almaty")
	t.Setenv("FEATURES_ASSISTANT_CHAT", "false")

	cfg, err := LoadFrom(viper.New())
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.HTTP.Port)
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.HTTP.AllowedOrigins)
	assert.Equal(t, 50*time.Minute, cfg.Timer.Pomodoro)
	assert.Equal(t, StoragePostgres, cfg.Storage.Driver)
	assert.True(t, cfg.Database.Configured())
	assert.True(t, cfg.RedisEnabled())
	assert.Equal(t, "Asia/Almaty", cfg.App.Location.String())
	assert.False(t, cfg.Features.IsEnabled(FeatureAssistantChat, nil))
}

func TestLoadFrom_Aliases(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("AUTH_SECRET", "")
	t.Setenv("JWT_SECRET", testSecret)
	t.Setenv("PORT", "7000")
	t.Setenv("LOG_FORMAT", "text")

	cfg, err := LoadFrom(viper.New())
	require.NoError(t, err)

	assert.Equal(t, testSecret, cfg.Auth.Secret)
	assert.Equal(t, 7000, cfg.HTTP.Port)
	assert.Equal(t, "text", cfg.App.LogFormat)
}

func TestLoadFrom_ConfigFile(t *testing.T) {
	setBaseEnv(t)

	path := filepath.Join(t.TempDir(), "studyhub.yaml")
	require.NoError(t, os.WriteFile(path, []byte("http:\n  port: 8181\ntimer:\n  long_break_every: 3\n"), 0o600))
	t.Setenv("STUDYHUB_CONFIG", path)

	cfg, err := LoadFrom(viper.New())
	require.NoError(t, err)

	assert.Equal(t, 8181, cfg.HTTP.Port)
	assert.Equal(t, 3, cfg.Timer.LongBreakEvery)
}

func TestValidate(t *testing.T) {
	setBaseEnv(t)
	base, err := LoadFrom(viper.New())
	require.NoError(t, err)
	valid := func() *Config {
		cfg := *base
		return &cfg
	}

	tests := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{"short secret", func(c *Config) { c.Auth.Secret = "short" }, "AUTH_SECRET"},
		{"postgres without database", func(c *Config) { c.Storage.Driver = StoragePostgres }, "DATABASE_URL"},
		{"memory in production", func(c *Config) { c.App.Environment = EnvProduction }, "not allowed in production"},
		{"unknown driver", func(c *Config) { c.Storage.Driver = "mongo" }, "STORAGE_DRIVER"},
		{"bad port", func(c *Config) { c.HTTP.Port = 0 }, "HTTP_PORT"},
		{"bad cron", func(c *Config) { c.Scheduler.WeeklyResetCron = "every monday" }, "SCHEDULER_WEEKLY_RESET_CRON"},
		{"long break every", func(c *Config) { c.Timer.LongBreakEvery = 0 }, "TIMER_LONG_BREAK_EVERY"},
		{"log format", func(c *Config) { c.App.LogFormat = "xml" }, "APP_LOG_FORMAT"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	t.Run("errors are collected", func(t *testing.T) {
		cfg := valid()
		cfg.Auth.Secret = ""
		cfg.HTTP.Port = -1
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "\n  - AUTH_SECRET")
		assert.Contains(t, err.Error(), "\n  - HTTP_PORT")
	})
}

func TestLoadFrom_MissingSecret(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("AUTH_SECRET", "")

	_, err := LoadFrom(viper.New())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AUTH_SECRET")
}
