package core

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestDefaultConfig verifies that DefaultConfig returns valid defaults
func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "jcmrest", cfg.Name)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 30*time.Second, cfg.Bridge.CommandTimeout)
	assert.Equal(t, 4, cfg.Pool.Workers)
	assert.Equal(t, ProviderMemory, cfg.LogSink.Provider)
	assert.Equal(t, ProviderMemory, cfg.Directory.Provider)
	assert.True(t, cfg.HTTP.CORS.Enabled)
	assert.Equal(t, []string{"*"}, cfg.HTTP.CORS.AllowedOrigins)
	assert.False(t, cfg.Telemetry.Enabled)

	require.NoError(t, cfg.Validate())
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("JCMREST_PORT", "9090")
	t.Setenv("JCMREST_COMMAND_TIMEOUT", "5s")
	t.Setenv("JCMREST_POOL_WORKERS", "2")
	t.Setenv("JCMREST_CORS_ORIGINS", "https://a.example.com, http://localhost:*")
	t.Setenv("REDIS_URL", "redis://localhost:6379")
	t.Setenv("OTEL_SERVICE_NAME", "mas")
	t.Setenv("JCMREST_DEBUG", "true")

	cfg := DefaultConfig()
	require.NoError(t, cfg.LoadFromEnv())

	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, 5*time.Second, cfg.Bridge.CommandTimeout)
	assert.Equal(t, 2, cfg.Pool.Workers)
	assert.Equal(t, []string{"https://a.example.com", "http://localhost:*"}, cfg.HTTP.CORS.AllowedOrigins)
	assert.Equal(t, ProviderRedis, cfg.LogSink.Provider)
	assert.Equal(t, ProviderRedis, cfg.Directory.Provider)
	assert.Equal(t, "redis://localhost:6379", cfg.Directory.RedisURL)
	assert.Equal(t, "mas", cfg.Telemetry.ServiceName)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadFromEnvExplicitProviderWins(t *testing.T) {
	t.Setenv("REDIS_URL", "redis://localhost:6379")
	t.Setenv("JCMREST_LOG_SINK_PROVIDER", "memory")

	cfg := DefaultConfig()
	require.NoError(t, cfg.LoadFromEnv())

	assert.Equal(t, ProviderMemory, cfg.LogSink.Provider)
	assert.Equal(t, ProviderRedis, cfg.Directory.Provider)
}

func TestLoadFromEnvRejectsMalformedValues(t *testing.T) {
	tests := []struct {
		key   string
		value string
	}{
		{"JCMREST_PORT", "eighty"},
		{"JCMREST_COMMAND_TIMEOUT", "soon"},
		{"JCMREST_POOL_WORKERS", "many"},
		{"JCMREST_TELEMETRY_SAMPLING_RATE", "half"},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			err := DefaultConfig().LoadFromEnv()
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidConfiguration))
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{"zero command timeout", func(c *Config) { c.Bridge.CommandTimeout = 0 }, ErrMissingConfiguration},
		{"negative command timeout", func(c *Config) { c.Bridge.CommandTimeout = -time.Second }, ErrMissingConfiguration},
		{"no workers", func(c *Config) { c.Pool.Workers = 0 }, ErrInvalidConfiguration},
		{"negative queue", func(c *Config) { c.Pool.QueueSize = -1 }, ErrInvalidConfiguration},
		{"bad port", func(c *Config) { c.Port = 70000 }, ErrInvalidConfiguration},
		{"redis without url", func(c *Config) { c.LogSink.Provider = ProviderRedis }, ErrMissingConfiguration},
		{"unknown provider", func(c *Config) { c.Directory.Provider = "zookeeper" }, ErrInvalidConfiguration},
		{"otlp without endpoint", func(c *Config) { c.Telemetry.Enabled = true }, ErrMissingConfiguration},
		{"otlphttp without endpoint", func(c *Config) {
			c.Telemetry.Enabled = true
			c.Telemetry.Exporter = "otlphttp"
		}, ErrMissingConfiguration},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)

			var fe *FrameworkError
			require.ErrorAs(t, err, &fe)
			assert.Equal(t, "Config.Validate", fe.Op)
		})
	}
}

func TestStdoutTelemetryNeedsNoEndpoint(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Telemetry.Enabled = true
	cfg.Telemetry.Exporter = "stdout"
	assert.NoError(t, cfg.Validate())
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()

	t.Run("yaml with duration strings", func(t *testing.T) {
		path := filepath.Join(dir, "jcmrest.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
port: 7070
bridge:
  command_timeout: 12s
pool:
  workers: 6
log_sink:
  provider: redis
  redis_url: redis://cache:6379
`), 0o600))

		cfg := DefaultConfig()
		require.NoError(t, cfg.LoadFromFile(path))
		assert.Equal(t, 7070, cfg.Port)
		assert.Equal(t, 12*time.Second, cfg.Bridge.CommandTimeout)
		assert.Equal(t, 6, cfg.Pool.Workers)
		assert.Equal(t, ProviderRedis, cfg.LogSink.Provider)
		assert.Equal(t, ProviderMemory, cfg.Directory.Provider)
	})

	t.Run("json", func(t *testing.T) {
		path := filepath.Join(dir, "jcmrest.json")
		require.NoError(t, os.WriteFile(path, []byte(`{"port": 7171, "pool": {"workers": 3}}`), 0o600))

		cfg := DefaultConfig()
		require.NoError(t, cfg.LoadFromFile(path))
		assert.Equal(t, 7171, cfg.Port)
		assert.Equal(t, 3, cfg.Pool.Workers)
	})

	t.Run("unsupported extension", func(t *testing.T) {
		err := DefaultConfig().LoadFromFile(filepath.Join(dir, "jcmrest.toml"))
		assert.ErrorIs(t, err, ErrInvalidConfiguration)
	})

	t.Run("malformed yaml", func(t *testing.T) {
		path := filepath.Join(dir, "bad.yml")
		require.NoError(t, os.WriteFile(path, []byte("port: [unterminated"), 0o600))
		err := DefaultConfig().LoadFromFile(path)
		assert.ErrorIs(t, err, ErrInvalidConfiguration)
	})
}

func TestNewConfigOptionsOverrideEnv(t *testing.T) {
	t.Setenv("JCMREST_POOL_WORKERS", "2")

	cfg, err := NewConfig(WithWorkers(8), WithCommandTimeout(time.Second), WithPort(9999))
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.Pool.Workers)
	assert.Equal(t, time.Second, cfg.Bridge.CommandTimeout)
	assert.Equal(t, ":9999", cfg.ListenAddress())
}

func TestNewConfigRejectsInvalidOptions(t *testing.T) {
	_, err := NewConfig(WithCommandTimeout(0))
	assert.ErrorIs(t, err, ErrInvalidConfiguration)

	_, err = NewConfig(WithWorkers(-1))
	assert.ErrorIs(t, err, ErrInvalidConfiguration)

	_, err = NewConfig(WithPort(0))
	assert.ErrorIs(t, err, ErrInvalidConfiguration)
}
