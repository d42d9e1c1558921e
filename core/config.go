package core

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration options for the jcmrest platform.
// It supports three-layer configuration priority:
//  1. Default values (lowest priority)
//  2. Environment variables (medium priority)
//  3. Functional options (highest priority)
//
// A config file given through WithConfigFile is applied in option order.
//
// Example usage:
//
//	cfg, err := NewConfig(
//	    WithPort(8080),
//	    WithWorkers(8),
//	    WithCommandTimeout(10*time.Second),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
type Config struct {
	// Core configuration
	Name      string `json:"name" yaml:"name" env:"JCMREST_NAME" default:"jcmrest"`
	Port      int    `json:"port" yaml:"port" env:"JCMREST_PORT" default:"8080"`
	Address   string `json:"address" yaml:"address" env:"JCMREST_ADDRESS"`
	Namespace string `json:"namespace" yaml:"namespace" env:"JCMREST_NAMESPACE" default:"jcmrest"`

	HTTP        HTTPConfig        `json:"http" yaml:"http"`
	Bridge      BridgeConfig      `json:"bridge" yaml:"bridge"`
	Pool        PoolConfig        `json:"pool" yaml:"pool"`
	LogSink     StoreConfig       `json:"log_sink" yaml:"log_sink"`
	Directory   StoreConfig       `json:"directory" yaml:"directory"`
	Telemetry   TelemetryConfig   `json:"telemetry" yaml:"telemetry"`
	Logging     LoggingConfig     `json:"logging" yaml:"logging"`
	Development DevelopmentConfig `json:"development" yaml:"development"`
}

// HTTPConfig contains HTTP server configuration including timeouts, limits, and CORS settings.
type HTTPConfig struct {
	ReadTimeout     time.Duration `json:"read_timeout" yaml:"read_timeout" env:"JCMREST_HTTP_READ_TIMEOUT" default:"30s"`
	WriteTimeout    time.Duration `json:"write_timeout" yaml:"write_timeout" env:"JCMREST_HTTP_WRITE_TIMEOUT" default:"60s"`
	IdleTimeout     time.Duration `json:"idle_timeout" yaml:"idle_timeout" env:"JCMREST_HTTP_IDLE_TIMEOUT" default:"120s"`
	MaxHeaderBytes  int           `json:"max_header_bytes" yaml:"max_header_bytes" default:"1048576"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout" yaml:"shutdown_timeout" env:"JCMREST_HTTP_SHUTDOWN_TIMEOUT" default:"10s"`
	CORS            CORSConfig    `json:"cors" yaml:"cors"`
}

// CORSConfig contains Cross-Origin Resource Sharing (CORS) configuration.
// Supports wildcard domains (e.g., *.example.com) and wildcard ports (e.g., http://localhost:*).
type CORSConfig struct {
	Enabled          bool     `json:"enabled" yaml:"enabled" env:"JCMREST_CORS_ENABLED" default:"true"`
	AllowedOrigins   []string `json:"allowed_origins" yaml:"allowed_origins" env:"JCMREST_CORS_ORIGINS" default:"*"`
	AllowedMethods   []string `json:"allowed_methods" yaml:"allowed_methods" default:"GET,POST,PUT,DELETE,OPTIONS"`
	AllowedHeaders   []string `json:"allowed_headers" yaml:"allowed_headers" default:"Content-Type,Authorization"`
	ExposedHeaders   []string `json:"exposed_headers" yaml:"exposed_headers"`
	AllowCredentials bool     `json:"allow_credentials" yaml:"allow_credentials" env:"JCMREST_CORS_CREDENTIALS" default:"false"`
	MaxAge           int      `json:"max_age" yaml:"max_age" default:"86400"`
}

// BridgeConfig configures the synchronous command bridge.
// CommandTimeout is mandatory: a command never waits without a bound.
type BridgeConfig struct {
	CommandTimeout time.Duration `json:"command_timeout" yaml:"command_timeout" env:"JCMREST_COMMAND_TIMEOUT" default:"30s"`
}

// PoolConfig configures the process-wide execution pool that injects commands.
type PoolConfig struct {
	Workers         int           `json:"workers" yaml:"workers" env:"JCMREST_POOL_WORKERS" default:"4"`
	QueueSize       int           `json:"queue_size" yaml:"queue_size" env:"JCMREST_POOL_QUEUE_SIZE" default:"1024"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout" yaml:"shutdown_timeout" env:"JCMREST_POOL_SHUTDOWN_TIMEOUT" default:"30s"`
}

// StoreConfig selects a storage backend for the log sink or the directory.
// Provider is "memory" or "redis".
type StoreConfig struct {
	Provider  string `json:"provider" yaml:"provider" default:"memory"`
	RedisURL  string `json:"redis_url" yaml:"redis_url"`
	Namespace string `json:"namespace" yaml:"namespace"`
}

// TelemetryConfig contains OpenTelemetry configuration.
// Exporter is "otlp" (spans over gRPC to Endpoint), "otlphttp" (spans and
// metrics over HTTP to Endpoint) or "stdout". MetricsEndpoint, when set, is
// an OTLP/HTTP collector for metrics.
type TelemetryConfig struct {
	Enabled         bool    `json:"enabled" yaml:"enabled" env:"JCMREST_TELEMETRY_ENABLED" default:"false"`
	Exporter        string  `json:"exporter" yaml:"exporter" env:"JCMREST_TELEMETRY_EXPORTER" default:"otlp"`
	Endpoint        string  `json:"endpoint" yaml:"endpoint" env:"JCMREST_TELEMETRY_ENDPOINT,OTEL_EXPORTER_OTLP_ENDPOINT"`
	MetricsEndpoint string  `json:"metrics_endpoint" yaml:"metrics_endpoint" env:"JCMREST_TELEMETRY_METRICS_ENDPOINT"`
	ServiceName     string  `json:"service_name" yaml:"service_name" env:"OTEL_SERVICE_NAME" default:"jcmrest"`
	SamplingRate    float64 `json:"sampling_rate" yaml:"sampling_rate" env:"JCMREST_TELEMETRY_SAMPLING_RATE" default:"1.0"`
	Insecure        bool    `json:"insecure" yaml:"insecure" env:"JCMREST_TELEMETRY_INSECURE" default:"true"`
}

// LoggingConfig contains logging configuration.
// Supports structured (json) and human-readable (console) formats.
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level" env:"JCMREST_LOG_LEVEL" default:"info"`
	Format string `json:"format" yaml:"format" env:"JCMREST_LOG_FORMAT" default:"json"`
	Output string `json:"output" yaml:"output" env:"JCMREST_LOG_OUTPUT" default:"stdout"`
}

// DevelopmentConfig contains settings for local development and testing.
// Development mode logs every HTTP request and switches to console logs.
type DevelopmentConfig struct {
	Enabled      bool `json:"enabled" yaml:"enabled" env:"JCMREST_DEV_MODE" default:"false"`
	DebugLogging bool `json:"debug_logging" yaml:"debug_logging" env:"JCMREST_DEBUG" default:"false"`
}

// Option is a functional option for configuring the platform.
// Options are applied in order and can return an error if the configuration is invalid.
type Option func(*Config) error

// Store providers
const (
	ProviderMemory = "memory"
	ProviderRedis  = "redis"
)

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Name:      "jcmrest",
		Port:      8080,
		Namespace: "jcmrest",
		HTTP: HTTPConfig{
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    60 * time.Second,
			IdleTimeout:     120 * time.Second,
			MaxHeaderBytes:  1 << 20, // 1MB
			ShutdownTimeout: 10 * time.Second,
			CORS: CORSConfig{
				Enabled:        true,
				AllowedOrigins: []string{"*"},
				AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
				AllowedHeaders: []string{"Content-Type", "Authorization"},
				ExposedHeaders: []string{},
				MaxAge:         86400,
			},
		},
		Bridge: BridgeConfig{
			CommandTimeout: 30 * time.Second,
		},
		Pool: PoolConfig{
			Workers:         4,
			QueueSize:       1024,
			ShutdownTimeout: 30 * time.Second,
		},
		LogSink: StoreConfig{
			Provider: ProviderMemory,
		},
		Directory: StoreConfig{
			Provider: ProviderMemory,
		},
		Telemetry: TelemetryConfig{
			Enabled:      false,
			Exporter:     "otlp",
			ServiceName:  "jcmrest",
			SamplingRate: 1.0,
			Insecure:     true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables follow the naming convention:
//   - Platform-specific: JCMREST_<SETTING>
//   - Standard variables: REDIS_URL, OTEL_EXPORTER_OTLP_ENDPOINT, OTEL_SERVICE_NAME
//
// Returns an error if environment variables contain invalid values.
func (c *Config) LoadFromEnv() error {
	if v := os.Getenv("JCMREST_NAME"); v != "" {
		c.Name = v
	}
	if v := os.Getenv("JCMREST_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("JCMREST_PORT=%q: %w", v, ErrInvalidConfiguration)
		}
		c.Port = port
	}
	if v := os.Getenv("JCMREST_ADDRESS"); v != "" {
		c.Address = v
	}
	if v := os.Getenv("JCMREST_NAMESPACE"); v != "" {
		c.Namespace = v
	}

	// HTTP settings
	if err := envDuration("JCMREST_HTTP_READ_TIMEOUT", &c.HTTP.ReadTimeout); err != nil {
		return err
	}
	if err := envDuration("JCMREST_HTTP_WRITE_TIMEOUT", &c.HTTP.WriteTimeout); err != nil {
		return err
	}
	if err := envDuration("JCMREST_HTTP_IDLE_TIMEOUT", &c.HTTP.IdleTimeout); err != nil {
		return err
	}
	if err := envDuration("JCMREST_HTTP_SHUTDOWN_TIMEOUT", &c.HTTP.ShutdownTimeout); err != nil {
		return err
	}

	// CORS settings
	if v := os.Getenv("JCMREST_CORS_ENABLED"); v != "" {
		c.HTTP.CORS.Enabled = parseBool(v)
	}
	if v := os.Getenv("JCMREST_CORS_ORIGINS"); v != "" {
		c.HTTP.CORS.AllowedOrigins = parseStringList(v)
	}
	if v := os.Getenv("JCMREST_CORS_CREDENTIALS"); v != "" {
		c.HTTP.CORS.AllowCredentials = parseBool(v)
	}

	// Bridge and pool
	if err := envDuration("JCMREST_COMMAND_TIMEOUT", &c.Bridge.CommandTimeout); err != nil {
		return err
	}
	if err := envInt("JCMREST_POOL_WORKERS", &c.Pool.Workers); err != nil {
		return err
	}
	if err := envInt("JCMREST_POOL_QUEUE_SIZE", &c.Pool.QueueSize); err != nil {
		return err
	}
	if err := envDuration("JCMREST_POOL_SHUTDOWN_TIMEOUT", &c.Pool.ShutdownTimeout); err != nil {
		return err
	}

	// Storage backends. REDIS_URL switches both stores to redis unless
	// a provider was chosen explicitly.
	redisURL := os.Getenv("JCMREST_REDIS_URL")
	if redisURL == "" {
		redisURL = os.Getenv("REDIS_URL")
	}
	if redisURL != "" {
		c.LogSink.RedisURL = redisURL
		c.Directory.RedisURL = redisURL
	}
	if v := os.Getenv("JCMREST_LOG_SINK_PROVIDER"); v != "" {
		c.LogSink.Provider = v
	} else if redisURL != "" {
		c.LogSink.Provider = ProviderRedis
	}
	if v := os.Getenv("JCMREST_DIRECTORY_PROVIDER"); v != "" {
		c.Directory.Provider = v
	} else if redisURL != "" {
		c.Directory.Provider = ProviderRedis
	}

	// Telemetry settings
	if v := os.Getenv("JCMREST_TELEMETRY_ENABLED"); v != "" {
		c.Telemetry.Enabled = parseBool(v)
	}
	if v := os.Getenv("JCMREST_TELEMETRY_EXPORTER"); v != "" {
		c.Telemetry.Exporter = v
	}
	if v := os.Getenv("JCMREST_TELEMETRY_ENDPOINT"); v != "" {
		c.Telemetry.Endpoint = v
	} else if v := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); v != "" {
		c.Telemetry.Endpoint = v
	}
	if v := os.Getenv("JCMREST_TELEMETRY_METRICS_ENDPOINT"); v != "" {
		c.Telemetry.MetricsEndpoint = v
	}
	if v := os.Getenv("OTEL_SERVICE_NAME"); v != "" {
		c.Telemetry.ServiceName = v
	}
	if v := os.Getenv("JCMREST_TELEMETRY_SAMPLING_RATE"); v != "" {
		rate, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("JCMREST_TELEMETRY_SAMPLING_RATE=%q: %w", v, ErrInvalidConfiguration)
		}
		c.Telemetry.SamplingRate = rate
	}
	if v := os.Getenv("JCMREST_TELEMETRY_INSECURE"); v != "" {
		c.Telemetry.Insecure = parseBool(v)
	}

	// Logging settings
	if v := os.Getenv("JCMREST_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("JCMREST_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
	if v := os.Getenv("JCMREST_LOG_OUTPUT"); v != "" {
		c.Logging.Output = v
	}

	// Development settings
	if v := os.Getenv("JCMREST_DEV_MODE"); v != "" {
		c.Development.Enabled = parseBool(v)
		if c.Development.Enabled {
			c.Logging.Format = "console"
		}
	}
	if v := os.Getenv("JCMREST_DEBUG"); v != "" {
		c.Development.DebugLogging = parseBool(v)
		if c.Development.DebugLogging {
			c.Logging.Level = "debug"
		}
	}

	return nil
}

// LoadFromFile loads configuration from a JSON or YAML file.
// Durations are nanosecond integers in JSON and duration strings ("30s") in YAML.
//
// Example YAML:
//
//	port: 8080
//	bridge:
//	  command_timeout: 10s
//	pool:
//	  workers: 8
func (c *Config) LoadFromFile(path string) error {
	cleanPath := filepath.Clean(path)

	ext := filepath.Ext(cleanPath)
	if ext != ".json" && ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("unsupported config file extension %s: %w", ext, ErrInvalidConfiguration)
	}

	data, err := os.ReadFile(cleanPath) // nosec G304 -- operator supplied path
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", cleanPath, err)
	}

	switch ext {
	case ".json":
		if err := json.Unmarshal(data, c); err != nil {
			return fmt.Errorf("failed to parse JSON config file: %v: %w", err, ErrInvalidConfiguration)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, c); err != nil {
			return fmt.Errorf("failed to parse YAML config file: %v: %w", err, ErrInvalidConfiguration)
		}
	}

	return nil
}

// Validate checks if the configuration is valid and returns an error if not.
//
// Validation rules:
//   - Port must be between 1 and 65535
//   - Command timeout must be positive
//   - Pool needs at least one worker and a non-negative queue
//   - Redis-backed stores need a Redis URL
//   - OTLP telemetry needs an endpoint
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return &FrameworkError{
			Op:      "Config.Validate",
			Kind:    "config",
			Message: fmt.Sprintf("invalid port: %d", c.Port),
			Err:     ErrInvalidConfiguration,
		}
	}

	if c.Bridge.CommandTimeout <= 0 {
		return &FrameworkError{
			Op:      "Config.Validate",
			Kind:    "config",
			Message: "command timeout is required and must be positive",
			Err:     ErrMissingConfiguration,
		}
	}

	if c.Pool.Workers < 1 {
		return &FrameworkError{
			Op:      "Config.Validate",
			Kind:    "config",
			Message: fmt.Sprintf("invalid pool size: %d", c.Pool.Workers),
			Err:     ErrInvalidConfiguration,
		}
	}

	if c.Pool.QueueSize < 0 {
		return &FrameworkError{
			Op:      "Config.Validate",
			Kind:    "config",
			Message: fmt.Sprintf("invalid pool queue size: %d", c.Pool.QueueSize),
			Err:     ErrInvalidConfiguration,
		}
	}

	for name, store := range map[string]StoreConfig{"log_sink": c.LogSink, "directory": c.Directory} {
		switch store.Provider {
		case ProviderMemory:
		case ProviderRedis:
			if store.RedisURL == "" {
				return &FrameworkError{
					Op:      "Config.Validate",
					Kind:    "config",
					Message: fmt.Sprintf("redis URL is required for the redis %s provider", name),
					Err:     ErrMissingConfiguration,
				}
			}
		default:
			return &FrameworkError{
				Op:      "Config.Validate",
				Kind:    "config",
				Message: fmt.Sprintf("unknown %s provider: %q", name, store.Provider),
				Err:     ErrInvalidConfiguration,
			}
		}
	}

	if c.Telemetry.Enabled && (c.Telemetry.Exporter == "otlp" || c.Telemetry.Exporter == "otlphttp") && c.Telemetry.Endpoint == "" {
		return &FrameworkError{
			Op:      "Config.Validate",
			Kind:    "config",
			Message: "telemetry endpoint is required when otlp telemetry is enabled",
			Err:     ErrMissingConfiguration,
		}
	}

	return nil
}

// ListenAddress returns the host:port the HTTP server binds to.
func (c *Config) ListenAddress() string {
	return fmt.Sprintf("%s:%d", c.Address, c.Port)
}

// Helper functions

// parseStringList splits a comma-separated string into a slice of strings.
// Whitespace is trimmed from each element, and empty strings are filtered out.
func parseStringList(s string) []string {
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

// parseBool converts a string to a boolean value.
// Accepts: "true", "1", "yes", "on" (case-insensitive) as true.
func parseBool(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "true" || s == "1" || s == "yes" || s == "on"
}

func envDuration(key string, dst *time.Duration) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s=%q: %w", key, v, ErrInvalidConfiguration)
	}
	*dst = d
	return nil
}

func envInt(key string, dst *int) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s=%q: %w", key, v, ErrInvalidConfiguration)
	}
	*dst = n
	return nil
}

// Functional Options

// WithName sets the platform name used in logs and traces.
func WithName(name string) Option {
	return func(c *Config) error {
		c.Name = name
		return nil
	}
}

// WithPort sets the HTTP server port.
// Returns an error if the port is outside 1..65535.
func WithPort(port int) Option {
	return func(c *Config) error {
		if port < 1 || port > 65535 {
			return &FrameworkError{
				Op:      "WithPort",
				Kind:    "config",
				Message: fmt.Sprintf("invalid port: %d", port),
				Err:     ErrInvalidConfiguration,
			}
		}
		c.Port = port
		return nil
	}
}

// WithAddress sets the bind address.
func WithAddress(address string) Option {
	return func(c *Config) error {
		c.Address = address
		return nil
	}
}

// WithNamespace sets the key namespace used by Redis-backed stores.
func WithNamespace(namespace string) Option {
	return func(c *Config) error {
		c.Namespace = namespace
		return nil
	}
}

// WithCORS enables CORS for the given origins.
func WithCORS(origins []string, credentials bool) Option {
	return func(c *Config) error {
		c.HTTP.CORS.Enabled = true
		c.HTTP.CORS.AllowedOrigins = origins
		c.HTTP.CORS.AllowCredentials = credentials
		return nil
	}
}

// WithCommandTimeout sets the bound on how long a command may wait for completion.
func WithCommandTimeout(timeout time.Duration) Option {
	return func(c *Config) error {
		if timeout <= 0 {
			return &FrameworkError{
				Op:      "WithCommandTimeout",
				Kind:    "config",
				Message: fmt.Sprintf("invalid command timeout: %s", timeout),
				Err:     ErrInvalidConfiguration,
			}
		}
		c.Bridge.CommandTimeout = timeout
		return nil
	}
}

// WithWorkers sets the size of the execution pool.
func WithWorkers(workers int) Option {
	return func(c *Config) error {
		if workers < 1 {
			return &FrameworkError{
				Op:      "WithWorkers",
				Kind:    "config",
				Message: fmt.Sprintf("invalid pool size: %d", workers),
				Err:     ErrInvalidConfiguration,
			}
		}
		c.Pool.Workers = workers
		return nil
	}
}

// WithRedisURL points both the log sink and the directory at Redis.
func WithRedisURL(url string) Option {
	return func(c *Config) error {
		c.LogSink.Provider = ProviderRedis
		c.LogSink.RedisURL = url
		c.Directory.Provider = ProviderRedis
		c.Directory.RedisURL = url
		return nil
	}
}

// WithTelemetry enables tracing and metrics export.
func WithTelemetry(enabled bool, exporter, endpoint string) Option {
	return func(c *Config) error {
		c.Telemetry.Enabled = enabled
		c.Telemetry.Exporter = exporter
		c.Telemetry.Endpoint = endpoint
		return nil
	}
}

// WithLogLevel sets the logging level (debug, info, warn, error).
func WithLogLevel(level string) Option {
	return func(c *Config) error {
		c.Logging.Level = level
		return nil
	}
}

// WithLogFormat sets the logging format (json or console).
func WithLogFormat(format string) Option {
	return func(c *Config) error {
		c.Logging.Format = format
		return nil
	}
}

// WithConfigFile loads a JSON or YAML file into the configuration.
func WithConfigFile(path string) Option {
	return func(c *Config) error {
		return c.LoadFromFile(path)
	}
}

// WithDevelopmentMode enables request logging and console output.
func WithDevelopmentMode(enabled bool) Option {
	return func(c *Config) error {
		c.Development.Enabled = enabled
		if enabled {
			c.Logging.Format = "console"
		}
		return nil
	}
}

// NewConfig creates a configuration from defaults, the environment and the given options,
// and validates the result.
func NewConfig(opts ...Option) (*Config, error) {
	cfg := DefaultConfig()

	if err := cfg.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load env config: %w", err)
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}
