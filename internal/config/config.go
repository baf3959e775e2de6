package config

import "time"

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server" validate:"required"`
	Database DatabaseConfig `mapstructure:"database" validate:"required"`
	Auth     AuthConfig     `mapstructure:"auth" validate:"required"`
	AI       AIConfig       `mapstructure:"ai" validate:"required"`
	Queue    QueueConfig    `mapstructure:"queue" validate:"required"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Tracing  TracingConfig  `mapstructure:"tracing"`
}

// ServerConfig contains HTTP server and logging settings.
type ServerConfig struct {
	Port                   int    `mapstructure:"port" validate:"required,gt=0,lt=65536"`
	LogLevel               string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
	ShutdownTimeoutSeconds int    `mapstructure:"shutdown_timeout_seconds" validate:"gt=0"`

	// LogFile enables rotating file output in addition to stdout.
	LogFile       string `mapstructure:"log_file"`
	LogMaxSizeMB  int    `mapstructure:"log_max_size_mb" validate:"gte=0"`
	LogMaxBackups int    `mapstructure:"log_max_backups" validate:"gte=0"`
	LogMaxAgeDays int    `mapstructure:"log_max_age_days" validate:"gte=0"`
}

// DatabaseConfig selects and configures the task and record backend.
type DatabaseConfig struct {
	Driver       string `mapstructure:"driver" validate:"required,oneof=postgres memory"`
	URL          string `mapstructure:"url" validate:"required_if=Driver postgres"`
	MaxOpenConns int    `mapstructure:"max_open_conns" validate:"gte=0"`
	MaxIdleConns int    `mapstructure:"max_idle_conns" validate:"gte=0"`
}

// AuthConfig contains the bearer token verification settings.
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret" validate:"required,min=32"`
	AdminRole string `mapstructure:"admin_role" validate:"required"`
}

// AIConfig configures the external inference provider.
type AIConfig struct {
	Provider              string  `mapstructure:"provider" validate:"required,oneof=proxypal gemini"`
	ProxyPalURL           string  `mapstructure:"proxypal_url" validate:"required_if=Provider proxypal"`
	APIKey                string  `mapstructure:"api_key" validate:"required_if=Provider gemini"`
	Model                 string  `mapstructure:"model" validate:"required"`
	Temperature           float32 `mapstructure:"temperature" validate:"gte=0,lte=2"`
	MaxOutputTokens       int     `mapstructure:"max_output_tokens" validate:"gt=0"`
	RequestTimeoutSeconds int     `mapstructure:"request_timeout_seconds" validate:"gt=0"`
	HealthTimeoutSeconds  int     `mapstructure:"health_timeout_seconds" validate:"gt=0"`
	HealthCacheSeconds    int     `mapstructure:"health_cache_seconds" validate:"gte=0"`

	// Capabilities maps a flag name to the model id prefix that enables it.
	Capabilities map[string]string `mapstructure:"capabilities"`
}

// RequestTimeout returns the hard deadline for one inference call.
func (c AIConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

// HealthTimeout returns the deadline for a provider health probe.
func (c AIConfig) HealthTimeout() time.Duration {
	return time.Duration(c.HealthTimeoutSeconds) * time.Second
}

// HealthCacheTTL returns how long a health probe result is reused.
func (c AIConfig) HealthCacheTTL() time.Duration {
	return time.Duration(c.HealthCacheSeconds) * time.Second
}

// QueueConfig tunes the scheduler and retry policy.
type QueueConfig struct {
	WorkerCount               int  `mapstructure:"worker_count" validate:"gt=0"`
	BatchSize                 int  `mapstructure:"batch_size" validate:"gt=0"`
	PollIntervalSeconds       int  `mapstructure:"poll_interval_seconds" validate:"gt=0"`
	StaleAfterSeconds         int  `mapstructure:"stale_after_seconds" validate:"gt=0"`
	StaleCheckIntervalSeconds int  `mapstructure:"stale_check_interval_seconds" validate:"gt=0"`
	BackoffBaseSeconds        int  `mapstructure:"backoff_base_seconds" validate:"gt=0"`
	BackoffMaxSeconds         int  `mapstructure:"backoff_max_seconds" validate:"gtefield=BackoffBaseSeconds"`
	DefaultPriority           int  `mapstructure:"default_priority"`
	AutoStart                 bool `mapstructure:"auto_start"`
}

// PollInterval returns the dispatch tick.
func (c QueueConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// StaleAfter returns how long a task may stay processing before it is reclaimed.
func (c QueueConfig) StaleAfter() time.Duration {
	return time.Duration(c.StaleAfterSeconds) * time.Second
}

// StaleCheckInterval returns how often stale processing tasks are looked for.
func (c QueueConfig) StaleCheckInterval() time.Duration {
	return time.Duration(c.StaleCheckIntervalSeconds) * time.Second
}

// BackoffBase returns the first retry delay before jitter.
func (c QueueConfig) BackoffBase() time.Duration {
	return time.Duration(c.BackoffBaseSeconds) * time.Second
}

// BackoffMax returns the retry delay ceiling.
func (c QueueConfig) BackoffMax() time.Duration {
	return time.Duration(c.BackoffMaxSeconds) * time.Second
}

// RedisConfig configures the optional task event channel.
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr" validate:"required_if=Enabled true"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db" validate:"gte=0"`
	Channel  string `mapstructure:"channel" validate:"required_if=Enabled true"`
}

// TracingConfig configures OpenTelemetry span export.
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	ServiceName string  `mapstructure:"service_name" validate:"required_if=Enabled true"`
	SampleRatio float64 `mapstructure:"sample_ratio" validate:"gte=0,lte=1"`
}
