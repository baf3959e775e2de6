package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable, e.g. ANALYSIS_SERVER_PORT.
const EnvPrefix = "ANALYSIS"

// requiredKeys have no default but must still be visible to Unmarshal when
// only set through the environment.
var requiredKeys = []string{
	"database.url",
	"auth.jwt_secret",
	"ai.api_key",
	"redis.password",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.shutdown_timeout_seconds", 15)
	v.SetDefault("server.log_file", "")
	v.SetDefault("server.log_max_size_mb", 100)
	v.SetDefault("server.log_max_backups", 5)
	v.SetDefault("server.log_max_age_days", 28)

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)

	v.SetDefault("auth.admin_role", "admin")

	v.SetDefault("ai.provider", "proxypal")
	v.SetDefault("ai.proxypal_url", "http://localhost:8317")
	v.SetDefault("ai.model", "gemini-3-pro-preview")
	v.SetDefault("ai.temperature", 0.3)
	v.SetDefault("ai.max_output_tokens", 4096)
	v.SetDefault("ai.request_timeout_seconds", 120)
	v.SetDefault("ai.health_timeout_seconds", 5)
	v.SetDefault("ai.health_cache_seconds", 30)
	v.SetDefault("ai.capabilities", map[string]string{"gemini_3_pro": "gemini-3-pro"})

	v.SetDefault("queue.worker_count", 3)
	v.SetDefault("queue.batch_size", 5)
	v.SetDefault("queue.poll_interval_seconds", 30)
	v.SetDefault("queue.stale_after_seconds", 900)
	v.SetDefault("queue.stale_check_interval_seconds", 60)
	v.SetDefault("queue.backoff_base_seconds", 30)
	v.SetDefault("queue.backoff_max_seconds", 1800)
	v.SetDefault("queue.default_priority", 0)
	v.SetDefault("queue.auto_start", true)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.channel", "analysis:tasks")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "lesson-analysis")
	v.SetDefault("tracing.sample_ratio", 1.0)
}

// Load reads configuration from defaults, an optional config.yaml in the
// working directory and environment variables, in increasing precedence.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range requiredKeys {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("failed to bind environment variable for %s: %w", key, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cfg against its struct tags and the cross-section rules.
func Validate(cfg *Config) error {
	v := validator.New()
	v.RegisterStructValidation(validateQueueTiming, Config{})
	if err := v.Struct(cfg); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	return nil
}

// validateQueueTiming requires the stale window to outlast a provider call.
// A shorter window requeues tasks whose worker is still waiting on the
// provider.
func validateQueueTiming(sl validator.StructLevel) {
	cfg, ok := sl.Current().Interface().(Config)
	if !ok {
		return
	}
	if cfg.Queue.StaleAfterSeconds <= cfg.AI.RequestTimeoutSeconds {
		sl.ReportError(cfg.Queue.StaleAfterSeconds, "Queue.StaleAfterSeconds", "StaleAfterSeconds",
			"gtcsfield", "AI.RequestTimeoutSeconds")
	}
}
