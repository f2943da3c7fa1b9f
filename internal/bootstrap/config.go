package bootstrap

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/yashshrestha-maitri/triton-agentic-poc-sub003/config"
	"github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/data/cryptoutil"
)

// InitLogger initializes the structured logger. Development mode logs text at debug level.
func InitLogger(isDev bool) *slog.Logger {
	var handler slog.Handler
	if isDev {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug})
	} else {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// LoadConfig loads configuration from environment variables, opening sealed secrets.
func LoadConfig() (config.AppConfig, error) {
	// Load .env file if it exists (development)
	if err := godotenv.Load(); err != nil {
		var pathErr *os.PathError
		if !errors.As(err, &pathErr) {
			return config.AppConfig{}, fmt.Errorf("load .env file: %w", err)
		}
	}

	var cfg config.AppConfig
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}

	cfg.Sanitize()
	if err := ResolveSecrets(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// ResolveSecrets replaces sealed credential values with their plaintext.
// Plain values pass through, so a key is only needed when something is sealed.
func ResolveSecrets(cfg *config.AppConfig) error {
	if cfg == nil {
		return errors.New("config is required")
	}
	var box *cryptoutil.Box
	if cfg.SecretKey != "" {
		b, err := cryptoutil.NewBoxFromString(cfg.SecretKey)
		if err != nil {
			return fmt.Errorf("secret key: %w", err)
		}
		box = b
	}

	fields := []struct {
		name string
		ptr  *string
	}{
		{"DB_PASSWORD", &cfg.Postgres.Password},
		{"REDIS_PASSWORD", &cfg.Redis.Password},
		{"REDIS_SENTINEL_PASSWORD", &cfg.Redis.SentinelPassword},
		{"AGENT_API_KEY", &cfg.Agent.APIKey},
		{"OBSERVABILITY_NOTIFICATIONS_SLACK_WEBHOOK_URL", &cfg.Observability.Notifications.Slack.WebhookURL},
	}
	for _, f := range fields {
		v, err := cryptoutil.Resolve(box, *f.ptr)
		if err != nil {
			return fmt.Errorf("resolve %s: %w", f.name, err)
		}
		*f.ptr = v
	}
	return nil
}

// ValidateServiceConfig validates that at least one service is enabled and the backends can run together.
func ValidateServiceConfig(cfg *config.AppConfig) error {
	if cfg == nil {
		return errors.New("service config is required")
	}
	services, err := cfg.GetEnabledServices()
	if err != nil {
		return fmt.Errorf("invalid service configuration: %w", err)
	}
	if len(services) == 0 {
		return errors.New("no services enabled")
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// GetEnabledServices returns the enabled service names, sorted.
func GetEnabledServices(cfg *config.AppConfig) []string {
	if cfg == nil {
		return []string{}
	}
	services, err := cfg.GetEnabledServices()
	if err != nil {
		// Return empty list on error - validation will catch this
		return []string{}
	}

	enabled := make([]string, 0, len(services))
	for svc := range services {
		enabled = append(enabled, string(svc))
	}
	sort.Strings(enabled)
	return enabled
}
