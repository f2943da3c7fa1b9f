// Package config loads the triton service configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strings"
)

// AppConfig is the main application configuration struct that composes
// domain-specific configuration from separate files.
//
// Configuration is loaded from environment variables using the
// github.com/caarlos0/env library. See the individual files:
//   - database.go: storage, queue and cache backends
//   - http.go: HTTP server configuration
//   - pipeline.go: retry, refinement and fan-out policy, agent provider
//   - services.go: service modes, workers and the reaper
type AppConfig struct {
	// IsDev controls development mode behavior (text logs, debug level).
	IsDev bool `env:"DEV" envDefault:"false"`

	// Services is a comma-separated list of runtime roles (http, worker, reaper).
	Services string `env:"SERVICES" envDefault:"http,worker"`

	// Backends select the storage, queue and cache implementations.
	StorageBackend StorageBackend `env:"STORAGE_BACKEND" envDefault:"postgres"`
	QueueBackend   QueueBackend   `env:"QUEUE_BACKEND"   envDefault:"postgres"`
	CacheBackend   CacheBackend   `env:"CACHE_BACKEND"   envDefault:"redis"`

	// SecretKey opens config values sealed with `triton-admin seal-secret`.
	SecretKey string `env:"TRITON_SECRET_KEY"`

	Postgres DBConfig    `envPrefix:"DB_"`
	Redis    RedisConfig `envPrefix:"REDIS_"`
	Cache    CacheConfig `envPrefix:"CACHE_"`

	HTTP HTTPConfig

	Pipeline PipelineConfig
	Artifact ArtifactConfig
	Fanout   FanoutConfig
	Agent    AgentConfig `envPrefix:"AGENT_"`

	Worker WorkerConfig
	Reaper ReaperConfig

	Observability ObservabilityConfig
}

// Sanitize applies guardrails to configuration values loaded from env.
// This should be called after loading configuration from environment variables.
func (c *AppConfig) Sanitize() {
	c.HTTP.Sanitize()
	c.Redis.Sanitize()
	c.Cache.Sanitize()
	c.Pipeline.Sanitize()
	c.Artifact.Sanitize()
	c.Fanout.Sanitize()
	c.Agent.Sanitize()
	c.Worker.Sanitize()
	c.Reaper.Sanitize()
	c.Observability.Sanitize()

	c.detectDevMode()
}

// Validate reports combinations that cannot run.
func (c *AppConfig) Validate() error {
	if _, err := c.GetEnabledServices(); err != nil {
		return err
	}
	if !c.StorageBackend.Valid() {
		return fmt.Errorf("invalid STORAGE_BACKEND %q", c.StorageBackend)
	}
	if !c.QueueBackend.Valid() {
		return fmt.Errorf("invalid QUEUE_BACKEND %q", c.QueueBackend)
	}
	if !c.CacheBackend.Valid() {
		return fmt.Errorf("invalid CACHE_BACKEND %q", c.CacheBackend)
	}
	if c.QueueBackend == QueueBackendPostgres && c.StorageBackend != StorageBackendPostgres {
		return fmt.Errorf("QUEUE_BACKEND=postgres requires STORAGE_BACKEND=postgres")
	}
	if !c.Agent.Provider.Valid() {
		return fmt.Errorf("invalid AGENT_PROVIDER %q", c.Agent.Provider)
	}
	return nil
}

// detectDevMode checks both DEV and NODE_ENV environment variables.
func (c *AppConfig) detectDevMode() {
	if !c.IsDev {
		nodeEnv := strings.ToLower(os.Getenv("NODE_ENV"))
		c.IsDev = nodeEnv == "development" || nodeEnv == "dev"
	}
}

// GetEnabledServices returns the enabled services based on the Services field.
func (c *AppConfig) GetEnabledServices() (map[ServiceMode]bool, error) {
	return ParseServices(c.Services)
}

func (c *AppConfig) serviceEnabled(mode ServiceMode) bool {
	services, err := c.GetEnabledServices()
	if err != nil {
		return false
	}
	return services[mode]
}

// IsHTTPServerEnabled returns true if the HTTP server service is enabled.
func (c *AppConfig) IsHTTPServerEnabled() bool { return c.serviceEnabled(ServiceModeHTTP) }

// IsWorkerEnabled returns true if queue workers run in this process.
func (c *AppConfig) IsWorkerEnabled() bool { return c.serviceEnabled(ServiceModeWorker) }

// IsReaperEnabled returns true if the reaper service is enabled.
func (c *AppConfig) IsReaperEnabled() bool { return c.serviceEnabled(ServiceModeReaper) }
