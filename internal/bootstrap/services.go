package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/yashshrestha-maitri/triton-agentic-poc-sub003/config"
	"github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/adapters/fixtureagent"
	"github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/adapters/gemini"
	"github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/adapters/queryengine"
	"github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/adapters/queue"
	"github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/core"
	"github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/data"
	"github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/data/memstore"
	"github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/domain/job"
	"github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/domain/model"
	"github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/domain/pipeline"
	"github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/observability/notify/slack"
	"github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/observability/statsd"
	"github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/schema"
	"github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/service"
	"github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/service/failurenotifier"
)

// ServiceContainer holds all application services.
type ServiceContainer struct {
	Jobs      *service.JobService
	Artifacts *service.ArtifactService
	Snapshots *service.SnapshotService
	// Orchestrator is nil unless the container was built with workers.
	Orchestrator  *service.Orchestrator
	Queues        core.QueueSet
	Reaper        core.ReaperRepository
	Observability ObservabilityContainer

	notifier *job.DefaultNotifier
	closers  []func() error
}

// ObservabilityContainer groups shared observability dependencies.
type ObservabilityContainer struct {
	// MetricsSink is nil when metrics are disabled.
	MetricsSink     statsd.Sink
	MetricsConfig   config.ObservabilityMetricsConfig
	FailureNotifier *failurenotifier.Service
}

// ServiceDeps groups dependencies for service initialization.
type ServiceDeps struct {
	Config *config.AppConfig
	Infra  *Infrastructure
	Logger *slog.Logger
	// Workers builds the agent, pipeline and orchestrator. Submit-only callers leave it false.
	Workers bool
}

// serviceRepositories groups storage adapters backing service ports; no business rules here.
type serviceRepositories struct {
	Jobs      core.JobRepository
	Artifacts core.ArtifactRepository
	Reaper    core.ReaperRepository
	Cache     core.CacheRepository
}

// Close stops queue listeners and releases agent and metrics clients.
func (c *ServiceContainer) Close() error {
	if c == nil {
		return nil
	}
	if c.notifier != nil {
		c.notifier.StopAll()
	}
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}

// buildObservability configures metrics and notification adapters.
func buildObservability(logger *slog.Logger, cfg config.ObservabilityConfig) (ObservabilityContainer, func() error) {
	out := ObservabilityContainer{
		MetricsConfig:   cfg.Metrics,
		FailureNotifier: buildFailureNotifier(logger, cfg.Notifications),
	}
	closer := func() error { return nil }

	if cfg.Metrics.IsEnabled() {
		client, err := statsd.NewClient(statsd.Config{
			Enabled:    true,
			Address:    cfg.Metrics.StatsdAddress,
			Prefix:     cfg.Metrics.Prefix,
			GlobalTags: cfg.Metrics.Tags,
			Logger:     logger,
		})
		if err != nil {
			logger.Error("failed to initialise statsd client", "error", err)
		} else {
			out.MetricsSink = client
			closer = client.Close
		}
	}
	return out, closer
}

func buildFailureNotifier(logger *slog.Logger, cfg config.ObservabilityNotificationsConfig) *failurenotifier.Service {
	if !cfg.Enabled || !cfg.Slack.Enabled {
		return failurenotifier.NewService(failurenotifier.Options{Logger: logger})
	}

	var sinks []failurenotifier.SinkRegistration
	client, err := slack.NewClient(slack.Config{
		WebhookURL:   cfg.Slack.WebhookURL,
		Channel:      cfg.Slack.Channel,
		Username:     cfg.Slack.Username,
		Timeout:      cfg.Timeout,
		RetryLimit:   cfg.RetryLimit,
		JobURLPrefix: cfg.Slack.JobURLPrefix,
	})
	if err != nil {
		logger.Error("failed to initialise slack notifier", "error", err)
	} else {
		sinks = append(sinks, failurenotifier.SinkRegistration{Name: "slack", Sink: client})
	}

	return failurenotifier.NewService(failurenotifier.Options{
		Logger: logger,
		Sinks:  sinks,
	})
}

func buildRepositories(cfg *config.AppConfig, infra *Infrastructure, logger *slog.Logger) (*serviceRepositories, error) {
	clock := &data.RealTimeProvider{}
	repos := &serviceRepositories{}

	switch cfg.StorageBackend {
	case config.StorageBackendPostgres:
		if infra.DB == nil {
			return nil, errors.New("postgres storage selected but no database connection")
		}
		repoCfg := data.RepoConfig{Logger: logger, TimeProvider: clock}
		jobs := data.NewJobRepo(infra.DB, repoCfg)
		repos.Jobs = jobs
		repos.Reaper = jobs
		repos.Artifacts = data.NewArtifactRepo(infra.DB, repoCfg)
	case config.StorageBackendMemory:
		jobs := memstore.NewJobRepo(clock)
		repos.Jobs = jobs
		repos.Reaper = jobs
		repos.Artifacts = memstore.NewArtifactRepo(clock)
	default:
		return nil, fmt.Errorf("unsupported storage backend %q", cfg.StorageBackend)
	}

	switch cfg.CacheBackend {
	case config.CacheBackendRedis:
		if infra.Redis == nil {
			return nil, errors.New("redis cache selected but no redis connection")
		}
		repos.Cache = data.NewRedisCacheRepo(infra.Redis)
	case config.CacheBackendMemory:
		repos.Cache = memstore.NewCache(clock)
	default:
		return nil, fmt.Errorf("unsupported cache backend %q", cfg.CacheBackend)
	}
	return repos, nil
}

// buildQueues creates one queue per topic on the selected backend. The returned notifier
// is non-nil for Postgres queues and must be stopped on shutdown.
func buildQueues(cfg *config.AppConfig, infra *Infrastructure, logger *slog.Logger) (core.QueueSet, *job.DefaultNotifier, error) {
	topics := []model.QueueTopic{model.TopicPipeline, model.TopicAnalytics}
	queues := make([]core.TaskQueue, 0, len(topics))

	var notifier *job.DefaultNotifier
	if cfg.QueueBackend == config.QueueBackendPostgres {
		if infra.DB == nil {
			return nil, nil, errors.New("postgres queue selected but no database connection")
		}
		n, err := job.NewNotifier(job.NotifierOptions{Waiter: queue.PGWaiter{DB: infra.DB}})
		if err != nil {
			return nil, nil, fmt.Errorf("create queue notifier: %w", err)
		}
		notifier = n
	}

	for _, topic := range topics {
		var q core.TaskQueue
		switch cfg.QueueBackend {
		case config.QueueBackendMemory:
			q = queue.NewMemoryQueue(topic)
		case config.QueueBackendPostgres:
			pq, err := queue.NewPostgresQueue(queue.PostgresQueueOptions{
				DB:       infra.DB,
				Topic:    topic,
				Lease:    cfg.Worker.JobLease,
				Notifier: notifier,
				Logger:   logger,
			})
			if err != nil {
				return nil, nil, err
			}
			q = pq
		case config.QueueBackendRedis:
			if infra.Redis == nil {
				return nil, nil, errors.New("redis queue selected but no redis connection")
			}
			rq, err := queue.NewRedisQueue(queue.RedisQueueOptions{
				Client:       infra.Redis,
				Topic:        topic,
				Prefix:       cfg.Redis.QueuePrefix,
				BlockTimeout: cfg.Redis.QueueBlockTimeout,
				Logger:       logger,
			})
			if err != nil {
				return nil, nil, err
			}
			q = rq
		default:
			return nil, nil, fmt.Errorf("unsupported queue backend %q", cfg.QueueBackend)
		}
		queues = append(queues, q)
	}
	return core.NewQueueSet(queues...), notifier, nil
}

// buildAgent selects the agent provider. The closer is never nil.
//
//nolint:ireturn // the provider is chosen at runtime.
func buildAgent(ctx context.Context, cfg config.AgentConfig, logger *slog.Logger) (core.AgentInvoker, func() error, error) {
	noop := func() error { return nil }
	switch cfg.Provider {
	case config.AgentProviderFixture:
		agent, err := fixtureagent.LoadDir(cfg.FixtureDir)
		if err != nil {
			return nil, noop, err
		}
		logger.InfoContext(ctx, "using fixture agent", "dir", cfg.FixtureDir)
		return agent, noop, nil
	case config.AgentProviderGemini:
		inv, err := gemini.New(ctx, gemini.Options{
			APIKey:          cfg.APIKey,
			CredentialsFile: cfg.CredentialsFile,
			Models: map[model.ModelTier]string{
				model.TierLite:     cfg.ModelLite,
				model.TierStandard: cfg.ModelStandard,
				model.TierAdvanced: cfg.ModelAdvanced,
			},
			Temperature: cfg.Temperature,
			Logger:      logger,
		})
		if err != nil {
			return nil, noop, fmt.Errorf("create gemini agent: %w", err)
		}
		return inv, inv.Close, nil
	default:
		return nil, noop, fmt.Errorf("unsupported agent provider %q", cfg.Provider)
	}
}

// buildQueryEngine picks the analytics engine matching the storage backend.
//
//nolint:ireturn // the engine is chosen at runtime.
func buildQueryEngine(cfg *config.AppConfig, infra *Infrastructure, logger *slog.Logger) (core.QueryEngine, error) {
	if cfg.StorageBackend == config.StorageBackendPostgres {
		return queryengine.NewPostgres(infra.DB, logger), nil
	}
	if cfg.Fanout.MemorySeedFile != "" {
		return queryengine.LoadMemory(cfg.Fanout.MemorySeedFile)
	}
	return queryengine.NewMemory(), nil
}

func loadDefinition(path string) (*pipeline.Definition, error) {
	if path == "" {
		return pipeline.Default()
	}
	return pipeline.Load(path)
}

// NewServices wires repositories, queues and business services for cfg.
func NewServices(ctx context.Context, deps *ServiceDeps) (*ServiceContainer, error) {
	if deps == nil || deps.Config == nil {
		return nil, errors.New("service config is required")
	}
	cfg := deps.Config
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	infra := deps.Infra
	if infra == nil {
		infra = &Infrastructure{}
	}

	c := &ServiceContainer{}
	obs, obsClose := buildObservability(logger, cfg.Observability)
	c.Observability = obs
	c.closers = append(c.closers, obsClose)

	fail := func(err error) (*ServiceContainer, error) {
		return nil, errors.Join(err, c.Close())
	}

	repos, err := buildRepositories(cfg, infra, logger)
	if err != nil {
		return fail(err)
	}
	c.Reaper = repos.Reaper

	queues, notifier, err := buildQueues(cfg, infra, logger)
	if err != nil {
		return fail(err)
	}
	c.Queues = queues
	c.notifier = notifier

	validator, err := schema.New()
	if err != nil {
		return fail(fmt.Errorf("load schemas: %w", err))
	}

	c.Jobs, err = service.NewJobService(service.JobServiceOptions{
		Repo:            repos.Jobs,
		Queues:          queues,
		Cancels:         service.NewCancelRegistry(),
		Logger:          logger,
		FailureNotifier: obs.FailureNotifier,
	})
	if err != nil {
		return fail(err)
	}
	c.Artifacts, err = service.NewArtifactService(service.ArtifactServiceOptions{
		Repo:            repos.Artifacts,
		Validator:       validator,
		RefinementLimit: cfg.Artifact.RefinementLimit,
		Logger:          logger,
	})
	if err != nil {
		return fail(err)
	}
	c.Snapshots, err = service.NewSnapshotService(service.SnapshotServiceOptions{
		Cache:     repos.Cache,
		KeyPrefix: cfg.Cache.KeyPrefix,
		TTL:       cfg.Cache.SnapshotTTL,
		Logger:    logger,
	})
	if err != nil {
		return fail(err)
	}

	if !deps.Workers {
		return c, nil
	}

	if err := c.buildOrchestrator(ctx, cfg, infra, validator, logger); err != nil {
		return fail(err)
	}
	return c, nil
}

func (c *ServiceContainer) buildOrchestrator(
	ctx context.Context,
	cfg *config.AppConfig,
	infra *Infrastructure,
	validator core.SchemaValidator,
	logger *slog.Logger,
) error {
	definition, err := loadDefinition(cfg.Pipeline.DefinitionFile)
	if err != nil {
		return fmt.Errorf("load pipeline definition: %w", err)
	}

	agent, agentClose, err := buildAgent(ctx, cfg.Agent, logger)
	c.closers = append(c.closers, agentClose)
	if err != nil {
		return err
	}

	retry, err := service.NewRetryController(service.RetryControllerOptions{
		Agent:        agent,
		Validator:    validator,
		AgentTimeout: cfg.Pipeline.AgentTimeout,
		Logger:       logger,
		Metrics:      c.Observability.MetricsSink,
	})
	if err != nil {
		return err
	}
	executor, err := service.NewPipelineExecutor(service.PipelineExecutorOptions{
		Retry:       retry,
		MaxAttempts: cfg.Pipeline.MaxAttempts,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	engine, err := buildQueryEngine(cfg, infra, logger)
	if err != nil {
		return err
	}
	fanout, err := service.NewFanoutExecutor(service.FanoutExecutorOptions{
		Engine: engine,
		Defaults: service.FanoutOptions{
			Concurrency: cfg.Fanout.Concurrency,
			Threshold:   cfg.Fanout.Threshold,
			TaskTimeout: cfg.Fanout.TaskTimeout,
			GracePeriod: cfg.Fanout.GracePeriod,
		},
		Logger:  logger,
		Metrics: c.Observability.MetricsSink,
	})
	if err != nil {
		return err
	}

	c.Orchestrator, err = service.NewOrchestrator(service.OrchestratorOptions{
		Jobs:       c.Jobs,
		Artifacts:  c.Artifacts,
		Pipeline:   executor,
		Definition: definition,
		Fanout:     fanout,
		Snapshots:  c.Snapshots,
		Logger:     logger,
	})
	return err
}
