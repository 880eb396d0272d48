// Package app assembles the resolution engine from configuration. It is
// shared by the HTTP server and the operator CLI.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/Michael4343/synapse-v0.1-sub001/internal/cache"
	"github.com/Michael4343/synapse-v0.1-sub001/internal/coalesce"
	"github.com/Michael4343/synapse-v0.1-sub001/internal/config"
	"github.com/Michael4343/synapse-v0.1-sub001/internal/database"
	"github.com/Michael4343/synapse-v0.1-sub001/internal/events"
	"github.com/Michael4343/synapse-v0.1-sub001/internal/extraction"
	"github.com/Michael4343/synapse-v0.1-sub001/internal/governor"
	"github.com/Michael4343/synapse-v0.1-sub001/internal/hydration"
	"github.com/Michael4343/synapse-v0.1-sub001/internal/llm"
	"github.com/Michael4343/synapse-v0.1-sub001/internal/observability"
	"github.com/Michael4343/synapse-v0.1-sub001/internal/papersources"
	"github.com/Michael4343/synapse-v0.1-sub001/internal/papersources/crossref"
	"github.com/Michael4343/synapse-v0.1-sub001/internal/papersources/pubmed"
	"github.com/Michael4343/synapse-v0.1-sub001/internal/papersources/semanticscholar"
	"github.com/Michael4343/synapse-v0.1-sub001/internal/resolver"
)

// Options adjust how the engine is assembled.
type Options struct {
	// NoDB skips the database: no cache, no persistence.
	NoDB bool
	// EventSource stamps published events. Empty uses the service name.
	EventSource string
}

// App is an assembled engine and the resources it owns.
type App struct {
	Resolver *resolver.Service
	Registry *papersources.Registry
	// DB is nil when Options.NoDB is set.
	DB *database.DB

	logger  zerolog.Logger
	closers []func() error
}

// New builds the engine. On failure everything opened so far is released.
func New(ctx context.Context, cfg *config.Config, logger zerolog.Logger, metrics *observability.Metrics, opts Options) (*App, error) {
	a := &App{
		Registry: papersources.NewRegistry(),
		logger:   logger.With().Str("component", "app").Logger(),
	}
	if err := a.assemble(ctx, cfg, logger, metrics, opts); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) assemble(ctx context.Context, cfg *config.Config, logger zerolog.Logger, metrics *observability.Metrics, opts Options) error {
	store, err := a.governorStore(ctx, cfg.Redis)
	if err != nil {
		return err
	}

	group := coalesce.NewGroup("provider", cfg.Cache.FetchTimeout, metrics)
	sources := cfg.PaperSources

	s2HTTP := a.providerClient(semanticscholar.SourceName, semanticscholar.APIKeyHeader, sources.SemanticScholar, store, group, logger, metrics)
	primary := semanticscholar.NewClient(semanticscholar.Config{
		BaseURL:      sources.SemanticScholar.BaseURL,
		DefaultLimit: cfg.Cache.SearchLimit,
	}, s2HTTP, logger)

	hydrationDeps := hydration.Deps{Logger: logger, Metrics: metrics}
	if sources.Crossref.Enabled {
		hc := a.providerClient(crossref.SourceName, "", sources.Crossref, store, group, logger, metrics)
		hydrationDeps.DOISource = crossref.NewClient(crossref.Config{
			BaseURL: sources.Crossref.BaseURL,
			Mailto:  sources.Crossref.Mailto,
		}, hc)
	}
	if sources.PubMed.Enabled {
		hc := a.providerClient(pubmed.SourceName, "", sources.PubMed, store, group, logger, metrics)
		hydrationDeps.PMIDSource = pubmed.NewClient(pubmed.Config{
			BaseURL: sources.PubMed.BaseURL,
			Email:   sources.PubMed.Mailto,
		}, hc)
	}
	cascade := hydration.New(hydrationDeps)

	var generator llm.Generator
	if cfg.LLM.Enabled {
		generator, err = llm.NewGenerator(llm.FactoryConfig{
			Provider:    cfg.LLM.Provider,
			Temperature: cfg.LLM.Temperature,
			Timeout:     cfg.LLM.Timeout,
			MaxRetries:  cfg.LLM.MaxRetries,
			OpenAI: llm.OpenAIConfig{
				APIKey:  cfg.LLM.OpenAI.APIKey,
				Model:   cfg.LLM.OpenAI.Model,
				BaseURL: cfg.LLM.OpenAI.BaseURL,
			},
			Anthropic: llm.AnthropicConfig{
				APIKey:  cfg.LLM.Anthropic.APIKey,
				Model:   cfg.LLM.Anthropic.Model,
				BaseURL: cfg.LLM.Anthropic.BaseURL,
			},
		})
		if err != nil {
			return fmt.Errorf("create llm generator: %w", err)
		}
	}

	extractor := extraction.New(extraction.Config{
		DefaultMaxResults:  cfg.Extraction.DefaultMaxResults,
		MaxResultsCeiling:  cfg.Extraction.MaxResultsCeiling,
		TitleFallbackLimit: cfg.Extraction.TitleFallbackLimit,
	}, extraction.Deps{
		Primary:   primary,
		Cascade:   cascade,
		Generator: generator,
		Logger:    logger,
		Metrics:   metrics,
	})

	deps := resolver.Deps{
		Searcher:  primary,
		Hydrator:  cascade,
		Extractor: extractor,
		Group:     coalesce.NewGroup("resolver", cfg.Cache.FetchTimeout, metrics),
		Emitter:   events.NewEmitter(opts.EventSource),
		Registry:  a.Registry,
		Logger:    logger,
		Metrics:   metrics,
	}

	if !opts.NoDB {
		if err := a.openDatabase(ctx, cfg.Database); err != nil {
			return err
		}
		deps.Cache = cache.New(a.DB, cache.Config{TTL: cfg.Cache.TTL}, logger, metrics)
	}

	publisher, err := a.publisher(cfg.Kafka, logger)
	if err != nil {
		return err
	}
	deps.Publisher = publisher

	a.Resolver = resolver.New(resolver.Config{SearchLimit: cfg.Cache.SearchLimit}, deps)

	a.logger.Info().
		Strs("providers", a.Registry.Names()).
		Bool("persistence", !opts.NoDB).
		Bool("shared_governor", cfg.Redis.Enabled).
		Bool("events", cfg.Kafka.Enabled).
		Bool("discovery", generator != nil).
		Msg("resolution engine assembled")

	return nil
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *App) governorStore(ctx context.Context, cfg config.RedisConfig) (governor.Store, error) {
	if !cfg.Enabled {
		return governor.NewMemoryStore(), nil
	}
	client, err := governor.NewRedisClient(ctx, cfg.Addr, cfg.Password, cfg.DB)
	if err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	a.closers = append(a.closers, client.Close)
	return governor.NewRedisStore(client, cfg.KeyPrefix), nil
}

func (a *App) providerClient(
	name, apiKeyHeader string,
	src config.PaperSourceConfig,
	store governor.Store,
	group *coalesce.Group,
	logger zerolog.Logger,
	metrics *observability.Metrics,
) *papersources.Client {
	gov := governor.New(GovernorConfig(name, src), store,
		governor.WithLogger(logger),
		governor.WithMetrics(metrics),
	)
	client := papersources.NewClient(papersources.ClientConfig{
		Name:              name,
		Timeout:           src.Timeout,
		APIKey:            src.APIKey,
		APIKeyHeader:      apiKeyHeader,
		RateLimit:         src.RateLimit,
		TransientRetries:  src.Governor.TransientRetries,
		TransientDelay:    src.Governor.TransientDelay,
		RateLimitRetries:  src.Governor.RateLimitRetries,
		RateLimitMaxDelay: src.Governor.RateLimitMaxDelay,
	}, gov,
		papersources.WithCoalescer(group),
		papersources.WithClientLogger(logger),
		papersources.WithClientMetrics(metrics),
	)
	a.Registry.Register(client)
	return client
}

// GovernorConfig maps a provider's configuration onto governor limits. The
// quota depends on whether an API key is configured.
func GovernorConfig(name string, src config.PaperSourceConfig) governor.Config {
	g := src.Governor
	return governor.Config{
		Name:               name,
		Window:             g.Window,
		Quota:              g.Quota(src.APIKey != ""),
		BaseSpacing:        g.BaseSpacing,
		SpacingJitter:      g.SpacingJitter,
		AdmissionJitter:    g.AdmissionJitter,
		UtilizationMid:     g.UtilizationMid,
		UtilizationHigh:    g.UtilizationHigh,
		CircuitThreshold:   g.CircuitThreshold,
		CircuitCooldown:    g.CircuitCooldown,
		RateLimitBaseDelay: g.RateLimitBaseDelay,
		RateLimitMaxDelay:  g.RateLimitMaxDelay,
	}
}

func (a *App) openDatabase(ctx context.Context, cfg config.DatabaseConfig) error {
	db, err := database.New(ctx, &cfg, a.logger)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	a.DB = db
	a.closers = append(a.closers, func() error {
		db.Close()
		return nil
	})

	if !cfg.MigrationAutoRun {
		return nil
	}
	migrator, err := database.NewMigrator(db, cfg.MigrationPath, a.logger)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	defer func() {
		if closeErr := migrator.Close(); closeErr != nil {
			a.logger.Error().Err(closeErr).Msg("failed to close migrator")
		}
	}()
	if err := migrator.Up(); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

func (a *App) publisher(cfg config.KafkaConfig, logger zerolog.Logger) (events.Publisher, error) {
	if !cfg.Enabled {
		return events.NopPublisher{}, nil
	}
	p, err := events.NewKafkaPublisher(events.KafkaConfig{
		Brokers:      cfg.Brokers,
		Topic:        cfg.Topic,
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("create kafka publisher: %w", err)
	}
	a.closers = append(a.closers, p.Close)
	return p, nil
}
