package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nugget/taskmate/internal/agent"
	"github.com/nugget/taskmate/internal/auth"
	"github.com/nugget/taskmate/internal/buildinfo"
	"github.com/nugget/taskmate/internal/chat"
	"github.com/nugget/taskmate/internal/checkpoint"
	"github.com/nugget/taskmate/internal/config"
	"github.com/nugget/taskmate/internal/connwatch"
	"github.com/nugget/taskmate/internal/events"
	"github.com/nugget/taskmate/internal/llm"
	"github.com/nugget/taskmate/internal/observability"
	"github.com/nugget/taskmate/internal/tasks"
	"github.com/nugget/taskmate/internal/tools"
	"github.com/nugget/taskmate/internal/usage"

	_ "github.com/lib/pq"           // PostgreSQL driver for database/sql
	_ "github.com/mattn/go-sqlite3" // SQLite driver for database/sql (cgo)
	_ "modernc.org/sqlite"          // SQLite driver for database/sql (pure Go)
)

// app holds the components shared by serve and the one-shot commands.
type app struct {
	store   *tasks.Store
	enums   tasks.Enums
	bus     *events.Bus
	metrics *observability.Metrics
	tracer  *observability.Tracer
	saver   *checkpoint.SQLSaver // nil unless checkpoint.persist
	usage   *usage.Store
	chat    *chat.Service
	auth    *auth.Authenticator
	logger  *slog.Logger

	// llmProbe checks the primary provider only; pinging every
	// registered provider each poll would spend tokens.
	llmProbe connwatch.ProbeFunc

	closers []func(context.Context) error
}

// newApp opens the store and wires the agent, chat service and
// authenticator described by cfg.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{
		enums:   tasks.EnumsFromStrings(cfg.Enums.Statuses, cfg.Enums.Priorities),
		bus:     events.New(),
		metrics: observability.NewMetrics(nil),
		logger:  logger,
	}

	store, err := tasks.NewStore(cfg.Database.Driver, cfg.Database.DSN, logger)
	if err != nil {
		return nil, fmt.Errorf("open task store: %w", err)
	}
	if cfg.Database.MaxOpenConns > 0 && store.Dialect() == tasks.DialectPostgres {
		store.DB().SetMaxOpenConns(cfg.Database.MaxOpenConns)
	}
	a.store = store
	a.closers = append(a.closers, func(context.Context) error { return store.Close() })

	tracer, shutdownTracer, err := observability.NewTracer(ctx, observability.TraceConfig{
		ServiceName:    "taskmate",
		ServiceVersion: buildinfo.Version,
		Endpoint:       cfg.Tracing.Endpoint,
		SamplingRate:   cfg.Tracing.SamplingRate,
		Insecure:       cfg.Tracing.Insecure,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	a.tracer = tracer
	a.closers = append(a.closers, shutdownTracer)
	if cfg.Tracing.Endpoint != "" {
		logger.Info("tracing enabled", "endpoint", cfg.Tracing.Endpoint, "sampling_rate", cfg.Tracing.SamplingRate)
	}

	registry := tools.NewRegistry()
	if err := tools.NewTaskTools(store, a.enums, a.bus, logger).Register(registry); err != nil {
		a.Close()
		return nil, fmt.Errorf("register task tools: %w", err)
	}

	client, primary, err := createLLMClient(ctx, cfg, logger, a.metrics)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.llmProbe = primary.Ping

	if a.usage, err = usage.NewStore(store.DB(), store.Dialect()); err != nil {
		a.Close()
		return nil, fmt.Errorf("open usage store: %w", err)
	}

	factory := &chat.Factory{
		Client:   client,
		Registry: registry,
		Model:    cfg.LLM.Model,
		RuntimeOptions: []agent.Option{
			agent.WithMaxIterations(cfg.LLM.MaxIterations),
			agent.WithEvents(a.bus),
			agent.WithMetrics(a.metrics),
			agent.WithTracer(a.tracer),
			agent.WithUsage(a.usage.Recorder(cfg.LLM.Provider, cfg.LLM.Pricing, logger)),
		},
		Metrics: a.metrics,
		Tracer:  a.tracer,
		Logger:  logger,
	}
	if cfg.Checkpoint.Persist {
		saver, err := checkpoint.NewSQLSaver(store.DB(), store.Dialect())
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("open checkpoint store: %w", err)
		}
		a.saver = saver
		// Conversation IDs are unique per turn, so one saver serves all.
		factory.NewSaver = func() checkpoint.Saver { return saver }
	}
	if a.chat, err = factory.NewService(); err != nil {
		a.Close()
		return nil, err
	}

	a.auth = auth.NewAuthenticator(store, auth.NewJWTService(cfg.Auth.JWTSecret, cfg.Auth.JWTTTL))
	return a, nil
}

// watchDependencies starts background probes of the database and the
// primary model provider. Readiness changes feed the dependency gauge.
func (a *app) watchDependencies(ctx context.Context) (*connwatch.Manager, error) {
	mgr := connwatch.NewManager(a.logger)
	services := []connwatch.Service{
		{Name: "database", Probe: a.store.DB().PingContext},
		{Name: "llm", Probe: a.llmProbe},
	}
	for _, svc := range services {
		svc.OnChange = a.metrics.ObserveDependency
		if _, err := mgr.Watch(ctx, svc); err != nil {
			mgr.Stop()
			return nil, err
		}
	}
	return mgr, nil
}

// Close releases everything newApp opened, in reverse order.
func (a *app) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			a.logger.Warn("shutdown step failed", "error", err)
		}
	}
	a.closers = nil
}

// createLLMClient builds the model client for cfg.LLM.Provider. Other
// providers with credentials are registered too so that the multi
// client can route a model name to them. The result retries transient
// failures and reports each attempt to metrics. The primary provider's
// own client is returned alongside for health probes.
func createLLMClient(ctx context.Context, cfg *config.Config, logger *slog.Logger, metrics *observability.Metrics) (llm.Client, llm.Client, error) {
	opts := llm.Options{MaxTokens: cfg.LLM.MaxTokens}

	modelFor := func(provider string) string {
		if cfg.LLM.Provider == provider {
			return cfg.LLM.Model
		}
		return config.DefaultModel(provider)
	}

	providers := map[string]llm.Client{
		"ollama": llm.NewOllamaClient(cfg.LLM.OllamaURL, opts, logger),
	}
	if cfg.Anthropic.Configured() {
		providers["anthropic"] = llm.NewAnthropicClient(cfg.Anthropic.APIKey, modelFor("anthropic"), opts, logger)
	}
	if cfg.OpenAI.Configured() {
		providers["openai"] = llm.NewOpenAIClient(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, opts, logger)
	}
	if cfg.Gemini.Configured() {
		gemini, err := llm.NewGeminiClient(ctx, cfg.Gemini.APIKey, modelFor("gemini"), opts, logger)
		if err != nil {
			return nil, nil, err
		}
		providers["gemini"] = gemini
	}

	primary, ok := providers[cfg.LLM.Provider]
	if !ok {
		return nil, nil, fmt.Errorf("llm provider %q is not configured", cfg.LLM.Provider)
	}
	multi := llm.NewMultiClient(primary)
	for name, c := range providers {
		multi.AddProvider(name, c)
	}
	multi.AddModel(cfg.LLM.Model, cfg.LLM.Provider)

	logger.Info("LLM client initialized",
		"provider", cfg.LLM.Provider,
		"model", cfg.LLM.Model,
		"max_retries", cfg.LLM.MaxRetries,
	)
	return llm.NewRetryClient(multi, cfg.LLM.Provider, cfg.LLM.MaxRetries, logger,
		llm.WithObserver(metrics.ObserveLLM)), primary, nil
}
