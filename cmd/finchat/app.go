package main

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/finchat-dev/finchat/internal/chart"
	"github.com/finchat-dev/finchat/internal/config"
	"github.com/finchat-dev/finchat/internal/llm"
	"github.com/finchat-dev/finchat/internal/logging"
	"github.com/finchat-dev/finchat/internal/orchestrator"
	"github.com/finchat-dev/finchat/internal/query"
	"github.com/finchat-dev/finchat/internal/secrets"
	"github.com/finchat-dev/finchat/internal/store"
	"github.com/finchat-dev/finchat/internal/telemetry"
)

// app holds the process-wide dependencies. Everything here is built once
// and read-only afterwards.
type app struct {
	cfg       *config.Config
	logger    *logging.Logger
	telemetry *telemetry.Telemetry

	store    *store.SQLStore
	executor *query.Executor
	schema   store.SchemaContext
}

// newApp loads configuration and initialises logging, telemetry and the
// data store. Nothing touches the database until loadSchema or a query.
func newApp(ctx context.Context, flags *rootFlags) (*app, error) {
	cfg, err := config.LoadWithFile(flags.configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if flags.logLevel != "" {
		cfg.Logging.Level = flags.logLevel
	}

	logger, err := initLogger(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	tel, err := telemetry.New(ctx, telemetryConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	if h := tel.Health(); h.Degraded {
		logger.Warn(ctx, "telemetry degraded, continuing without export", zap.String("error", h.Error))
	}

	dsn, err := cfg.Database.ConnectionString()
	if err != nil {
		return nil, fmt.Errorf("invalid database configuration: %w", err)
	}
	st, err := store.New(store.Config{
		Driver:           cfg.Database.Driver,
		DSN:              dsn,
		StatementTimeout: cfg.Database.StatementTimeout,
	}, logger.Named("store"))
	if err != nil {
		return nil, fmt.Errorf("failed to create store: %w", err)
	}

	scrubber, err := newScrubber(cfg.Secrets)
	if err != nil {
		return nil, err
	}

	exec := query.NewExecutor(st,
		query.WithScrubber(scrubber),
		query.WithMaxAttempts(cfg.Database.MaxAttempts),
		query.WithBaseDelay(cfg.Database.BaseDelay),
		query.WithLogger(logger.Named("query")),
		query.WithTracer(tel.Tracer("finchat/query")),
	)

	return &app{
		cfg:       cfg,
		logger:    logger,
		telemetry: tel,
		store:     st,
		executor:  exec,
	}, nil
}

func initLogger(cfg *config.Config) (*logging.Logger, error) {
	lc := logging.NewDefaultConfig()
	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return nil, err
	}
	lc.Level = level
	lc.Format = cfg.Logging.Format
	lc.Fields = map[string]string{"service": "finchat", "version": version}
	return logging.NewLogger(lc, nil)
}

func telemetryConfig(cfg *config.Config) *telemetry.Config {
	tc := telemetry.NewDefaultConfig()
	tc.Enabled = cfg.Telemetry.Enabled
	if cfg.Telemetry.Endpoint != "" {
		tc.Endpoint = cfg.Telemetry.Endpoint
	}
	tc.Protocol = cfg.Telemetry.Protocol
	tc.Insecure = cfg.Telemetry.Insecure
	tc.ServiceName = cfg.Telemetry.ServiceName
	tc.ServiceVersion = version
	tc.SampleRate = cfg.Telemetry.SampleRate
	return tc
}

// loadSchema introspects the store once. Failures degrade to an
// unavailable schema rather than stopping the process.
func (a *app) loadSchema(ctx context.Context) store.SchemaContext {
	a.schema = store.LoadSchemaContext(ctx, a.store, a.cfg.Database.SampleRows, a.logger.Named("schema"))
	return a.schema
}

// newAgent builds the orchestrator over the loaded schema. loadSchema must
// have been called first.
func (a *app) newAgent(ctx context.Context) (*orchestrator.Orchestrator, error) {
	completer, err := llm.New(ctx, a.cfg.LLM, a.logger.Named("llm"))
	if err != nil {
		return nil, fmt.Errorf("failed to create llm client: %w", err)
	}

	agent := orchestrator.NewDefault(orchestrator.Dependencies{
		LLM:        completer,
		Executor:   a.executor,
		Renderer:   chart.NewPNGRenderer(),
		Schema:     a.schema.PromptText(),
		Driver:     a.store.Driver(),
		ChartDir:   a.cfg.Charts.Dir,
		AllowRetry: true,
		Logger:     a.logger.Named("orchestrator"),
	})

	stageLog := a.logger.Named("progress")
	agent.OnProgress(func(p orchestrator.StageProgress) {
		stageLog.Debug(ctx, p.Message,
			zap.String("stage", string(p.Stage)),
			zap.String("status", string(p.Status)),
			zap.Int("step", p.Step),
		)
	})
	return agent, nil
}

// Close flushes telemetry and logs.
func (a *app) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.telemetry.Shutdown(ctx); err != nil {
		a.logger.Warn(ctx, "telemetry shutdown failed", zap.Error(err))
	}
	_ = a.logger.Sync() // Best-effort sync on shutdown
}

func newScrubber(cfg config.SecretsConfig) (secrets.Scrubber, error) {
	sc := secrets.DefaultConfig()
	sc.Enabled = !cfg.Disabled
	allow, err := secrets.LoadAllowList(cfg.AllowListFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load secrets allow-list: %w", err)
	}
	sc.AllowList = allow
	return secrets.New(sc)
}
