package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "github.com/lib/pq"

	"TradeScanner/internal/config"
	"TradeScanner/internal/domain"
	"TradeScanner/internal/infrastructure/cache"
	"TradeScanner/internal/infrastructure/crawler"
	"TradeScanner/internal/infrastructure/llm"
	"TradeScanner/internal/infrastructure/parser"
	"TradeScanner/internal/infrastructure/scheduler"
	"TradeScanner/internal/infrastructure/storage"
	"TradeScanner/internal/infrastructure/telegram"
	"TradeScanner/internal/logging"
	"TradeScanner/internal/ports"
	"TradeScanner/internal/prefilter"
	"TradeScanner/internal/scanner"
	"TradeScanner/internal/truncate"
	"TradeScanner/internal/usecase"
)

// Application wires configs to use cases and lifecycle orchestration.
type Application struct {
	cfg      config.Config
	pipeline *usecase.Pipeline
	logger   *slog.Logger
}

// New builds a runnable application instance.
func New(cfg config.Config, baseLogger *slog.Logger) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level)
	}

	registry := scanner.NewRegistry()
	registry.Register(parser.NewArchiveExtractor(
		cfg.Crawler.ShortLinkPrefix,
		baseLogger.With("component", "extractor.csms"),
	))
	source := parser.NewStrategySource(registry, cfg.Archives, baseLogger.With("component", "source"))

	rawStore := cache.NewStore(cfg.Cache.RawDir(), "bulletin_", ".html")
	textStore := cache.NewStore(cfg.Cache.TextsDir(), "csms_", ".txt")
	fetcher := crawler.NewFetcher(nil, rawStore, textStore, cfg.Crawler, baseLogger.With("component", "fetcher"))

	clsCache := cache.NewClassificationCache(
		cfg.Cache.ClassificationsDir(),
		cfg.Claude.PromptVersion,
		baseLogger.With("component", "cache.classifications"),
	)
	classifier := llm.NewClaudeClient(cfg.Claude, clsCache, baseLogger.With("component", "classifier"))

	var repository ports.ActionRepository
	if cfg.Database.DSN != "" {
		db, err := sql.Open("postgres", cfg.Database.DSN)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		repository = storage.NewPostgresRepository(db)
	}

	var notifier ports.Notifier
	if tg := cfg.Notifications.Telegram; tg.BotToken != "" && tg.ChatID != "" {
		notifier = telegram.NewNotifier(tg.BotToken, tg.ChatID, nil)
	}

	var dataSources []string
	for _, archive := range cfg.Archives {
		dataSources = append(dataSources, archive.Files...)
	}

	pipeline := usecase.NewPipeline(usecase.PipelineDeps{
		Source:      source,
		Fetcher:     fetcher,
		Prefilter:   prefilter.New(cfg.Prefilter.Keywords, baseLogger.With("component", "prefilter")),
		Truncator:   truncate.New(cfg.Truncation, cfg.Prefilter.Keywords, baseLogger.With("component", "truncate")),
		Classifier:  classifier,
		Cache:       clsCache,
		Repository:  repository,
		Writer:      storage.NewJSONWriter(cfg.Output.Dirs, cfg.Output.Filename, baseLogger.With("component", "output")),
		Notifier:    notifier,
		Logger:      baseLogger.With("component", "pipeline"),
		Cfg:         cfg.Pipeline,
		DataSources: dataSources,
	})

	return &Application{cfg: cfg, pipeline: pipeline, logger: baseLogger}, nil
}

// Run executes the pipeline once, or on a schedule when configured.
// A missing API credential halts before any paid work occurs.
func (a *Application) Run(ctx context.Context, opts usecase.Options) error {
	if !opts.DryRun && !opts.FetchOnly && a.cfg.Claude.APIKey == "" {
		return domain.ErrMissingAPIKey
	}

	if a.cfg.Scheduler.Enabled {
		driver := scheduler.NewTickerScheduler(a.cfg.Scheduler.Interval())
		sched := usecase.NewScheduler(driver, a.pipeline, opts)
		if err := sched.Start(ctx); err != nil {
			return fmt.Errorf("start scheduler: %w", err)
		}
		<-ctx.Done()
		return sched.Stop(context.Background())
	}

	_, err := a.pipeline.Run(ctx, opts)
	return err
}
