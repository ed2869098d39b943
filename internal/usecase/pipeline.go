package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"TradeScanner/internal/config"
	"TradeScanner/internal/domain"
	"TradeScanner/internal/ports"
	"TradeScanner/internal/prefilter"
	"TradeScanner/internal/truncate"
)

// Options select the behavior of one pipeline run.
type Options struct {
	DryRun     bool
	FetchOnly  bool
	Prefilter  bool
	Truncation bool
	Model      string
	ClearCache bool
}

// PipelineDeps wires all driven adapters into the orchestration pipeline.
type PipelineDeps struct {
	Source      ports.EntrySource
	Fetcher     ports.BulletinFetcher
	Prefilter   *prefilter.Filter
	Truncator   *truncate.Truncator
	Classifier  ports.Classifier
	Cache       ports.ClassificationCache
	Repository  ports.ActionRepository
	Writer      ports.OutputWriter
	Notifier    ports.Notifier
	Logger      *slog.Logger
	Cfg         config.PipelineConfig
	DataSources []string
}

// Pipeline sequences extract, date filter, prefilter, cap, fetch, truncate,
// and classify, aggregating per-entry errors and run statistics.
type Pipeline struct {
	source      ports.EntrySource
	fetcher     ports.BulletinFetcher
	prefilter   *prefilter.Filter
	truncator   *truncate.Truncator
	classifier  ports.Classifier
	cache       ports.ClassificationCache
	repository  ports.ActionRepository
	writer      ports.OutputWriter
	notifier    ports.Notifier
	logger      *slog.Logger
	cfg         config.PipelineConfig
	dataSources []string
	now         func() time.Time
}

// NewPipeline constructs the orchestration component.
func NewPipeline(deps PipelineDeps) *Pipeline {
	return &Pipeline{
		source:      deps.Source,
		fetcher:     deps.Fetcher,
		prefilter:   deps.Prefilter,
		truncator:   deps.Truncator,
		classifier:  deps.Classifier,
		cache:       deps.Cache,
		repository:  deps.Repository,
		writer:      deps.Writer,
		notifier:    deps.Notifier,
		logger:      deps.Logger,
		cfg:         deps.Cfg,
		dataSources: deps.DataSources,
		now:         time.Now,
	}
}

// Run executes one full pipeline pass. Per-entry failures are collected in
// the output's error list; only a missing API credential aborts the run.
func (p *Pipeline) Run(ctx context.Context, opts Options) (*domain.PipelineOutput, error) {
	if opts.ClearCache && p.cache != nil {
		n, err := p.cache.Clear()
		if err != nil {
			return nil, fmt.Errorf("clear classification cache: %w", err)
		}
		p.info("cleared classification cache", "removed", n)
	}

	p.info("step 1: extracting entries from archives")
	allEntries, err := p.source.ExtractAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("extract entries: %w", err)
	}

	inRange := make([]domain.Entry, 0, len(allEntries))
	for _, e := range allEntries {
		if e.Date >= p.cfg.DateRangeStart && e.Date <= p.cfg.DateRangeEnd {
			inRange = append(inRange, e)
		}
	}
	p.info("date filter applied",
		"in_range", len(inRange), "total", len(allEntries),
		"from", p.cfg.DateRangeStart, "to", p.cfg.DateRangeEnd)

	p.info("step 2: applying keyword pre-filter")
	filtered, prefilterSkipped := p.prefilter.Apply(inRange, opts.Prefilter)

	meta := domain.PipelineMeta{
		GeneratedAt:        p.now().UTC().Format(time.RFC3339),
		EntriesScanned:     len(inRange),
		EntriesAfterFilter: len(filtered),
		MaxEntriesCap:      p.cfg.MaxEntries,
		DateRangeStart:     p.cfg.DateRangeStart,
		DateRangeEnd:       p.cfg.DateRangeEnd,
		ScannerVersion:     config.Version,
		DataSources:        p.dataSources,
		Errors:             []domain.PipelineError{},
		CostOptimization: domain.CostOptimization{
			PrefilterEnabled:  opts.Prefilter,
			PrefilterSkipped:  prefilterSkipped,
			TruncationEnabled: opts.Truncation,
			ModelUsed:         opts.Model,
		},
	}

	if opts.DryRun {
		p.info("dry run complete",
			"scanned", len(inRange), "skipped", prefilterSkipped, "would_process", len(filtered))
		return &domain.PipelineOutput{Meta: meta, Actions: []domain.TradeAction{}}, nil
	}

	p.info("step 3: fetching bulletin full text")
	capped := filtered
	if len(filtered) > p.cfg.MaxEntries {
		p.warn("cap applied, excess entries excluded from this run",
			"cap", p.cfg.MaxEntries, "filtered", len(filtered))
		capped = filtered[:p.cfg.MaxEntries]
	}

	fetched, errs := p.fetcher.FetchAll(ctx, capped)

	withText := make([]domain.Entry, 0, len(fetched))
	for _, e := range fetched {
		if e.FullText != "" {
			withText = append(withText, e)
		}
	}
	meta.BulletinsFetched = len(withText)
	p.info("bulletins with full text", "count", len(withText), "fetched", len(fetched))

	if opts.FetchOnly {
		meta.Errors = errs
		p.info("fetch-only complete", "fetched", len(withText), "errors", len(errs))
		return &domain.PipelineOutput{Meta: meta, Actions: []domain.TradeAction{}}, nil
	}

	p.info("step 4: classifying bulletins")
	var (
		allActions   = []domain.TradeAction{}
		totalInput   int
		totalOutput  int
		cacheHits    int
		newAPICalls  int
	)

	for i, entry := range withText {
		p.info("classifying",
			"progress", fmt.Sprintf("%d/%d", i+1, len(withText)), "id", entry.ID, "title", entry.Title)

		text := p.truncator.Truncate(entry.FullText, opts.Truncation)

		actions, usage, err := p.classifier.Classify(ctx, entry, text, opts.Model)
		if err != nil {
			if errors.Is(err, domain.ErrMissingAPIKey) {
				return nil, err
			}
			p.warn("classification failed", "id", entry.ID, "error", err)
			errs = append(errs, domain.PipelineError{
				EntryID: entry.ID,
				URL:     entry.ResolvedURL,
				Error:   fmt.Sprintf("classification failed: %v", err),
			})
			continue
		}

		if usage == (domain.Usage{}) {
			cacheHits++
		} else {
			newAPICalls++
			totalInput += usage.InputTokens
			totalOutput += usage.OutputTokens
		}

		allActions = append(allActions, actions...)
		p.info("actions extracted",
			"id", entry.ID, "count", len(actions),
			"input_tokens", usage.InputTokens, "output_tokens", usage.OutputTokens)
	}

	sortActions(allActions)

	meta.Errors = errs
	meta.CostOptimization.CacheHits = cacheHits
	meta.CostOptimization.NewAPICalls = newAPICalls
	meta.CostOptimization.TotalInputTokens = totalInput
	meta.CostOptimization.TotalOutputTokens = totalOutput
	meta.CostOptimization.EstimatedCostUSD = p.classifier.EstimateCost(totalInput, totalOutput, opts.Model)

	output := &domain.PipelineOutput{Meta: meta, Actions: allActions}

	if p.repository != nil && len(allActions) > 0 {
		p.persistActions(ctx, allActions)
	}

	if p.writer != nil {
		if err := p.writer.Write(output); err != nil {
			return nil, fmt.Errorf("write output: %w", err)
		}
	}

	if p.notifier != nil {
		if err := p.notifier.PublishDigest(ctx, buildDigest(output)); err != nil {
			p.warn("cannot publish digest", "error", err)
		}
	}

	p.info("pipeline complete",
		"actions", len(allActions), "cache_hits", cacheHits, "new_api_calls", newAPICalls,
		"estimated_cost_usd", meta.CostOptimization.EstimatedCostUSD, "errors", len(errs))

	return output, nil
}

// persistActions saves only actions not already in storage, so reruns over
// the same archives do not rewrite history rows. A failed lookup falls back
// to saving everything; the upsert keeps that safe.
func (p *Pipeline) persistActions(ctx context.Context, actions []domain.TradeAction) {
	ids := make([]string, 0, len(actions))
	for _, a := range actions {
		ids = append(ids, a.ID)
	}

	toSave := actions
	existing, err := p.repository.AlreadyProcessed(ctx, ids)
	if err != nil {
		p.warn("cannot check persisted actions", "error", err)
	} else if len(existing) > 0 {
		toSave = make([]domain.TradeAction, 0, len(actions))
		for _, a := range actions {
			if !existing[a.ID] {
				toSave = append(toSave, a)
			}
		}
		p.info("already persisted actions skipped", "skipped", len(actions)-len(toSave))
	}

	if len(toSave) == 0 {
		return
	}
	if err := p.repository.SaveActions(ctx, toSave); err != nil {
		p.warn("cannot persist actions", "error", err)
	}
}

// sortActions orders by effective date descending; actions without one last.
func sortActions(actions []domain.TradeAction) {
	sort.SliceStable(actions, func(i, j int) bool {
		return sortKey(actions[i]) > sortKey(actions[j])
	})
}

func sortKey(a domain.TradeAction) string {
	if a.EffectiveDate == "" {
		return "0000-00-00"
	}
	return a.EffectiveDate
}

func buildDigest(output *domain.PipelineOutput) string {
	opt := output.Meta.CostOptimization
	digest := fmt.Sprintf(
		"Trade scan complete: %d actions from %d bulletins (cache hits %d, new calls %d, est. $%.4f, errors %d)",
		len(output.Actions), output.Meta.BulletinsFetched,
		opt.CacheHits, opt.NewAPICalls, opt.EstimatedCostUSD, len(output.Meta.Errors),
	)
	limit := len(output.Actions)
	if limit > 5 {
		limit = 5
	}
	for _, a := range output.Actions[:limit] {
		digest += fmt.Sprintf("\n- [%s] %s", a.ActionType, a.Title)
	}
	return digest
}

func (p *Pipeline) info(msg string, args ...any) {
	if p.logger != nil {
		p.logger.Info(msg, args...)
	}
}

func (p *Pipeline) warn(msg string, args ...any) {
	if p.logger != nil {
		p.logger.Warn(msg, args...)
	}
}
