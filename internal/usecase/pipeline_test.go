package usecase

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"TradeScanner/internal/config"
	"TradeScanner/internal/domain"
	"TradeScanner/internal/prefilter"
	"TradeScanner/internal/truncate"
)

type fakeSource struct {
	entries []domain.Entry
	err     error
}

func (f *fakeSource) ExtractAll(ctx context.Context) ([]domain.Entry, error) {
	return f.entries, f.err
}

type fakeFetcher struct {
	texts  map[string]string
	failed map[string]string
	calls  [][]domain.Entry
}

func (f *fakeFetcher) FetchAll(ctx context.Context, entries []domain.Entry) ([]domain.Entry, []domain.PipelineError) {
	f.calls = append(f.calls, append([]domain.Entry(nil), entries...))
	var errs []domain.PipelineError
	for i := range entries {
		if msg, ok := f.failed[entries[i].ID]; ok {
			errs = append(errs, domain.PipelineError{EntryID: entries[i].ID, Error: msg})
			continue
		}
		entries[i].FullText = f.texts[entries[i].ID]
	}
	return entries, errs
}

type fakeClassifier struct {
	classify func(entry domain.Entry, text, model string) ([]domain.TradeAction, domain.Usage, error)
	calls    int
}

func (f *fakeClassifier) Classify(ctx context.Context, entry domain.Entry, text, model string) ([]domain.TradeAction, domain.Usage, error) {
	f.calls++
	return f.classify(entry, text, model)
}

func (f *fakeClassifier) EstimateCost(inputTokens, outputTokens int, model string) float64 {
	return float64(inputTokens+outputTokens) / 1_000_000
}

type fakeCache struct {
	cleared bool
}

func (f *fakeCache) Lookup(text, model string) ([]map[string]any, bool) { return nil, false }
func (f *fakeCache) Store(text, model string, result []map[string]any) error {
	return nil
}
func (f *fakeCache) Clear() (int, error) {
	f.cleared = true
	return 3, nil
}

type fakeWriter struct {
	output *domain.PipelineOutput
	err    error
}

func (f *fakeWriter) Write(output *domain.PipelineOutput) error {
	f.output = output
	return f.err
}

type fakeRepository struct {
	processed map[string]bool
	queried   [][]string
	saved     []domain.TradeAction
	err       error
	lookupErr error
}

func (f *fakeRepository) AlreadyProcessed(ctx context.Context, ids []string) (map[string]bool, error) {
	f.queried = append(f.queried, append([]string(nil), ids...))
	if f.lookupErr != nil {
		return nil, f.lookupErr
	}
	if f.processed == nil {
		return map[string]bool{}, nil
	}
	return f.processed, nil
}

func (f *fakeRepository) SaveActions(ctx context.Context, actions []domain.TradeAction) error {
	f.saved = append(f.saved, actions...)
	return f.err
}

type fakeNotifier struct {
	digests []string
}

func (f *fakeNotifier) PublishDigest(ctx context.Context, text string) error {
	f.digests = append(f.digests, text)
	return nil
}

func oneAction(entry domain.Entry, effectiveDate string) domain.TradeAction {
	return domain.TradeAction{
		ID:            "csms-" + entry.ID,
		Title:         entry.Title,
		ActionType:    "tariff",
		Status:        "active",
		EffectiveDate: effectiveDate,
	}
}

func testEntries() []domain.Entry {
	return []domain.Entry{
		{ID: "1", Title: "Tariff update for aluminum", Date: "2025-03-12", ShortURL: "https://lnks.gd/l/a"},
		{ID: "2", Title: "ACE maintenance window", Date: "2025-03-01", ShortURL: "https://lnks.gd/l/b"},
		{ID: "3", Title: "Old tariff notice", Date: "2024-06-01", ShortURL: "https://lnks.gd/l/c"},
	}
}

func newTestPipeline(deps PipelineDeps) *Pipeline {
	if deps.Prefilter == nil {
		deps.Prefilter = prefilter.New([]string{"tariff"}, nil)
	}
	if deps.Truncator == nil {
		deps.Truncator = truncate.New(config.TruncationConfig{
			MaxTokens: 3000, FullTextTokens: 10000, IntroTokens: 1500, WindowTokens: 300, CharsPerToken: 4,
		}, []string{"tariff"}, nil)
	}
	if deps.Cfg.MaxEntries == 0 {
		deps.Cfg = config.PipelineConfig{MaxEntries: 200, DateRangeStart: "2025-01-01", DateRangeEnd: "2025-12-31"}
	}
	return NewPipeline(deps)
}

func defaultOptions() Options {
	return Options{Prefilter: true, Truncation: true, Model: "test-model"}
}

func TestRunFullPass(t *testing.T) {
	t.Parallel()

	classifier := &fakeClassifier{
		classify: func(entry domain.Entry, text, model string) ([]domain.TradeAction, domain.Usage, error) {
			if model != "test-model" {
				t.Errorf("model not propagated, got %q", model)
			}
			return []domain.TradeAction{oneAction(entry, "2025-03-12")}, domain.Usage{InputTokens: 100, OutputTokens: 50}, nil
		},
	}
	writer := &fakeWriter{}
	repo := &fakeRepository{}
	notifier := &fakeNotifier{}

	p := newTestPipeline(PipelineDeps{
		Source:     &fakeSource{entries: testEntries()},
		Fetcher:    &fakeFetcher{texts: map[string]string{"1": "tariff bulletin body"}},
		Classifier: classifier,
		Repository: repo,
		Writer:     writer,
		Notifier:   notifier,
	})

	output, err := p.Run(context.Background(), defaultOptions())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Entry 3 is out of the date range, entry 2 has no keyword.
	if output.Meta.EntriesScanned != 2 {
		t.Fatalf("expected 2 entries in range, got %d", output.Meta.EntriesScanned)
	}
	if output.Meta.EntriesAfterFilter != 1 {
		t.Fatalf("expected 1 entry after filter, got %d", output.Meta.EntriesAfterFilter)
	}
	if output.Meta.BulletinsFetched != 1 {
		t.Fatalf("expected 1 bulletin fetched, got %d", output.Meta.BulletinsFetched)
	}
	if len(output.Actions) != 1 {
		t.Fatalf("expected 1 action, got %d", len(output.Actions))
	}

	opt := output.Meta.CostOptimization
	if opt.NewAPICalls != 1 || opt.CacheHits != 0 {
		t.Fatalf("unexpected call counters: %+v", opt)
	}
	if opt.TotalInputTokens != 100 || opt.TotalOutputTokens != 50 {
		t.Fatalf("unexpected token totals: %+v", opt)
	}
	if opt.EstimatedCostUSD == 0 {
		t.Fatal("cost estimate missing")
	}

	if writer.output != output {
		t.Fatal("writer did not receive the pipeline output")
	}
	if len(repo.saved) != 1 {
		t.Fatalf("expected 1 saved action, got %d", len(repo.saved))
	}
	if len(notifier.digests) != 1 {
		t.Fatalf("expected 1 digest, got %d", len(notifier.digests))
	}
}

func TestRunDryRunSkipsFetch(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{}
	classifier := &fakeClassifier{}

	p := newTestPipeline(PipelineDeps{
		Source:     &fakeSource{entries: testEntries()},
		Fetcher:    fetcher,
		Classifier: classifier,
	})

	opts := defaultOptions()
	opts.DryRun = true

	output, err := p.Run(context.Background(), opts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(fetcher.calls) != 0 {
		t.Fatal("dry run must not fetch")
	}
	if classifier.calls != 0 {
		t.Fatal("dry run must not classify")
	}
	if len(output.Actions) != 0 {
		t.Fatalf("dry run must return no actions, got %d", len(output.Actions))
	}
	if output.Meta.EntriesAfterFilter != 1 {
		t.Fatalf("dry run must still report filter counts, got %d", output.Meta.EntriesAfterFilter)
	}
}

func TestRunFetchOnlySkipsClassification(t *testing.T) {
	t.Parallel()

	classifier := &fakeClassifier{}
	p := newTestPipeline(PipelineDeps{
		Source:     &fakeSource{entries: testEntries()},
		Fetcher:    &fakeFetcher{texts: map[string]string{"1": "tariff bulletin body"}},
		Classifier: classifier,
	})

	opts := defaultOptions()
	opts.FetchOnly = true

	output, err := p.Run(context.Background(), opts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if classifier.calls != 0 {
		t.Fatal("fetch-only must not classify")
	}
	if output.Meta.BulletinsFetched != 1 {
		t.Fatalf("expected 1 bulletin fetched, got %d", output.Meta.BulletinsFetched)
	}
}

func TestRunAppliesEntryCap(t *testing.T) {
	t.Parallel()

	entries := []domain.Entry{
		{ID: "1", Title: "Tariff one", Date: "2025-03-12", ShortURL: "https://lnks.gd/l/a"},
		{ID: "2", Title: "Tariff two", Date: "2025-03-13", ShortURL: "https://lnks.gd/l/b"},
	}
	fetcher := &fakeFetcher{texts: map[string]string{"1": "tariff text", "2": "tariff text"}}
	classifier := &fakeClassifier{
		classify: func(entry domain.Entry, text, model string) ([]domain.TradeAction, domain.Usage, error) {
			return nil, domain.Usage{InputTokens: 1, OutputTokens: 1}, nil
		},
	}

	p := newTestPipeline(PipelineDeps{
		Source:     &fakeSource{entries: entries},
		Fetcher:    fetcher,
		Classifier: classifier,
		Cfg:        config.PipelineConfig{MaxEntries: 1, DateRangeStart: "2025-01-01", DateRangeEnd: "2025-12-31"},
	})

	output, err := p.Run(context.Background(), defaultOptions())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(fetcher.calls) != 1 || len(fetcher.calls[0]) != 1 {
		t.Fatalf("cap not applied before fetch: %+v", fetcher.calls)
	}
	if output.Meta.MaxEntriesCap != 1 {
		t.Fatalf("cap missing from meta, got %d", output.Meta.MaxEntriesCap)
	}
}

func TestRunRecordsClassificationErrorAndContinues(t *testing.T) {
	t.Parallel()

	entries := []domain.Entry{
		{ID: "1", Title: "Tariff one", Date: "2025-03-12", ShortURL: "https://lnks.gd/l/a"},
		{ID: "2", Title: "Tariff two", Date: "2025-03-13", ShortURL: "https://lnks.gd/l/b"},
	}
	classifier := &fakeClassifier{
		classify: func(entry domain.Entry, text, model string) ([]domain.TradeAction, domain.Usage, error) {
			if entry.ID == "2" {
				return nil, domain.Usage{}, fmt.Errorf("api overloaded")
			}
			return []domain.TradeAction{oneAction(entry, "2025-03-12")}, domain.Usage{InputTokens: 10, OutputTokens: 5}, nil
		},
	}

	p := newTestPipeline(PipelineDeps{
		Source:     &fakeSource{entries: entries},
		Fetcher:    &fakeFetcher{texts: map[string]string{"1": "tariff text", "2": "tariff text"}},
		Classifier: classifier,
	})

	output, err := p.Run(context.Background(), defaultOptions())
	if err != nil {
		t.Fatalf("one failing entry must not abort the run: %v", err)
	}
	if len(output.Actions) != 1 {
		t.Fatalf("expected 1 action from the surviving entry, got %d", len(output.Actions))
	}
	if len(output.Meta.Errors) != 1 || output.Meta.Errors[0].EntryID != "2" {
		t.Fatalf("unexpected error records: %+v", output.Meta.Errors)
	}
}

func TestRunMissingAPIKeyAborts(t *testing.T) {
	t.Parallel()

	classifier := &fakeClassifier{
		classify: func(entry domain.Entry, text, model string) ([]domain.TradeAction, domain.Usage, error) {
			return nil, domain.Usage{}, domain.ErrMissingAPIKey
		},
	}

	p := newTestPipeline(PipelineDeps{
		Source:     &fakeSource{entries: testEntries()},
		Fetcher:    &fakeFetcher{texts: map[string]string{"1": "tariff text"}},
		Classifier: classifier,
	})

	_, err := p.Run(context.Background(), defaultOptions())
	if !errors.Is(err, domain.ErrMissingAPIKey) {
		t.Fatalf("expected ErrMissingAPIKey, got %v", err)
	}
}

func TestRunCountsCacheHitsSeparately(t *testing.T) {
	t.Parallel()

	entries := []domain.Entry{
		{ID: "1", Title: "Tariff one", Date: "2025-03-12", ShortURL: "https://lnks.gd/l/a"},
		{ID: "2", Title: "Tariff two", Date: "2025-03-13", ShortURL: "https://lnks.gd/l/b"},
	}
	classifier := &fakeClassifier{
		classify: func(entry domain.Entry, text, model string) ([]domain.TradeAction, domain.Usage, error) {
			if entry.ID == "1" {
				// Zero usage marks a cache hit.
				return []domain.TradeAction{oneAction(entry, "2025-03-12")}, domain.Usage{}, nil
			}
			return []domain.TradeAction{oneAction(entry, "2025-03-13")}, domain.Usage{InputTokens: 40, OutputTokens: 20}, nil
		},
	}

	p := newTestPipeline(PipelineDeps{
		Source:     &fakeSource{entries: entries},
		Fetcher:    &fakeFetcher{texts: map[string]string{"1": "tariff text", "2": "tariff text"}},
		Classifier: classifier,
	})

	output, err := p.Run(context.Background(), defaultOptions())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	opt := output.Meta.CostOptimization
	if opt.CacheHits != 1 || opt.NewAPICalls != 1 {
		t.Fatalf("unexpected counters: %+v", opt)
	}
	if opt.TotalInputTokens != 40 || opt.TotalOutputTokens != 20 {
		t.Fatalf("cache hits must not add tokens: %+v", opt)
	}
}

func TestRunClearCache(t *testing.T) {
	t.Parallel()

	c := &fakeCache{}
	p := newTestPipeline(PipelineDeps{
		Source:     &fakeSource{entries: nil},
		Fetcher:    &fakeFetcher{},
		Classifier: &fakeClassifier{},
		Cache:      c,
	})

	opts := defaultOptions()
	opts.ClearCache = true
	opts.DryRun = true

	if _, err := p.Run(context.Background(), opts); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !c.cleared {
		t.Fatal("cache was not cleared")
	}
}

func TestRunSkipsAlreadyPersistedActions(t *testing.T) {
	t.Parallel()

	entries := []domain.Entry{
		{ID: "1", Title: "Tariff one", Date: "2025-03-12", ShortURL: "https://lnks.gd/l/a"},
		{ID: "2", Title: "Tariff two", Date: "2025-03-13", ShortURL: "https://lnks.gd/l/b"},
	}
	classifier := &fakeClassifier{
		classify: func(entry domain.Entry, text, model string) ([]domain.TradeAction, domain.Usage, error) {
			return []domain.TradeAction{oneAction(entry, entry.Date)}, domain.Usage{InputTokens: 1, OutputTokens: 1}, nil
		},
	}
	repo := &fakeRepository{processed: map[string]bool{"csms-1": true}}

	p := newTestPipeline(PipelineDeps{
		Source:     &fakeSource{entries: entries},
		Fetcher:    &fakeFetcher{texts: map[string]string{"1": "tariff text", "2": "tariff text"}},
		Classifier: classifier,
		Repository: repo,
	})

	output, err := p.Run(context.Background(), defaultOptions())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Both actions still appear in the output document.
	if len(output.Actions) != 2 {
		t.Fatalf("expected 2 actions in output, got %d", len(output.Actions))
	}

	// The repository was consulted with every action ID and only the new
	// action was saved.
	if len(repo.queried) != 1 || len(repo.queried[0]) != 2 {
		t.Fatalf("unexpected processed lookups: %+v", repo.queried)
	}
	if len(repo.saved) != 1 || repo.saved[0].ID != "csms-2" {
		t.Fatalf("expected only the unseen action saved, got %+v", repo.saved)
	}
}

func TestRunProcessedLookupFailureSavesEverything(t *testing.T) {
	t.Parallel()

	classifier := &fakeClassifier{
		classify: func(entry domain.Entry, text, model string) ([]domain.TradeAction, domain.Usage, error) {
			return []domain.TradeAction{oneAction(entry, "2025-03-12")}, domain.Usage{InputTokens: 1, OutputTokens: 1}, nil
		},
	}
	repo := &fakeRepository{lookupErr: fmt.Errorf("connection refused")}

	p := newTestPipeline(PipelineDeps{
		Source:     &fakeSource{entries: testEntries()},
		Fetcher:    &fakeFetcher{texts: map[string]string{"1": "tariff text"}},
		Classifier: classifier,
		Repository: repo,
	})

	if _, err := p.Run(context.Background(), defaultOptions()); err != nil {
		t.Fatalf("lookup failure must not abort the run: %v", err)
	}
	if len(repo.saved) != 1 {
		t.Fatalf("all actions must be saved when the lookup fails, got %d", len(repo.saved))
	}
}

func TestRunRepositoryFailureIsNonFatal(t *testing.T) {
	t.Parallel()

	classifier := &fakeClassifier{
		classify: func(entry domain.Entry, text, model string) ([]domain.TradeAction, domain.Usage, error) {
			return []domain.TradeAction{oneAction(entry, "2025-03-12")}, domain.Usage{InputTokens: 1, OutputTokens: 1}, nil
		},
	}

	p := newTestPipeline(PipelineDeps{
		Source:     &fakeSource{entries: testEntries()},
		Fetcher:    &fakeFetcher{texts: map[string]string{"1": "tariff text"}},
		Classifier: classifier,
		Repository: &fakeRepository{err: fmt.Errorf("connection refused")},
	})

	if _, err := p.Run(context.Background(), defaultOptions()); err != nil {
		t.Fatalf("repository failure must not abort the run: %v", err)
	}
}

func TestRunWriterFailureIsFatal(t *testing.T) {
	t.Parallel()

	classifier := &fakeClassifier{
		classify: func(entry domain.Entry, text, model string) ([]domain.TradeAction, domain.Usage, error) {
			return nil, domain.Usage{InputTokens: 1, OutputTokens: 1}, nil
		},
	}

	p := newTestPipeline(PipelineDeps{
		Source:     &fakeSource{entries: testEntries()},
		Fetcher:    &fakeFetcher{texts: map[string]string{"1": "tariff text"}},
		Classifier: classifier,
		Writer:     &fakeWriter{err: fmt.Errorf("disk full")},
	})

	if _, err := p.Run(context.Background(), defaultOptions()); err == nil {
		t.Fatal("writer failure must abort the run")
	}
}

func TestSortActionsMissingDatesLast(t *testing.T) {
	t.Parallel()

	actions := []domain.TradeAction{
		{ID: "a", EffectiveDate: ""},
		{ID: "b", EffectiveDate: "2025-03-12"},
		{ID: "c", EffectiveDate: "2025-06-01"},
		{ID: "d", EffectiveDate: ""},
	}

	sortActions(actions)

	if actions[0].ID != "c" || actions[1].ID != "b" {
		t.Fatalf("unexpected order: %+v", actions)
	}
	if actions[2].ID != "a" || actions[3].ID != "d" {
		t.Fatalf("undated actions must sort last, stable: %+v", actions)
	}
}
