package ports

import (
	"context"
	"time"

	"TradeScanner/internal/domain"
)

// EntrySource produces the combined, deduplicated entry list from all
// configured archive documents.
type EntrySource interface {
	ExtractAll(ctx context.Context) ([]domain.Entry, error)
}

// BulletinFetcher resolves each entry's short link to full bulletin text,
// enriching entries in place. Per-entry failures are returned, not raised.
type BulletinFetcher interface {
	FetchAll(ctx context.Context, entries []domain.Entry) ([]domain.Entry, []domain.PipelineError)
}

// Classifier turns bulletin text into structured trade actions via the
// external classification service, consulting the classification cache first.
type Classifier interface {
	Classify(ctx context.Context, entry domain.Entry, text, model string) ([]domain.TradeAction, domain.Usage, error)
	EstimateCost(inputTokens, outputTokens int, model string) float64
}

// ClassificationCache memoizes raw classification results by content hash.
type ClassificationCache interface {
	Lookup(text, model string) ([]map[string]any, bool)
	Store(text, model string, result []map[string]any) error
	Clear() (int, error)
}

// ActionRepository persists extracted trade actions for history and dedup.
type ActionRepository interface {
	AlreadyProcessed(ctx context.Context, ids []string) (map[string]bool, error)
	SaveActions(ctx context.Context, actions []domain.TradeAction) error
}

// OutputWriter delivers the run output document to its destinations.
type OutputWriter interface {
	Write(output *domain.PipelineOutput) error
}

// Notifier streams run digests to Telegram or other channels.
type Notifier interface {
	PublishDigest(ctx context.Context, digest string) error
}

// Scheduler controls when pipelines execute.
type Scheduler interface {
	Start(ctx context.Context, job func(time.Time)) error
	Stop(ctx context.Context) error
}
