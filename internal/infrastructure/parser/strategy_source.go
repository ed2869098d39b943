package parser

import (
	"context"
	"fmt"
	"log/slog"

	"TradeScanner/internal/config"
	"TradeScanner/internal/domain"
	"TradeScanner/internal/ports"
	"TradeScanner/internal/scanner"
)

// StrategySource implements EntrySource via registered extractor strategies.
type StrategySource struct {
	registry *scanner.Registry
	archives []config.ArchiveConfig
	logger   *slog.Logger
}

var _ ports.EntrySource = (*StrategySource)(nil)

// NewStrategySource wires the extractor registry with config-defined archives.
func NewStrategySource(reg *scanner.Registry, archives []config.ArchiveConfig, log *slog.Logger) *StrategySource {
	return &StrategySource{
		registry: reg,
		archives: archives,
		logger:   log,
	}
}

// ExtractAll walks every configured archive, executes its extractor, and
// returns the combined entry list deduplicated by ID (first occurrence wins)
// and sorted by date, most recent first.
func (s *StrategySource) ExtractAll(ctx context.Context) ([]domain.Entry, error) {
	if s.registry == nil {
		return nil, fmt.Errorf("extractor registry is not configured")
	}

	s.debug("extract all", "archives", len(s.archives))

	var aggregated []domain.Entry
	for _, archive := range s.archives {
		strategy, err := s.registry.Resolve(archive.Extractor)
		if err != nil {
			return nil, fmt.Errorf("archive %s: %w", archive.Name, err)
		}

		req := scanner.Request{
			SourceName: archive.Name,
			Dir:        archive.Dir,
			Files:      archive.Files,
		}

		results, err := strategy.Extract(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("extract archive %s: %w", archive.Name, err)
		}

		s.debug("archive produced entries", "archive", archive.Name, "count", len(results))
		aggregated = append(aggregated, results...)
	}

	combined := dedupeAndSort(aggregated)
	s.debug("strategy source done", "total_entries", len(combined))
	return combined, nil
}

func (s *StrategySource) debug(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Debug(msg, args...)
	}
}
