// Package prefilter implements the cheap keyword relevance gate applied
// before any paid classification work.
package prefilter

import (
	"log/slog"
	"strings"

	"TradeScanner/internal/domain"
)

// Filter is a pure predicate over an entry's title and full text.
type Filter struct {
	keywords []string
	logger   *slog.Logger
}

// New lowercases the keyword list once so each probe is a plain substring scan.
func New(keywords []string, logger *slog.Logger) *Filter {
	lowered := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		lowered = append(lowered, strings.ToLower(kw))
	}
	return &Filter{keywords: lowered, logger: logger}
}

// Matches reports whether any keyword occurs in the entry's title or text.
func (f *Filter) Matches(entry domain.Entry) bool {
	text := strings.ToLower(entry.Title)
	if entry.FullText != "" {
		text += " " + strings.ToLower(entry.FullText)
	}
	for _, kw := range f.keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

// Apply filters entries by keyword, returning survivors and the skipped count.
// When disabled, every entry survives and the skipped count is zero.
func (f *Filter) Apply(entries []domain.Entry, enabled bool) ([]domain.Entry, int) {
	if !enabled {
		f.info("pre-filter disabled, passing all entries", "count", len(entries))
		return entries, 0
	}

	passed := make([]domain.Entry, 0, len(entries))
	skipped := 0
	for _, entry := range entries {
		if f.Matches(entry) {
			passed = append(passed, entry)
		} else {
			f.debug("skipped, no keywords", "id", entry.ID, "title", entry.Title)
			skipped++
		}
	}

	f.info("pre-filter applied", "passed", len(passed), "skipped", skipped, "total", len(entries))
	return passed, skipped
}

func (f *Filter) info(msg string, args ...any) {
	if f.logger != nil {
		f.logger.Info(msg, args...)
	}
}

func (f *Filter) debug(msg string, args ...any) {
	if f.logger != nil {
		f.logger.Debug(msg, args...)
	}
}
