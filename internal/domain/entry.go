package domain

import "errors"

// ErrMissingAPIKey aborts the run before any classification work happens.
var ErrMissingAPIKey = errors.New("ANTHROPIC_API_KEY environment variable is required")

// Entry is a single CSMS bulletin discovered in an archive document.
// The extractor creates it; the fetcher fills ResolvedURL and FullText in place.
type Entry struct {
	ID          string `json:"csms_id"`
	Title       string `json:"title"`
	Date        string `json:"date"` // ISO YYYY-MM-DD
	ShortURL    string `json:"lnks_gd_url,omitempty"`
	ResolvedURL string `json:"govdelivery_url,omitempty"`
	FullText    string `json:"full_text,omitempty"`
}

// PipelineError records a per-entry failure without aborting the batch.
type PipelineError struct {
	EntryID string `json:"csms_id,omitempty"`
	URL     string `json:"url,omitempty"`
	Error   string `json:"error"`
}

// Usage reports token consumption of one classification call.
// A zero value means the result came from cache.
type Usage struct {
	InputTokens  int
	OutputTokens int
}
