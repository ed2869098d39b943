package domain

// CostOptimization accumulates per-run savings counters.
type CostOptimization struct {
	PrefilterEnabled  bool    `json:"prefilter_enabled"`
	PrefilterSkipped  int     `json:"prefilter_skipped"`
	TruncationEnabled bool    `json:"truncation_enabled"`
	ModelUsed         string  `json:"model_used"`
	CacheHits         int     `json:"cache_hits"`
	NewAPICalls       int     `json:"new_api_calls"`
	EstimatedCostUSD  float64 `json:"estimated_cost_usd"`
	TotalInputTokens  int     `json:"total_input_tokens"`
	TotalOutputTokens int     `json:"total_output_tokens"`
}

// PipelineMeta is the metadata block of the output document.
type PipelineMeta struct {
	GeneratedAt        string           `json:"generated_at"`
	EntriesScanned     int              `json:"csms_entries_scanned"`
	EntriesAfterFilter int              `json:"entries_after_filter"`
	BulletinsFetched   int              `json:"bulletins_fetched"`
	MaxEntriesCap      int              `json:"max_entries_cap"`
	DateRangeStart     string           `json:"date_range_start"`
	DateRangeEnd       string           `json:"date_range_end"`
	ScannerVersion     string           `json:"scanner_version"`
	DataSources        []string         `json:"data_sources"`
	CostOptimization   CostOptimization `json:"cost_optimization"`
	Errors             []PipelineError  `json:"errors"`
}

// PipelineOutput is the top-level run result consumed by the frontend.
type PipelineOutput struct {
	Meta    PipelineMeta  `json:"meta"`
	Actions []TradeAction `json:"actions"`
}
