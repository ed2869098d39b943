package config

import (
	"log"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	configPathEnv    = "TRADESCANNER_CONFIG"
	apiKeyEnv        = "ANTHROPIC_API_KEY"
	databaseDSNEnv   = "DATABASE_DSN"
	telegramTokenEnv = "TELEGRAM_BOT_TOKEN"
	telegramChatEnv  = "TELEGRAM_CHAT_ID"
)

// Version is reported in the output metadata and the CLI.
const Version = "1.0.0"

// Config holds high-level settings required across the application.
type Config struct {
	Logging       LoggingConfig      `yaml:"logging"`
	Archives      []ArchiveConfig    `yaml:"archives"`
	Crawler       CrawlerConfig      `yaml:"crawler"`
	Prefilter     PrefilterConfig    `yaml:"prefilter"`
	Truncation    TruncationConfig   `yaml:"truncation"`
	Claude        ClaudeConfig       `yaml:"claude"`
	Cache         CacheConfig        `yaml:"cache"`
	Pipeline      PipelineConfig     `yaml:"pipeline"`
	Output        OutputConfig       `yaml:"output"`
	Database      DatabaseConfig     `yaml:"database"`
	Notifications NotificationConfig `yaml:"notifications"`
	Scheduler     SchedulerConfig    `yaml:"scheduler"`
}

// LoggingConfig controls the slog handler.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// ArchiveConfig describes one source archive and the extractor strategy for it.
type ArchiveConfig struct {
	Name      string   `yaml:"name"`
	Extractor string   `yaml:"extractor"`
	Dir       string   `yaml:"dir"`
	Files     []string `yaml:"files"`
}

// CrawlerConfig tunes the resilient fetcher.
type CrawlerConfig struct {
	ShortLinkPrefix    string `yaml:"shortLinkPrefix"`
	UserAgent          string `yaml:"userAgent"`
	RequestTimeoutSecs int    `yaml:"requestTimeoutSeconds"`
	RequestDelayMillis int    `yaml:"requestDelayMillis"`
	MaxRetries         int    `yaml:"maxRetries"`
	RetryBackoffMillis int    `yaml:"retryBackoffMillis"`
}

// RequestTimeout resolves the per-request network timeout.
func (c CrawlerConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSecs) * time.Second
}

// RequestDelay is the politeness throttle applied after every live fetch.
func (c CrawlerConfig) RequestDelay() time.Duration {
	return time.Duration(c.RequestDelayMillis) * time.Millisecond
}

// RetryBackoffBase seeds the exponential backoff: base, 2*base, 4*base, ...
func (c CrawlerConfig) RetryBackoffBase() time.Duration {
	return time.Duration(c.RetryBackoffMillis) * time.Millisecond
}

// PrefilterConfig carries the keyword list for the cheap relevance gate.
type PrefilterConfig struct {
	Keywords []string `yaml:"keywords"`
}

// TruncationConfig bounds what gets sent to the classification API.
type TruncationConfig struct {
	MaxTokens      int `yaml:"maxTokens"`      // cap when truncation is enabled
	FullTextTokens int `yaml:"fullTextTokens"` // cap when truncation is disabled
	IntroTokens    int `yaml:"introTokens"`    // always-kept leading region
	WindowTokens   int `yaml:"windowTokens"`   // radius around each keyword hit
	CharsPerToken  int `yaml:"charsPerToken"`
}

// ModelPricing approximates API cost per million tokens.
type ModelPricing struct {
	InputPerMTok  float64 `yaml:"inputPerMtok"`
	OutputPerMTok float64 `yaml:"outputPerMtok"`
}

// ClaudeConfig defines how to contact the Anthropic messages API.
type ClaudeConfig struct {
	Endpoint      string                  `yaml:"endpoint"`
	APIVersion    string                  `yaml:"apiVersion"`
	APIKey        string                  `yaml:"apiKey"`
	DefaultModel  string                  `yaml:"defaultModel"`
	SonnetModel   string                  `yaml:"sonnetModel"`
	MaxTokens     int                     `yaml:"maxTokens"`
	PromptVersion string                  `yaml:"promptVersion"` // bump to invalidate the classification cache
	Pricing       map[string]ModelPricing `yaml:"pricing"`
}

// CacheConfig roots the three on-disk content-addressed stores.
type CacheConfig struct {
	Dir string `yaml:"dir"`
}

// RawDir holds fetched HTML pages keyed by URL hash.
func (c CacheConfig) RawDir() string { return filepath.Join(c.Dir, "raw") }

// TextsDir holds extracted bulletin text keyed by entry ID.
func (c CacheConfig) TextsDir() string { return filepath.Join(c.Dir, "texts") }

// ClassificationsDir holds raw classification results keyed by content hash.
func (c CacheConfig) ClassificationsDir() string { return filepath.Join(c.Dir, "classifications") }

// PipelineConfig bounds one run.
type PipelineConfig struct {
	MaxEntries     int    `yaml:"maxEntries"`
	DateRangeStart string `yaml:"dateRangeStart"`
	DateRangeEnd   string `yaml:"dateRangeEnd"`
}

// OutputConfig lists every destination the output document is written to.
type OutputConfig struct {
	Dirs     []string `yaml:"dirs"`
	Filename string   `yaml:"filename"`
}

// DatabaseConfig describes optional Postgres persistence.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

// NotificationConfig encapsulates outbound channels.
type NotificationConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
}

// TelegramConfig wires all data required to send messages.
type TelegramConfig struct {
	BotToken string `yaml:"botToken"`
	ChatID   string `yaml:"chatId"`
}

// SchedulerConfig enables recurring runs instead of a single shot.
type SchedulerConfig struct {
	Enabled       bool `yaml:"enabled"`
	IntervalHours int  `yaml:"intervalHours"`
}

// Interval resolves the recurrence interval, defaulting to daily.
func (s SchedulerConfig) Interval() time.Duration {
	if s.IntervalHours <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(s.IntervalHours) * time.Hour
}

// Load reads YAML configuration (if present) and applies environment overrides.
// An empty path falls back to the TRADESCANNER_CONFIG environment variable.
func Load(path string) Config {
	cfg := defaultConfig()

	if path == "" {
		path = os.Getenv(configPathEnv)
	}
	if path != "" {
		if raw, err := os.ReadFile(path); err != nil {
			log.Printf("config: cannot read %s: %v (falling back to defaults)", path, err)
		} else {
			var fileCfg Config
			if err := yaml.Unmarshal(raw, &fileCfg); err != nil {
				log.Printf("config: cannot parse %s: %v (falling back to defaults)", path, err)
			} else {
				cfg = mergeConfig(cfg, fileCfg)
			}
		}
	}

	cfg.applyEnvOverrides()
	return cfg
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(apiKeyEnv); v != "" {
		c.Claude.APIKey = v
	}
	if v := os.Getenv(databaseDSNEnv); v != "" {
		c.Database.DSN = v
	}
	if v := os.Getenv(telegramTokenEnv); v != "" {
		c.Notifications.Telegram.BotToken = v
	}
	if v := os.Getenv(telegramChatEnv); v != "" {
		c.Notifications.Telegram.ChatID = v
	}
}

func mergeConfig(base, override Config) Config {
	if override.Logging.Level != "" {
		base.Logging = override.Logging
	}
	if len(override.Archives) > 0 {
		base.Archives = override.Archives
	}

	if override.Crawler.ShortLinkPrefix != "" {
		base.Crawler.ShortLinkPrefix = override.Crawler.ShortLinkPrefix
	}
	if override.Crawler.UserAgent != "" {
		base.Crawler.UserAgent = override.Crawler.UserAgent
	}
	if override.Crawler.RequestTimeoutSecs > 0 {
		base.Crawler.RequestTimeoutSecs = override.Crawler.RequestTimeoutSecs
	}
	if override.Crawler.RequestDelayMillis > 0 {
		base.Crawler.RequestDelayMillis = override.Crawler.RequestDelayMillis
	}
	if override.Crawler.MaxRetries > 0 {
		base.Crawler.MaxRetries = override.Crawler.MaxRetries
	}
	if override.Crawler.RetryBackoffMillis > 0 {
		base.Crawler.RetryBackoffMillis = override.Crawler.RetryBackoffMillis
	}

	if len(override.Prefilter.Keywords) > 0 {
		base.Prefilter = override.Prefilter
	}

	if override.Truncation.MaxTokens > 0 {
		base.Truncation.MaxTokens = override.Truncation.MaxTokens
	}
	if override.Truncation.FullTextTokens > 0 {
		base.Truncation.FullTextTokens = override.Truncation.FullTextTokens
	}
	if override.Truncation.IntroTokens > 0 {
		base.Truncation.IntroTokens = override.Truncation.IntroTokens
	}
	if override.Truncation.WindowTokens > 0 {
		base.Truncation.WindowTokens = override.Truncation.WindowTokens
	}
	if override.Truncation.CharsPerToken > 0 {
		base.Truncation.CharsPerToken = override.Truncation.CharsPerToken
	}

	if override.Claude.Endpoint != "" {
		base.Claude.Endpoint = override.Claude.Endpoint
	}
	if override.Claude.APIVersion != "" {
		base.Claude.APIVersion = override.Claude.APIVersion
	}
	if override.Claude.APIKey != "" {
		base.Claude.APIKey = override.Claude.APIKey
	}
	if override.Claude.DefaultModel != "" {
		base.Claude.DefaultModel = override.Claude.DefaultModel
	}
	if override.Claude.SonnetModel != "" {
		base.Claude.SonnetModel = override.Claude.SonnetModel
	}
	if override.Claude.MaxTokens > 0 {
		base.Claude.MaxTokens = override.Claude.MaxTokens
	}
	if override.Claude.PromptVersion != "" {
		base.Claude.PromptVersion = override.Claude.PromptVersion
	}
	if len(override.Claude.Pricing) > 0 {
		base.Claude.Pricing = override.Claude.Pricing
	}

	if override.Cache.Dir != "" {
		base.Cache = override.Cache
	}

	if override.Pipeline.MaxEntries > 0 {
		base.Pipeline.MaxEntries = override.Pipeline.MaxEntries
	}
	if override.Pipeline.DateRangeStart != "" {
		base.Pipeline.DateRangeStart = override.Pipeline.DateRangeStart
	}
	if override.Pipeline.DateRangeEnd != "" {
		base.Pipeline.DateRangeEnd = override.Pipeline.DateRangeEnd
	}

	if len(override.Output.Dirs) > 0 {
		base.Output.Dirs = override.Output.Dirs
	}
	if override.Output.Filename != "" {
		base.Output.Filename = override.Output.Filename
	}

	if override.Database.DSN != "" {
		base.Database = override.Database
	}
	if override.Notifications.Telegram.BotToken != "" {
		base.Notifications.Telegram.BotToken = override.Notifications.Telegram.BotToken
	}
	if override.Notifications.Telegram.ChatID != "" {
		base.Notifications.Telegram.ChatID = override.Notifications.Telegram.ChatID
	}

	if override.Scheduler.Enabled {
		base.Scheduler.Enabled = true
	}
	if override.Scheduler.IntervalHours > 0 {
		base.Scheduler.IntervalHours = override.Scheduler.IntervalHours
	}

	return base
}

func defaultConfig() Config {
	return Config{
		Logging: LoggingConfig{Level: "info"},
		Archives: []ArchiveConfig{
			{
				Name:      "csms-archive",
				Extractor: "csms-archive",
				Dir:       filepath.Join("data", "source_pdfs"),
				Files: []string{
					"csms_archive_incl_dec2025.pdf",
					"csms_archive_incl_jan2026_508c.pdf",
				},
			},
		},
		Crawler: CrawlerConfig{
			ShortLinkPrefix:    "https://lnks.gd/",
			UserAgent:          "TradeScanner/1.0 (research project)",
			RequestTimeoutSecs: 15,
			RequestDelayMillis: 1500,
			MaxRetries:         3,
			RetryBackoffMillis: 10000,
		},
		Prefilter: PrefilterConfig{Keywords: defaultKeywords()},
		Truncation: TruncationConfig{
			MaxTokens:      3000,
			FullTextTokens: 10000,
			IntroTokens:    1500,
			WindowTokens:   300,
			CharsPerToken:  4,
		},
		Claude: ClaudeConfig{
			Endpoint:      "https://api.anthropic.com/v1/messages",
			APIVersion:    "2023-06-01",
			DefaultModel:  "claude-haiku-4-5-20251001",
			SonnetModel:   "claude-sonnet-4-20250514",
			MaxTokens:     4096,
			PromptVersion: "v1",
			Pricing: map[string]ModelPricing{
				"claude-haiku-4-5-20251001": {InputPerMTok: 0.80, OutputPerMTok: 4.00},
				"claude-sonnet-4-20250514":  {InputPerMTok: 3.00, OutputPerMTok: 15.00},
			},
		},
		Cache: CacheConfig{Dir: "cache"},
		Pipeline: PipelineConfig{
			MaxEntries:     200,
			DateRangeStart: "2025-01-20",
			DateRangeEnd:   "2026-02-20",
		},
		Output: OutputConfig{
			Dirs: []string{
				filepath.Join("frontend", "src", "data"),
				filepath.Join("frontend", "public", "data"),
			},
			Filename: "trade_actions.json",
		},
	}
}

func defaultKeywords() []string {
	return []string{
		"tariff", "tariffs", "duty", "duties", "customs duty",
		"quota", "quotas", "tariff-rate quota", "TRQ",
		"embargo", "embargoes",
		"sanction", "sanctions", "OFAC",
		"Section 301", "Section 201", "Section 232",
		"HTSUS", "HTS", "Harmonized Tariff",
		"antidumping", "anti-dumping", "countervailing",
		"exclusion", "exclusions",
		"import restriction", "export restriction",
		"trade remedy", "trade remedies",
		"additional duties", "retaliatory",
		"suspension of liquidation",
		"Federal Register", "trade action",
		"country of origin", "marking requirements",
		"IEEPA", "executive order", "proclamation",
		"reciprocal", "withhold release", "WRO",
		"forced labor", "UFLPA",
		"steel", "aluminum", "copper", "semiconductor",
		"automobile", "auto parts",
	}
}
