// Package llm sends pre-filtered, truncated bulletin text to the Anthropic
// messages API and extracts zero or more structured trade actions.
package llm

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"TradeScanner/internal/config"
	"TradeScanner/internal/domain"
	"TradeScanner/internal/ports"
)

const systemPrompt = `You are a U.S. trade policy analyst extracting structured data from CSMS (Cargo Systems Messaging Service) bulletins published by U.S. Customs and Border Protection. Your task is to identify trade actions described in the bulletin and return structured JSON.

Rules:
- Return a JSON array of trade action objects. Return [] if no trade actions found.
- Each object must match the schema exactly.
- country names: use common English names (e.g., "China", "Canada"). Use "All" for global measures. Use "Multiple" only if the text lists specific countries you cannot identify.
- dates: ISO 8601 (YYYY-MM-DD) or null if not stated.
- raw_excerpt: max 200 characters, the most relevant quote from the source.
- duty_rate: include the percentage or description (e.g., "25%", "10% energy resources").
- federal_authority: the legal authority (e.g., "Section 232", "Executive Order 14195", "Section 301 of the Trade Act of 1974").
- status: "active" for currently in effect, "pending" if future effective date, "expired" if explicitly ended, "superseded" if replaced by a newer action.
- action_type: choose the most specific type.
- hs_codes: extract any HTS/HTSUS subheading numbers mentioned (e.g., "9903.01.20", "8471.50").
- If text appears truncated, extract what you can. Note truncation does not mean no action.
- UPDATE/CORRECTION messages may describe modifications to prior actions. Classify as "modification" if they change rates/dates, or use the underlying action_type if they provide new guidance.`

const fewShotExamples = `
Example input:
CSMS # 64348288 - GUIDANCE: Import Duties on Imports of Aluminum and Aluminum Derivative Products
The purpose of this message is to provide guidance on the March 12, 2025, Proclamation...
imposes 25 percent ad valorem duties on certain imports of aluminum articles...
9903.45.01: Aluminum articles classifiable under HTSUS provisions...

Example output:
[
  {
    "title": "Section 232 Aluminum and Derivative Product Duties",
    "summary": "25% ad valorem duties on imports of aluminum and aluminum derivative products from all countries, effective March 12, 2025, pursuant to Section 232.",
    "action_type": "tariff",
    "countries_affected": ["All"],
    "hs_codes": ["9903.45.01"],
    "effective_date": "2025-03-12",
    "expiration_date": null,
    "status": "active",
    "federal_authority": "Section 232 of the Trade Expansion Act of 1962",
    "duty_rate": "25%",
    "raw_excerpt": "imposes 25 percent ad valorem duties on certain imports of aluminum articles"
  }
]

Example input (no trade action):
CSMS # 67557993 - Resolved – ACE Reports 524 Time Out Error
CBP has completed troubleshooting its network connections. EDI message processing has resumed.

Example output:
[]`

// ClaudeClient implements ports.Classifier backed by the Anthropic API.
type ClaudeClient struct {
	endpoint     string
	apiVersion   string
	apiKey       string
	defaultModel string
	maxTokens    int
	pricing      map[string]config.ModelPricing
	cache        ports.ClassificationCache
	httpClient   *http.Client
	logger       *slog.Logger
}

var _ ports.Classifier = (*ClaudeClient)(nil)

// NewClaudeClient builds a client from configuration with an injected cache.
func NewClaudeClient(cfg config.ClaudeConfig, clsCache ports.ClassificationCache, logger *slog.Logger) *ClaudeClient {
	return &ClaudeClient{
		endpoint:     cfg.Endpoint,
		apiVersion:   cfg.APIVersion,
		apiKey:       cfg.APIKey,
		defaultModel: cfg.DefaultModel,
		maxTokens:    cfg.MaxTokens,
		pricing:      cfg.Pricing,
		cache:        clsCache,
		httpClient:   &http.Client{Timeout: 120 * time.Second},
		logger:       logger,
	}
}

type messageRequest struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	System    string    `json:"system"`
	Messages  []message `json:"messages"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messageResponse struct {
	Content []struct {
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// Classify extracts trade actions from bulletin text. A cache hit consumes
// zero tokens and skips the network entirely; validation of the raw result
// list runs on every path, cache or fresh.
func (c *ClaudeClient) Classify(ctx context.Context, entry domain.Entry, text, model string) ([]domain.TradeAction, domain.Usage, error) {
	if model == "" {
		model = c.defaultModel
	}

	if c.cache != nil {
		if cached, ok := c.cache.Lookup(text, model); ok {
			return c.parseActions(cached, entry), domain.Usage{}, nil
		}
	}

	if c.apiKey == "" {
		return nil, domain.Usage{}, domain.ErrMissingAPIKey
	}

	body, err := json.Marshal(messageRequest{
		Model:     model,
		MaxTokens: c.maxTokens,
		System:    systemPrompt + "\n\n" + fewShotExamples,
		Messages:  []message{{Role: "user", Content: buildUserPrompt(entry, text)}},
	})
	if err != nil {
		return nil, domain.Usage{}, fmt.Errorf("marshal classification payload: %w", err)
	}

	c.info("classification call", "id", entry.ID, "model", model)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, domain.Usage{}, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", c.apiVersion)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, domain.Usage{}, fmt.Errorf("classification request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, domain.Usage{}, fmt.Errorf("classification error %s: %s", resp.Status, strings.TrimSpace(string(payload)))
	}

	var decoded messageResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, domain.Usage{}, fmt.Errorf("decode classification response: %w", err)
	}

	usage := domain.Usage{
		InputTokens:  decoded.Usage.InputTokens,
		OutputTokens: decoded.Usage.OutputTokens,
	}

	var rawText string
	if len(decoded.Content) > 0 {
		rawText = strings.TrimSpace(decoded.Content[0].Text)
	}

	raw := c.parseResultList(entry.ID, rawText)

	if c.cache != nil {
		if err := c.cache.Store(text, model, raw); err != nil {
			c.warn("cannot cache classification", "id", entry.ID, "error", err)
		}
	}

	return c.parseActions(raw, entry), usage, nil
}

// parseResultList unwraps possible markdown fences and parses the JSON array.
// A non-JSON or non-array response counts as zero results, not an error.
func (c *ClaudeClient) parseResultList(entryID, rawText string) []map[string]any {
	jsonStr := rawText
	if idx := strings.Index(jsonStr, "```json"); idx != -1 {
		jsonStr = jsonStr[idx+len("```json"):]
		if end := strings.Index(jsonStr, "```"); end != -1 {
			jsonStr = jsonStr[:end]
		}
	} else if idx := strings.Index(jsonStr, "```"); idx != -1 {
		jsonStr = jsonStr[idx+len("```"):]
		if end := strings.Index(jsonStr, "```"); end != -1 {
			jsonStr = jsonStr[:end]
		}
	}

	var raw []map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(jsonStr)), &raw); err != nil {
		preview := rawText
		if len(preview) > 200 {
			preview = preview[:200]
		}
		c.warn("invalid JSON from classification service", "id", entryID, "raw", preview)
		return []map[string]any{}
	}
	return raw
}

// parseActions validates raw dicts field by field with defaults, skipping
// individual malformed items while keeping the rest.
func (c *ClaudeClient) parseActions(raw []map[string]any, entry domain.Entry) []domain.TradeAction {
	sourceURL := entry.ResolvedURL
	if sourceURL == "" {
		sourceURL = entry.ShortURL
	}

	actions := make([]domain.TradeAction, 0, len(raw))
	for i, item := range raw {
		actionType := stringField(item, "action_type", "other")
		if !domain.ActionTypes[actionType] {
			c.warn("skipping action with unknown type", "id", entry.ID, "index", i, "action_type", actionType)
			continue
		}
		status := stringField(item, "status", "active")
		if !domain.Statuses[status] {
			c.warn("skipping action with unknown status", "id", entry.ID, "index", i, "status", status)
			continue
		}

		excerpt := stringField(item, "raw_excerpt", "")
		if len(excerpt) > 200 {
			excerpt = excerpt[:200]
		}

		actions = append(actions, domain.TradeAction{
			ID:                actionID(entry.ID, actionType, i),
			SourceEntryID:     "CSMS #" + entry.ID,
			SourceURL:         sourceURL,
			Title:             stringField(item, "title", entry.Title),
			Summary:           stringField(item, "summary", ""),
			ActionType:        actionType,
			CountriesAffected: stringListField(item, "countries_affected"),
			HSCodes:           stringListField(item, "hs_codes"),
			EffectiveDate:     stringField(item, "effective_date", ""),
			ExpirationDate:    stringField(item, "expiration_date", ""),
			Status:            status,
			FederalAuthority:  stringField(item, "federal_authority", ""),
			DutyRate:          stringField(item, "duty_rate", ""),
			RawExcerpt:        excerpt,
		})
	}
	return actions
}

// actionID is deterministic for a given entry, action type, and position.
func actionID(entryID, actionType string, index int) string {
	key := fmt.Sprintf("%s-%s-%d", entryID, actionType, index)
	sum := sha256.Sum256([]byte(key))
	return fmt.Sprintf("csms-%s-%s", entryID, hex.EncodeToString(sum[:])[:8])
}

// EstimateCost approximates the API cost in USD from token counts.
func (c *ClaudeClient) EstimateCost(inputTokens, outputTokens int, model string) float64 {
	pricing, ok := c.pricing[model]
	if !ok {
		pricing = c.pricing[c.defaultModel]
	}
	inputCost := float64(inputTokens) / 1_000_000 * pricing.InputPerMTok
	outputCost := float64(outputTokens) / 1_000_000 * pricing.OutputPerMTok
	return inputCost + outputCost
}

func buildUserPrompt(entry domain.Entry, text string) string {
	return fmt.Sprintf(
		"CSMS #%s - %s - Date: %s\n\nFull bulletin text:\n%s\n\nExtract all trade actions from this bulletin. Return a JSON array.",
		entry.ID, entry.Title, entry.Date, text,
	)
}

func stringField(item map[string]any, key, fallback string) string {
	if v, ok := item[key].(string); ok {
		return v
	}
	return fallback
}

func stringListField(item map[string]any, key string) []string {
	raw, ok := item[key].([]any)
	if !ok {
		return []string{}
	}
	list := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			list = append(list, s)
		}
	}
	return list
}

func (c *ClaudeClient) info(msg string, args ...any) {
	if c.logger != nil {
		c.logger.Info(msg, args...)
	}
}

func (c *ClaudeClient) warn(msg string, args ...any) {
	if c.logger != nil {
		c.logger.Warn(msg, args...)
	}
}
