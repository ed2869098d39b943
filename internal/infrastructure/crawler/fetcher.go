// Package crawler resolves short-link URLs to full bulletin text over HTTP,
// with two-tier caching, retry with backoff, and a politeness throttle.
package crawler

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/sethvargo/go-retry"
	"golang.org/x/net/html"

	"TradeScanner/internal/config"
	"TradeScanner/internal/domain"
	"TradeScanner/internal/infrastructure/cache"
	"TradeScanner/internal/ports"
)

// Hosting-platform boilerplate prepended below the bulletin content; text is
// cut at the first occurrence.
var cutoffPhrases = []string{
	"Update your subscriptions",
	"Subscriber Preferences Page",
	"This service is provided to you at no charge",
	"Powered by\nPrivacy Policy",
}

// Fetcher resolves an entry's short link to (resolved URL, full text) via at
// most two HTTP hops. Both the HTTP client and the cache stores are injected.
type Fetcher struct {
	client *http.Client
	raw    *cache.Store
	texts  *cache.Store
	cfg    config.CrawlerConfig
	logger *slog.Logger
	sleep  func(time.Duration)
}

var _ ports.BulletinFetcher = (*Fetcher)(nil)

// NewFetcher wires an HTTP client and cache stores; a nil client gets a
// default with the configured request timeout.
func NewFetcher(client *http.Client, raw, texts *cache.Store, cfg config.CrawlerConfig, logger *slog.Logger) *Fetcher {
	if client == nil {
		client = &http.Client{Timeout: cfg.RequestTimeout()}
	}
	return &Fetcher{
		client: client,
		raw:    raw,
		texts:  texts,
		cfg:    cfg,
		logger: logger,
		sleep:  time.Sleep,
	}
}

// FetchAll fetches each entry independently, enriching it in place. Entries
// lacking a short link are recorded as errors and produce no network activity;
// any other per-entry failure is recorded and does not stop the batch.
func (f *Fetcher) FetchAll(ctx context.Context, entries []domain.Entry) ([]domain.Entry, []domain.PipelineError) {
	var errs []domain.PipelineError
	fetched := 0

	for i := range entries {
		entry := &entries[i]

		if entry.ShortURL == "" {
			f.warn("no short link for entry", "id", entry.ID)
			errs = append(errs, domain.PipelineError{
				EntryID: entry.ID,
				Error:   "no short link found in archive",
			})
			continue
		}

		f.info("fetching bulletin", "progress", fmt.Sprintf("%d/%d", i+1, len(entries)), "id", entry.ID, "title", entry.Title)

		resolvedURL, text, err := f.FetchBulletin(ctx, entry.ShortURL, entry.ID)
		if err != nil {
			f.warn("fetch failed", "id", entry.ID, "error", err)
			errs = append(errs, domain.PipelineError{
				EntryID: entry.ID,
				URL:     entry.ShortURL,
				Error:   err.Error(),
			})
			continue
		}

		if resolvedURL != "" {
			entry.ResolvedURL = resolvedURL
		}
		if text == "" {
			errs = append(errs, domain.PipelineError{
				EntryID: entry.ID,
				URL:     entry.ShortURL,
				Error:   "no text extracted from bulletin",
			})
			continue
		}

		entry.FullText = text
		fetched++
	}

	f.info("fetch complete", "retrieved", fetched, "total", len(entries), "errors", len(errs))
	return entries, errs
}

// FetchBulletin resolves a short link to full bulletin text. Two scenarios:
// the HTTP client follows redirects and lands on the bulletin page directly,
// or the short-link host serves a client-side redirect stub whose destination
// anchor points at the real page, requiring one more fetch.
func (f *Fetcher) FetchBulletin(ctx context.Context, shortURL, entryID string) (string, string, error) {
	// Text cache keyed by entry ID is the cheapest path: no network, no
	// HTML reprocessing. The exact resolved URL is unknown from cache.
	if text, ok := f.texts.Get(entryID); ok {
		f.debug("text cache hit", "id", entryID)
		return shortURL, text, nil
	}

	htmlBody, finalURL, err := f.cachedFetch(ctx, shortURL)
	if err != nil {
		return "", "", err
	}

	if isBulletinPage(htmlBody) {
		text, err := f.extractAndCache(htmlBody, entryID)
		return finalURL, text, err
	}

	destination := resolveRedirectStub(htmlBody)
	if destination == "" {
		return "", "", fmt.Errorf("cannot resolve redirect stub for %s", shortURL)
	}

	htmlBody, _, err = f.cachedFetch(ctx, destination)
	if err != nil {
		return destination, "", err
	}

	text, err := f.extractAndCache(htmlBody, entryID)
	return destination, text, err
}

// cachedFetch returns the page body for url, consulting the raw cache first.
// Every live fetch persists the raw body before any further processing, then
// honors the politeness delay.
func (f *Fetcher) cachedFetch(ctx context.Context, url string) (string, string, error) {
	key := cache.URLKey(url)
	if body, ok := f.raw.Get(key); ok {
		f.debug("raw cache hit", "url", url)
		return body, url, nil
	}

	body, finalURL, err := f.fetchWithRetry(ctx, url)
	if err != nil {
		return "", "", err
	}

	if err := f.raw.Put(key, body); err != nil {
		return "", "", fmt.Errorf("cache raw page: %w", err)
	}
	f.info("fetched", "url", url, "final_url", finalURL)
	f.sleep(f.cfg.RequestDelay())
	return body, finalURL, nil
}

// fetchWithRetry issues a single GET with redirect following. 429 and 5xx
// responses retry with exponential backoff (base * 2^attempt) up to the
// attempt budget; other non-2xx statuses abort without retry; a transport
// failure is retried once after the base delay, then given up.
func (f *Fetcher) fetchWithRetry(ctx context.Context, url string) (string, string, error) {
	attempts := f.cfg.MaxRetries
	if attempts < 1 {
		attempts = 1
	}
	base := f.cfg.RetryBackoffBase()
	if base <= 0 {
		base = time.Millisecond
	}
	backoff := retry.WithMaxRetries(uint64(attempts-1), retry.NewExponential(base))

	var body, finalURL string
	transportFailures := 0

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("User-Agent", f.cfg.UserAgent)

		resp, err := f.client.Do(req)
		if err != nil {
			transportFailures++
			if transportFailures > 1 {
				return fmt.Errorf("request %s: %w", url, err)
			}
			f.warn("request error, retrying", "url", url, "error", err)
			return retry.RetryableError(err)
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusOK {
			raw, err := io.ReadAll(resp.Body)
			if err != nil {
				return fmt.Errorf("read body from %s: %w", url, err)
			}
			body = string(raw)
			finalURL = resp.Request.URL.String()
			return nil
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError {
			f.warn("retryable status", "status", resp.StatusCode, "url", url)
			return retry.RetryableError(fmt.Errorf("HTTP %d from %s", resp.StatusCode, url))
		}

		return fmt.Errorf("HTTP %d from %s", resp.StatusCode, url)
	})
	if err != nil {
		return "", "", err
	}
	return body, finalURL, nil
}

func (f *Fetcher) extractAndCache(htmlBody, entryID string) (string, error) {
	text, err := extractBulletinText(htmlBody)
	if err != nil {
		return "", err
	}
	if text != "" {
		if err := f.texts.Put(entryID, text); err != nil {
			return "", fmt.Errorf("cache bulletin text: %w", err)
		}
	}
	return text, nil
}

// isBulletinPage detects a final content page heuristically: a document-type
// marker or the bulletin token near the start of the body.
func isBulletinPage(body string) bool {
	head := body
	if len(head) > 500 {
		head = head[:500]
	}
	doctype := head
	if len(doctype) > 200 {
		doctype = doctype[:200]
	}
	return strings.Contains(doctype, "<!DOCTYPE html") || strings.Contains(head, "CSMS #")
}

// resolveRedirectStub extracts the destination URL from a client-side
// redirect page, or returns "" when the page is not such a stub.
func resolveRedirectStub(body string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return ""
	}
	href, _ := doc.Find("a#destination").First().Attr("href")
	return href
}

// extractBulletinText locates the bulletin content container, falls back to
// the document body and then the whole document, and cuts the text at the
// first hosting-platform boilerplate phrase.
func extractBulletinText(body string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("parse bulletin html: %w", err)
	}

	doc.Find("script, style, nav, footer").Remove()

	sel := doc.Find("div.bulletin-body").First()
	if sel.Length() == 0 {
		sel = doc.Find("div.bulletin-content").First()
	}
	if sel.Length() == 0 {
		sel = doc.Find("div#bulletin-body").First()
	}
	if sel.Length() == 0 {
		sel = doc.Find("div#bulletin-content").First()
	}
	if sel.Length() == 0 {
		sel = doc.Find("body").First()
	}
	if sel.Length() == 0 {
		sel = doc.Selection
	}

	text := nodeText(sel)

	for _, phrase := range cutoffPhrases {
		if idx := strings.Index(text, phrase); idx > 0 {
			text = strings.TrimSpace(text[:idx])
			break
		}
	}

	return text, nil
}

// nodeText renders a selection as trimmed text lines joined by newlines.
func nodeText(sel *goquery.Selection) string {
	var lines []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			if trimmed := strings.TrimSpace(n.Data); trimmed != "" {
				lines = append(lines, trimmed)
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, n := range sel.Nodes {
		walk(n)
	}
	return strings.Join(lines, "\n")
}

func (f *Fetcher) info(msg string, args ...any) {
	if f.logger != nil {
		f.logger.Info(msg, args...)
	}
}

func (f *Fetcher) warn(msg string, args ...any) {
	if f.logger != nil {
		f.logger.Warn(msg, args...)
	}
}

func (f *Fetcher) debug(msg string, args ...any) {
	if f.logger != nil {
		f.logger.Debug(msg, args...)
	}
}
