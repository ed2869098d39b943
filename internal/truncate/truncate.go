// Package truncate bounds bulletin text before it is sent to the
// classification API, keeping the intro plus windows around keyword hits.
package truncate

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"TradeScanner/internal/config"
)

// noteReserve is the character headroom kept for the framing note.
const noteReserve = 200

const framingNote = "[NOTE: This text has been extracted from key sections of a longer document. " +
	"Some context may be missing.]\n\n"

const elisionMarker = "\n\n[...]\n\n"

// window is a half-open [start, end) span into the post-intro text.
type window struct {
	start, end int
}

// Truncator shrinks long texts deterministically: identical input and
// configuration always yield byte-identical output, which keeps the
// classification cache key stable across runs.
type Truncator struct {
	cfg      config.TruncationConfig
	keywords []string
	logger   *slog.Logger
}

// New builds a Truncator over the configured keyword list.
func New(cfg config.TruncationConfig, keywords []string, logger *slog.Logger) *Truncator {
	lowered := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		lowered = append(lowered, strings.ToLower(kw))
	}
	return &Truncator{cfg: cfg, keywords: lowered, logger: logger}
}

func (t *Truncator) tokenEstimate(text string) int {
	return len(text) / t.cfg.CharsPerToken
}

// Truncate returns a bounded-length text suitable to send onward.
// When disabled it caps at the full-text token budget instead.
func (t *Truncator) Truncate(text string, enabled bool) string {
	if text == "" {
		return ""
	}

	if !enabled {
		maxChars := t.cfg.FullTextTokens * t.cfg.CharsPerToken
		if len(text) > maxChars {
			t.debug("full-text mode, capping", "tokens", t.cfg.FullTextTokens)
			return text[:maxChars]
		}
		return text
	}

	estimated := t.tokenEstimate(text)
	if estimated <= t.cfg.MaxTokens {
		return text
	}

	maxChars := t.cfg.MaxTokens * t.cfg.CharsPerToken
	introChars := t.cfg.IntroTokens * t.cfg.CharsPerToken
	windowChars := t.cfg.WindowTokens * t.cfg.CharsPerToken

	intro := text[:min(introChars, len(text))]
	rest := text[len(intro):]

	windows := t.keywordWindows(rest, windowChars)
	if len(windows) == 0 {
		return fmt.Sprintf(
			"[NOTE: Truncated to first %d tokens. No keyword matches in remainder.]\n\n%s",
			t.cfg.IntroTokens, intro,
		)
	}

	merged := mergeWindows(windows)

	parts := []string{intro}
	budget := maxChars - len(intro) - noteReserve
	for _, w := range merged {
		if budget <= 0 {
			break
		}
		chunk := rest[w.start:w.end]
		if len(chunk) > budget {
			parts = append(parts, elisionMarker+chunk[:budget])
			break
		}
		parts = append(parts, elisionMarker+chunk)
		budget -= len(chunk) + 10
	}

	result := framingNote + strings.Join(parts, "")
	t.debug("truncated", "from_tokens", estimated, "to_tokens", t.tokenEstimate(result))
	return result
}

// keywordWindows collects a clipped window of fixed radius around every
// occurrence of every keyword, case-insensitive.
func (t *Truncator) keywordWindows(rest string, radius int) []window {
	lower := strings.ToLower(rest)
	var windows []window

	for _, kw := range t.keywords {
		start := 0
		for {
			idx := strings.Index(lower[start:], kw)
			if idx == -1 {
				break
			}
			idx += start
			windows = append(windows, window{
				start: max(0, idx-radius),
				end:   min(len(rest), idx+len(kw)+radius),
			})
			start = idx + len(kw)
		}
	}
	return windows
}

// mergeWindows sorts windows by start and collapses any window whose start
// falls at or before the previous window's end, yielding a minimal ordered
// set of non-overlapping spans.
func mergeWindows(windows []window) []window {
	sort.Slice(windows, func(i, j int) bool {
		if windows[i].start != windows[j].start {
			return windows[i].start < windows[j].start
		}
		return windows[i].end < windows[j].end
	})

	merged := []window{windows[0]}
	for _, w := range windows[1:] {
		last := &merged[len(merged)-1]
		if w.start <= last.end {
			last.end = max(last.end, w.end)
		} else {
			merged = append(merged, w)
		}
	}
	return merged
}

func (t *Truncator) debug(msg string, args ...any) {
	if t.logger != nil {
		t.logger.Debug(msg, args...)
	}
}
