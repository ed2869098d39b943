package parser

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/ledongthuc/pdf"

	"TradeScanner/internal/domain"
	"TradeScanner/internal/scanner"
)

const (
	// lineTolerance is the vertical clustering distance in points: a text run
	// belongs to an anchor's row when its baseline is within this distance of
	// the anchor rectangle's vertical origin.
	lineTolerance = 8.0

	// sameLineTolerance separates duplicate anchors on one row from genuine
	// continuation-line anchors for the same URL.
	sameLineTolerance = 4.0

	// wordGap is the horizontal distance beyond which two adjacent text runs
	// are separated by a space when a row is assembled.
	wordGap = 1.0
)

var (
	dateExpr = regexp.MustCompile(`\d{1,2}/\d{1,2}/\d{4}`)
	idExpr   = regexp.MustCompile(`^(\d{7,9})\s+`)
)

// textRun is one positioned text fragment on a page.
type textRun struct {
	X, Y, W float64
	S       string
}

// linkRect is one hyperlink annotation rectangle with its target URL.
type linkRect struct {
	URL            string
	X0, Y0, X1, Y1 float64
}

// originY is the anchor's vertical origin used for row association.
func (l linkRect) originY() float64 {
	if l.Y0 < l.Y1 {
		return l.Y0
	}
	return l.Y1
}

// ArchiveExtractor parses CSMS archive PDFs: each entry is a table row
// "CSMS# Title Date" carrying a short-link hyperlink on the title text.
type ArchiveExtractor struct {
	shortLinkPrefix string
	logger          *slog.Logger
}

var _ scanner.Extractor = (*ArchiveExtractor)(nil)

// NewArchiveExtractor keeps only hyperlinks matching the short-link prefix.
func NewArchiveExtractor(shortLinkPrefix string, logger *slog.Logger) *ArchiveExtractor {
	return &ArchiveExtractor{shortLinkPrefix: shortLinkPrefix, logger: logger}
}

// Name identifies the strategy inside the registry.
func (a *ArchiveExtractor) Name() string {
	return "csms-archive"
}

// Extract parses every listed archive file. A missing or unparseable file is
// logged and skipped; it never fails the whole source.
func (a *ArchiveExtractor) Extract(ctx context.Context, req scanner.Request) ([]domain.Entry, error) {
	var entries []domain.Entry
	for _, name := range req.Files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		path := filepath.Join(req.Dir, name)
		if _, err := os.Stat(path); err != nil {
			a.warn("archive file not found", "path", path)
			continue
		}

		fileEntries, err := a.parseFile(path)
		if err != nil {
			a.warn("cannot parse archive file", "path", path, "error", err)
			continue
		}
		a.info("parsed archive file", "path", path, "entries", len(fileEntries))
		entries = append(entries, fileEntries...)
	}
	return entries, nil
}

func (a *ArchiveExtractor) parseFile(path string) (entries []domain.Entry, err error) {
	// The pdf library panics on malformed files.
	defer func() {
		if r := recover(); r != nil {
			entries = nil
			err = fmt.Errorf("parse %s: %v", path, r)
		}
	}()

	f, reader, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	for pageNum := 1; pageNum <= reader.NumPage(); pageNum++ {
		page := reader.Page(pageNum)
		if page.V.IsNull() {
			continue
		}
		links := a.pageLinks(page)
		if len(links) == 0 {
			continue
		}
		runs := pageRuns(page)
		entries = append(entries, entriesFromPage(links, runs)...)
	}
	return entries, nil
}

// pageLinks walks the page's link annotations and keeps those whose target
// matches the short-link prefix, in annotation order.
func (a *ArchiveExtractor) pageLinks(page pdf.Page) []linkRect {
	annots := page.V.Key("Annots")
	if annots.Kind() != pdf.Array {
		return nil
	}

	var links []linkRect
	for i := 0; i < annots.Len(); i++ {
		annot := annots.Index(i)
		if annot.Key("Subtype").Name() != "Link" {
			continue
		}
		uri := annot.Key("A").Key("URI")
		if uri.Kind() != pdf.String {
			continue
		}
		target := uri.RawString()
		if !strings.HasPrefix(target, a.shortLinkPrefix) {
			continue
		}
		rect := annot.Key("Rect")
		if rect.Kind() != pdf.Array || rect.Len() != 4 {
			continue
		}
		links = append(links, linkRect{
			URL: target,
			X0:  rect.Index(0).Float64(),
			Y0:  rect.Index(1).Float64(),
			X1:  rect.Index(2).Float64(),
			Y1:  rect.Index(3).Float64(),
		})
	}
	return links
}

func pageRuns(page pdf.Page) []textRun {
	content := page.Content()
	runs := make([]textRun, 0, len(content.Text))
	for _, t := range content.Text {
		runs = append(runs, textRun{X: t.X, Y: t.Y, W: t.W, S: t.S})
	}
	return runs
}

// entriesFromPage correlates link rectangles with text rows. Only the first
// rectangle per unique URL starts an entry; further rectangles for the same
// URL are continuation lines of a wrapped row.
func entriesFromPage(links []linkRect, runs []textRun) []domain.Entry {
	var order []string
	first := map[string]linkRect{}
	for _, l := range links {
		if _, ok := first[l.URL]; !ok {
			first[l.URL] = l
			order = append(order, l.URL)
		}
	}

	var entries []domain.Entry
	for _, url := range order {
		anchor := first[url]

		rowText := lineText(runs, anchor.originY())
		if strings.TrimSpace(rowText) == "" {
			continue
		}

		idMatch := idExpr.FindStringSubmatch(rowText)
		if idMatch == nil {
			continue
		}
		id := idMatch[1]
		title := strings.TrimSpace(rowText[len(idMatch[0]):])

		// The date may sit on the first line or only on a wrapped
		// continuation line; first match wins.
		lines := []string{rowText}
		var continuation []string
		for _, l := range links {
			if l.URL != url || sameLine(l, anchor) {
				continue
			}
			contText := lineText(runs, l.originY())
			lines = append(lines, contText)
			continuation = append(continuation, stripDate(contText))
		}
		dateToken := firstDate(lines)

		title = stripDate(title)
		if cont := strings.TrimSpace(strings.Join(continuation, " ")); cont != "" {
			title = title + " " + cont
		}

		isoDate, ok := parseDate(dateToken)
		if !ok {
			continue
		}

		entries = append(entries, domain.Entry{
			ID:       id,
			Title:    strings.TrimSpace(title),
			Date:     isoDate,
			ShortURL: url,
		})
	}
	return entries
}

func sameLine(a, b linkRect) bool {
	d := a.originY() - b.originY()
	if d < 0 {
		d = -d
	}
	return d < sameLineTolerance
}

// lineText gathers every run within lineTolerance of y, sorted by horizontal
// position, and assembles them into a row string.
func lineText(runs []textRun, y float64) string {
	var row []textRun
	for _, r := range runs {
		d := r.Y - y
		if d < 0 {
			d = -d
		}
		if d < lineTolerance {
			row = append(row, r)
		}
	}
	sort.Slice(row, func(i, j int) bool { return row[i].X < row[j].X })

	var b strings.Builder
	for i, r := range row {
		if i > 0 && r.X-(row[i-1].X+row[i-1].W) > wordGap {
			b.WriteByte(' ')
		}
		b.WriteString(r.S)
	}
	return b.String()
}

func firstDate(lines []string) string {
	for _, line := range lines {
		if m := dateExpr.FindString(line); m != "" {
			return m
		}
	}
	return ""
}

func stripDate(text string) string {
	if loc := dateExpr.FindStringIndex(text); loc != nil {
		return strings.TrimSpace(text[:loc[0]])
	}
	return strings.TrimSpace(text)
}

func parseDate(token string) (string, bool) {
	if token == "" {
		return "", false
	}
	t, err := time.Parse("1/2/2006", token)
	if err != nil {
		return "", false
	}
	return t.Format("2006-01-02"), true
}

// dedupeAndSort drops later duplicates by ID and orders the combined list by
// date, most recent first.
func dedupeAndSort(entries []domain.Entry) []domain.Entry {
	seen := map[string]struct{}{}
	unique := make([]domain.Entry, 0, len(entries))
	for _, e := range entries {
		if _, ok := seen[e.ID]; ok {
			continue
		}
		seen[e.ID] = struct{}{}
		unique = append(unique, e)
	}

	sort.SliceStable(unique, func(i, j int) bool { return unique[i].Date > unique[j].Date })
	return unique
}

func (a *ArchiveExtractor) info(msg string, args ...any) {
	if a.logger != nil {
		a.logger.Info(msg, args...)
	}
}

func (a *ArchiveExtractor) warn(msg string, args ...any) {
	if a.logger != nil {
		a.logger.Warn(msg, args...)
	}
}
