package storage

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"TradeScanner/internal/domain"
	"TradeScanner/internal/ports"
)

// JSONWriter writes the run output document atomically to each configured
// destination directory (temp file, then rename).
type JSONWriter struct {
	dirs     []string
	filename string
	logger   *slog.Logger
}

var _ ports.OutputWriter = (*JSONWriter)(nil)

// NewJSONWriter wires the destination directories and output filename.
func NewJSONWriter(dirs []string, filename string, logger *slog.Logger) *JSONWriter {
	return &JSONWriter{dirs: dirs, filename: filename, logger: logger}
}

// Write renders the output once and delivers it to every destination.
func (w *JSONWriter) Write(output *domain.PipelineOutput) error {
	data, err := json.MarshalIndent(output, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal output: %w", err)
	}

	for _, dir := range w.dirs {
		if err := w.writeOne(dir, data); err != nil {
			return err
		}
	}
	return nil
}

func (w *JSONWriter) writeOne(dir string, data []byte) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output dir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".trade_actions-*.json")
	if err != nil {
		return fmt.Errorf("create temp output: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write output: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close temp output: %w", err)
	}

	dest := filepath.Join(dir, w.filename)
	if err := os.Rename(tmp.Name(), dest); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("rename output into place: %w", err)
	}

	if w.logger != nil {
		w.logger.Info("output written", "path", dest)
	}
	return nil
}
