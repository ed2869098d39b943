package scanner

import (
	"context"
	"fmt"

	"TradeScanner/internal/domain"
)

// Request carries all parameters required to extract one archive source.
type Request struct {
	SourceName string
	Dir        string
	Files      []string
}

// Extractor captures a single archive-format strategy (CSMS PDF table, etc.).
type Extractor interface {
	Name() string
	Extract(ctx context.Context, req Request) ([]domain.Entry, error)
}

// Registry keeps a mapping from extractor names to their implementations.
type Registry struct {
	extractors map[string]Extractor
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{extractors: map[string]Extractor{}}
}

// Register adds or replaces an extractor implementation.
func (r *Registry) Register(e Extractor) {
	if r.extractors == nil {
		r.extractors = map[string]Extractor{}
	}
	r.extractors[e.Name()] = e
}

// Resolve returns an extractor by name or an error if it is absent.
func (r *Registry) Resolve(name string) (Extractor, error) {
	if e, ok := r.extractors[name]; ok {
		return e, nil
	}
	return nil, fmt.Errorf("extractor %s is not registered", name)
}
