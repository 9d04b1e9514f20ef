package matching

import (
	"context"
	"errors"
	"fmt"

	"github.com/helixir/doab-reference-service/internal/domain"
	"github.com/helixir/doab-reference-service/internal/parsers"
)

// Resolution is a parsed citation and the references it matched.
type Resolution struct {
	Parser string
	Record domain.Record
	Result *Result
}

// Resolver matches free-text citations against the corpus.
type Resolver struct {
	engine        *Engine
	registry      *parsers.Registry
	defaultParser string
}

// NewResolver creates a resolver. defaultParser is used when a call names
// no parser.
func NewResolver(engine *Engine, registry *parsers.Registry, defaultParser string) *Resolver {
	if defaultParser == "" {
		defaultParser = parsers.NameCermine
	}
	return &Resolver{engine: engine, registry: registry, defaultParser: defaultParser}
}

// ResolveCitation cleans and parses the citation with the named parser, then
// matches the structured result. Returns domain.ErrNoMatch when the parser
// cannot extract a titled record.
func (r *Resolver) ResolveCitation(ctx context.Context, citation, parserName string, scope domain.MatchScope) (*Resolution, error) {
	if parserName == "" {
		parserName = r.defaultParser
	}
	parser, ok := r.registry.Get(parserName)
	if !ok {
		return nil, domain.NewValidationError("parser", fmt.Sprintf("unknown parser %q", parserName))
	}

	cleaned := parser.Clean(citation)
	if cleaned == "" {
		return nil, domain.NewValidationError("citation", "citation is required")
	}

	rec, err := parser.Parse(ctx, cleaned)
	if err != nil {
		if errors.Is(err, domain.ErrNoMatch) {
			return nil, fmt.Errorf("%s could not parse citation: %w", parser.Name(), domain.ErrNoMatch)
		}
		return nil, fmt.Errorf("failed to parse citation: %w", err)
	}

	result, err := r.engine.Match(ctx, *rec, scope)
	if err != nil {
		return nil, err
	}
	return &Resolution{Parser: parser.Name(), Record: *rec, Result: result}, nil
}

// ResolveRecord matches an already structured record.
func (r *Resolver) ResolveRecord(ctx context.Context, rec domain.Record, scope domain.MatchScope) (*Resolution, error) {
	result, err := r.engine.Match(ctx, rec, scope)
	if err != nil {
		return nil, err
	}
	return &Resolution{Record: rec, Result: result}, nil
}
