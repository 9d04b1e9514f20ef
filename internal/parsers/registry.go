package parsers

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/helixir/doab-reference-service/internal/config"
	"github.com/helixir/doab-reference-service/internal/httpclient"
)

// Registry is the ordered set of parsers known to a process. It is built once
// at startup and is read-only afterwards, so it is safe for concurrent use.
type Registry struct {
	parsers []Parser
}

// NewRegistry creates a registry in the given order. Names must be unique.
func NewRegistry(parsers ...Parser) (*Registry, error) {
	seen := make(map[string]struct{}, len(parsers))
	for _, p := range parsers {
		key := strings.ToLower(p.Name())
		if _, dup := seen[key]; dup {
			return nil, fmt.Errorf("duplicate parser name %q", p.Name())
		}
		seen[key] = struct{}{}
	}
	return &Registry{parsers: append([]Parser(nil), parsers...)}, nil
}

// NewDefaultRegistry builds the standard parser set from configuration.
// crossref is the HTTP client used for DOI lookups.
func NewDefaultRegistry(cfg config.ParsersConfig, crossrefCfg config.CrossrefConfig, crossref *httpclient.Client, runner CommandRunner) *Registry {
	if runner == nil {
		runner = ExecRunner{}
	}
	cacheTTL := crossrefCfg.CacheTTL
	if cacheTTL <= 0 {
		cacheTTL = 24 * time.Hour
	}

	// Names are fixed and distinct, NewRegistry cannot fail here.
	r, _ := NewRegistry(
		NewCermine(cfg.CermineCommand, runner),
		NewAnystyle(cfg.AnystyleCommand, runner),
		NewCrossref(crossrefCfg.BaseURL, crossref, cacheTTL),
		NewBloomsburyAcademic(),
		NewCambridgeCore(),
	)
	return r
}

// Get returns the parser with the given name, compared case-insensitively.
func (r *Registry) Get(name string) (Parser, bool) {
	for _, p := range r.parsers {
		if strings.EqualFold(p.Name(), name) {
			return p, true
		}
	}
	return nil, false
}

// Lookup resolves names to parsers, preserving order.
func (r *Registry) Lookup(names ...string) ([]Parser, error) {
	out := make([]Parser, 0, len(names))
	for _, name := range names {
		p, ok := r.Get(name)
		if !ok {
			return nil, fmt.Errorf("unknown parser %q", name)
		}
		out = append(out, p)
	}
	return out, nil
}

// All returns the parsers in registration order.
func (r *Registry) All() []Parser {
	return append([]Parser(nil), r.parsers...)
}

// Names returns the parser names in registration order.
func (r *Registry) Names() []string {
	names := make([]string, len(r.parsers))
	for i, p := range r.parsers {
		names[i] = p.Name()
	}
	return names
}

// ByAccuracy returns the parsers most accurate first; ties keep registration order.
func (r *Registry) ByAccuracy() []Parser {
	out := r.All()
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Accuracy() > out[j].Accuracy()
	})
	return out
}

// CheckTools verifies the external commands of the named parsers, or of
// every parser when no names are given. All failures are returned joined.
func (r *Registry) CheckTools(names ...string) error {
	targets := r.parsers
	if len(names) > 0 {
		var err error
		if targets, err = r.Lookup(names...); err != nil {
			return err
		}
	}

	var errs []error
	for _, p := range targets {
		if tc, ok := p.(ToolChecker); ok {
			if err := tc.CheckTool(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
