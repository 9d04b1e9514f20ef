// Package finders locates raw reference strings in the artifacts harvested
// for a book. Each finder knows one publisher layout or file format; the
// miner decides which finders apply through an EligibilityRule.
package finders

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/helixir/doab-reference-service/internal/domain"
	"github.com/helixir/doab-reference-service/internal/normalize"
)

// Wildcard matches any publisher or artifact type.
const Wildcard = "all"

// Artifact types recognised in a book directory.
const (
	ArtifactEPUB          = "epub"
	ArtifactPDF           = "pdf"
	ArtifactTXT           = "txt"
	ArtifactCambridgeCore = "CambridgeCore"
	ArtifactMetadata      = "metadata"
	ArtifactHTML          = "html"
)

// Well-known artifact file names.
const (
	EPUBFile          = "book.epub"
	PDFFile           = "book.pdf"
	CitationsFile     = "citations.txt"
	CambridgeCoreFile = "CambridgeCore.html"
	MetadataFile      = "metadata.json"
)

var artifactFiles = map[string]string{
	EPUBFile:          ArtifactEPUB,
	PDFFile:           ArtifactPDF,
	CitationsFile:     ArtifactTXT,
	CambridgeCoreFile: ArtifactCambridgeCore,
	MetadataFile:      ArtifactMetadata,
}

// Finder extracts raw reference strings from a book directory.
type Finder interface {
	Name() string
	// Find returns the distinct cleaned references found under bookPath.
	Find(ctx context.Context, bookID, bookPath string) ([]string, error)
}

// Artifacts is the set of artifact types present for a book.
type Artifacts map[string]bool

// Has reports whether the artifact type is present.
func (a Artifacts) Has(kind string) bool {
	return a[kind]
}

// Kinds returns the present artifact types, sorted.
func (a Artifacts) Kinds() []string {
	out := make([]string, 0, len(a))
	for k, ok := range a {
		if ok {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

// DetectArtifacts lists the artifact types in bookPath.
// A missing or unreadable directory yields domain.ErrNoArtifacts.
func DetectArtifacts(bookPath string) (Artifacts, error) {
	entries, err := os.ReadDir(bookPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrNoArtifacts, bookPath, err)
	}

	found := Artifacts{}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if kind, ok := artifactFiles[name]; ok {
			found[kind] = true
		}
		if strings.EqualFold(filepath.Ext(name), ".html") {
			found[ArtifactHTML] = true
		}
	}
	return found, nil
}

// EligibilityRule declares the publishers and artifact types a miner handles.
type EligibilityRule struct {
	Publishers []string
	FileTypes  []string
}

// Allows reports whether a book with the given publishers and artifacts
// qualifies. A publisher matches when any of the book's publishers is listed
// or the rule lists Wildcard. Every listed file type must be present unless
// the rule lists Wildcard.
func (r EligibilityRule) Allows(publishers []string, artifacts Artifacts) bool {
	if !r.publisherMatches(publishers) {
		return false
	}
	for _, ft := range r.FileTypes {
		if ft == Wildcard {
			return true
		}
		if !artifacts.Has(ft) {
			return false
		}
	}
	return true
}

func (r EligibilityRule) publisherMatches(publishers []string) bool {
	for _, want := range r.Publishers {
		if want == Wildcard {
			return true
		}
		for _, have := range publishers {
			if strings.EqualFold(strings.TrimSpace(have), want) {
				return true
			}
		}
	}
	return false
}

// referenceSet collects cleaned, non-empty references without duplicates.
type referenceSet map[string]struct{}

func (s referenceSet) add(raw string) {
	if ref := normalize.Clean(raw); ref != "" {
		s[ref] = struct{}{}
	}
}

func (s referenceSet) sorted() []string {
	out := make([]string, 0, len(s))
	for ref := range s {
		out = append(out, ref)
	}
	sort.Strings(out)
	return out
}

// readArtifact reads a file of the book, mapping a missing file to ErrNoArtifacts.
func readArtifact(bookPath, name string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(bookPath, name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", domain.ErrNoArtifacts, filepath.Join(bookPath, name))
		}
		return nil, fmt.Errorf("failed to read %s: %w", name, err)
	}
	return data, nil
}
