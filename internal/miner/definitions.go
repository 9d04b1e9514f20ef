package miner

import (
	"github.com/helixir/doab-reference-service/internal/finders"
	"github.com/helixir/doab-reference-service/internal/parsers"
)

// Definition composes an eligibility rule, the finder that extracts
// references for eligible books, and the parsers run over what it finds.
type Definition struct {
	Name    string
	Rule    finders.EligibilityRule
	Finder  finders.Finder
	Parsers []string
}

// DefaultDefinitions returns the built-in miners. Every eligible miner runs
// for a book.
func DefaultDefinitions() []Definition {
	return []Definition{
		{
			Name:    "Palgrave",
			Rule:    finders.EligibilityRule{Publishers: []string{"Palgrave Macmillan"}, FileTypes: []string{finders.ArtifactEPUB}},
			Finder:  finders.SpringerEPUB{},
			Parsers: []string{parsers.NameCermine, parsers.NameCrossref},
		},
		{
			Name:    "Springer",
			Rule:    finders.EligibilityRule{Publishers: []string{"Springer"}, FileTypes: []string{finders.ArtifactEPUB}},
			Finder:  finders.SpringerEPUB{},
			Parsers: []string{parsers.NameCermine, parsers.NameCrossref},
		},
		{
			Name:    "CambridgeCore",
			Rule:    finders.EligibilityRule{Publishers: []string{"Cambridge University Press"}, FileTypes: []string{finders.ArtifactCambridgeCore}},
			Finder:  finders.Cambridge{},
			Parsers: []string{parsers.NameCambridgeCore, parsers.NameCrossref},
		},
		{
			Name:    "BloomsburyAcademic",
			Rule:    finders.EligibilityRule{Publishers: []string{"Bloomsbury Academic"}, FileTypes: []string{finders.Wildcard}},
			Finder:  finders.Bloomsbury{},
			Parsers: []string{parsers.NameBloomsburyAcademic, parsers.NameCrossref},
		},
		{
			Name:    "PDF",
			Rule:    finders.EligibilityRule{Publishers: []string{finders.Wildcard}, FileTypes: []string{finders.ArtifactPDF}},
			Finder:  finders.PDFDOI{},
			Parsers: []string{parsers.NameCrossref},
		},
		{
			Name:    "CitationTXT",
			Rule:    finders.EligibilityRule{Publishers: []string{finders.Wildcard}, FileTypes: []string{finders.ArtifactTXT}},
			Finder:  finders.CitationTXT{},
			Parsers: []string{parsers.NameAnystyle, parsers.NameCrossref},
		},
	}
}

// parserNames returns the distinct parser names used by the definitions, in
// first-use order.
func parserNames(defs []Definition) []string {
	seen := make(map[string]bool)
	var names []string
	for _, d := range defs {
		for _, n := range d.Parsers {
			if !seen[n] {
				seen[n] = true
				names = append(names, n)
			}
		}
	}
	return names
}
