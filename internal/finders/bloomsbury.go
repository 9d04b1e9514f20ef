package finders

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/PuerkitoBio/goquery"

	"github.com/helixir/doab-reference-service/internal/domain"
)

// Bloomsbury collects the bibliomixed markup from every HTML page saved for
// a Bloomsbury Academic book. The markup is kept as HTML because the
// BloomsburyAcademic parser reads its spans.
type Bloomsbury struct{}

var _ Finder = Bloomsbury{}

func (Bloomsbury) Name() string { return "Bloomsbury" }

func (Bloomsbury) Find(ctx context.Context, _ string, bookPath string) ([]string, error) {
	pages, err := filepath.Glob(filepath.Join(bookPath, "*.html"))
	if err != nil {
		return nil, fmt.Errorf("failed to list html pages: %w", err)
	}
	if len(pages) == 0 {
		return nil, fmt.Errorf("%w: no html pages in %s", domain.ErrNoArtifacts, bookPath)
	}
	sort.Strings(pages)

	refs := referenceSet{}
	for _, page := range pages {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, err := os.ReadFile(page)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", filepath.Base(page), err)
		}
		doc, err := goquery.NewDocumentFromReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", filepath.Base(page), err)
		}
		doc.Find("div.bibliomixed").Each(func(_ int, s *goquery.Selection) {
			outer, err := goquery.OuterHtml(s)
			if err != nil {
				return
			}
			refs.add(outer)
		})
	}
	return refs.sorted(), nil
}
