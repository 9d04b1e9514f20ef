package finders

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/ledongthuc/pdf"

	"github.com/helixir/doab-reference-service/internal/domain"
	"github.com/helixir/doab-reference-service/internal/normalize"
)

// PDFDOI extracts every DOI printed in book.pdf. Each DOI becomes a
// reference string that only the Crossref parser can resolve.
type PDFDOI struct{}

var _ Finder = PDFDOI{}

func (PDFDOI) Name() string { return "PDFDOI" }

func (PDFDOI) Find(ctx context.Context, _ string, bookPath string) ([]string, error) {
	pdfPath := filepath.Join(bookPath, PDFFile)
	if _, err := os.Stat(pdfPath); errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", domain.ErrNoArtifacts, pdfPath)
	}

	f, r, err := pdf.Open(pdfPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open pdf: %w", err)
	}
	defer f.Close()

	refs := referenceSet{}
	for i := 1; i <= r.NumPage(); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			// Pages with broken content streams are skipped.
			continue
		}
		for _, doi := range normalize.DOIs(text) {
			refs.add(doi)
		}
	}
	return refs.sorted(), nil
}
