package finders

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/PuerkitoBio/goquery"
)

var openResolverReferences = regexp.MustCompile(`var openResolverFullReferences = (\[.+\]);`)

// Cambridge reads the reference objects a Cambridge Core book page embeds for
// its OpenResolver links. Each object is returned as its own JSON document.
// Pages without the script fall back to citation_reference meta tags.
type Cambridge struct{}

var _ Finder = Cambridge{}

func (Cambridge) Name() string { return "Cambridge" }

func (Cambridge) Find(_ context.Context, _ string, bookPath string) ([]string, error) {
	data, err := readArtifact(bookPath, CambridgeCoreFile)
	if err != nil {
		return nil, err
	}

	refs := referenceSet{}
	if m := openResolverReferences.FindSubmatch(data); m != nil {
		var items []json.RawMessage
		if err := json.Unmarshal(m[1], &items); err != nil {
			return nil, fmt.Errorf("failed to decode openResolverFullReferences: %w", err)
		}
		for _, item := range items {
			var compact bytes.Buffer
			if err := json.Compact(&compact, item); err != nil {
				continue
			}
			refs.add(compact.String())
		}
		return refs.sorted(), nil
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", CambridgeCoreFile, err)
	}
	doc.Find(`meta[name="citation_reference"]`).Each(func(_ int, s *goquery.Selection) {
		if content, ok := s.Attr("content"); ok {
			refs.add(content)
		}
	})
	return refs.sorted(), nil
}
