package finders

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
)

// CitationTXT reads citations.txt, one reference per line.
type CitationTXT struct{}

var _ Finder = CitationTXT{}

func (CitationTXT) Name() string { return "CitationTXT" }

func (CitationTXT) Find(_ context.Context, _ string, bookPath string) ([]string, error) {
	data, err := readArtifact(bookPath, CitationsFile)
	if err != nil {
		return nil, err
	}

	refs := referenceSet{}
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		refs.add(sc.Text())
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", CitationsFile, err)
	}
	return refs.sorted(), nil
}
