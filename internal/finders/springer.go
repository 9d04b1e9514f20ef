package finders

import (
	"archive/zip"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path"
	"path/filepath"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/helixir/doab-reference-service/internal/domain"
)

const xhtmlMediaType = "application/xhtml+xml"

// SpringerEPUB reads the CitationContent blocks of every XHTML document in
// book.epub. Springer and Palgrave share the layout.
type SpringerEPUB struct{}

var _ Finder = SpringerEPUB{}

func (SpringerEPUB) Name() string { return "SpringerEPUB" }

// Find opens the EPUB and collects the text of div.CitationContent.
func (SpringerEPUB) Find(ctx context.Context, _ string, bookPath string) ([]string, error) {
	epubPath := filepath.Join(bookPath, EPUBFile)
	zr, err := zip.OpenReader(epubPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", domain.ErrNoArtifacts, epubPath)
		}
		return nil, fmt.Errorf("failed to open epub: %w", err)
	}
	defer zr.Close()

	refs := referenceSet{}
	for _, f := range xhtmlDocuments(&zr.Reader) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("failed to open %s in epub: %w", f.Name, err)
		}
		doc, err := goquery.NewDocumentFromReader(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", f.Name, err)
		}
		doc.Find("div.CitationContent").Each(func(_ int, s *goquery.Selection) {
			refs.add(s.Text())
		})
	}
	return refs.sorted(), nil
}

type epubContainer struct {
	Rootfiles []struct {
		FullPath string `xml:"full-path,attr"`
	} `xml:"rootfiles>rootfile"`
}

type epubPackage struct {
	Items []struct {
		Href      string `xml:"href,attr"`
		MediaType string `xml:"media-type,attr"`
	} `xml:"manifest>item"`
}

// xhtmlDocuments returns the archive entries the OPF manifest declares as
// XHTML. Archives without a readable manifest fall back to file extensions.
func xhtmlDocuments(zr *zip.Reader) []*zip.File {
	byName := make(map[string]*zip.File, len(zr.File))
	for _, f := range zr.File {
		byName[f.Name] = f
	}

	if docs := manifestDocuments(byName); len(docs) > 0 {
		return docs
	}

	var docs []*zip.File
	for _, f := range zr.File {
		switch strings.ToLower(path.Ext(f.Name)) {
		case ".xhtml", ".html", ".htm":
			docs = append(docs, f)
		}
	}
	return docs
}

func manifestDocuments(byName map[string]*zip.File) []*zip.File {
	var container epubContainer
	if err := decodeXML(byName["META-INF/container.xml"], &container); err != nil || len(container.Rootfiles) == 0 {
		return nil
	}
	opfPath := container.Rootfiles[0].FullPath

	var pkg epubPackage
	if err := decodeXML(byName[opfPath], &pkg); err != nil {
		return nil
	}

	base := path.Dir(opfPath)
	var docs []*zip.File
	for _, item := range pkg.Items {
		if item.MediaType != xhtmlMediaType {
			continue
		}
		if f, ok := byName[path.Join(base, item.Href)]; ok {
			docs = append(docs, f)
		}
	}
	return docs
}

func decodeXML(f *zip.File, v any) error {
	if f == nil {
		return fs.ErrNotExist
	}
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()
	return xml.NewDecoder(io.LimitReader(rc, 8<<20)).Decode(v)
}
