package parsers

import (
	"context"
	"fmt"
	"html"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/helixir/doab-reference-service/internal/domain"
)

var (
	// A chapter cites its title in quotes followed by ", in" and the host book.
	bloomsburyChapter = regexp.MustCompile(`(?s)‘(<i>)*(.+?)(</i>)*(</span>)*’, in`)
	// Journal articles carry the article title in the OpenURL link.
	bloomsburyATitle = regexp.MustCompile(`(?s)atitle=(.+?)&`)
	bloomsburyQuoted = regexp.MustCompile(`(?s)‘(.+?)’`)
	htmlTag          = regexp.MustCompile(`<[^>]*>`)
)

// BloomsburyAcademic parses the bibliomixed HTML markup of Bloomsbury
// Academic reference lists.
type BloomsburyAcademic struct {
	cleaner
}

var _ Parser = (*BloomsburyAcademic)(nil)

// NewBloomsburyAcademic creates the parser.
func NewBloomsburyAcademic() *BloomsburyAcademic {
	return &BloomsburyAcademic{}
}

func (b *BloomsburyAcademic) Name() string  { return NameBloomsburyAcademic }
func (b *BloomsburyAcademic) Accuracy() int { return 75 }

// Parse reads authors, editors, year and volume from the markup. The italic
// span is taken as both title and journal, then the title is refined from the
// chapter quote, the OpenURL atitle, or the first quoted span.
func (b *BloomsburyAcademic) Parse(_ context.Context, cleaned string) (*domain.Record, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(cleaned))
	if err != nil {
		return nil, fmt.Errorf("failed to parse bloomsbury markup: %w", err)
	}

	var authors []string
	for _, role := range []string{"span.author", "span.editor"} {
		doc.Find(role).Each(func(_ int, s *goquery.Selection) {
			given := s.Find("span.firstname").First()
			family := s.Find("span.surname").First()
			if given.Length() == 0 || family.Length() == 0 {
				return
			}
			authors = append(authors, strings.TrimSpace(given.Text())+" "+strings.TrimSpace(family.Text()))
		})
	}

	italic := spanText(doc, "span.italic")
	rec := &domain.Record{
		Author:  strings.Join(authors, ", "),
		Year:    spanText(doc, "span.pubdate"),
		Title:   italic,
		Journal: italic,
		Volume:  spanText(doc, "span.volumenum"),
	}

	if m := bloomsburyChapter.FindStringSubmatch(cleaned); m != nil {
		rec.Title = stripMarkup(m[2])
	} else if m := bloomsburyATitle.FindStringSubmatch(cleaned); m != nil && !strings.Contains(m[1], "aulast") {
		rec.Title = stripMarkup(m[1])
	} else if m := bloomsburyQuoted.FindStringSubmatch(cleaned); m != nil {
		rec.Title = stripMarkup(m[1])
	}

	return finish(rec, cleaned)
}

func spanText(doc *goquery.Document, selector string) string {
	return strings.TrimSpace(doc.Find(selector).First().Text())
}

func stripMarkup(s string) string {
	return strings.TrimSpace(html.UnescapeString(htmlTag.ReplaceAllString(s, "")))
}
