package parsers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/helixir/doab-reference-service/internal/domain"
)

// CambridgeCore parses the OpenResolver reference objects embedded in
// Cambridge Core book pages.
type CambridgeCore struct {
	cleaner
}

var _ Parser = (*CambridgeCore)(nil)

// NewCambridgeCore creates the parser.
func NewCambridgeCore() *CambridgeCore {
	return &CambridgeCore{}
}

func (c *CambridgeCore) Name() string  { return NameCambridgeCore }
func (c *CambridgeCore) Accuracy() int { return 85 }

type cambridgeContent struct {
	Content string `json:"content"`
}

type cambridgeReference struct {
	Atom struct {
		PubYear       json.RawMessage    `json:"m:pub-year"`
		Title         *string            `json:"m:title"`
		BookTitle     *string            `json:"m:book-title"`
		Display       string             `json:"m:display"`
		JournalTitle  *string            `json:"m:journal-title"`
		JournalVolume *string            `json:"m:journal-volume"`
		Authors       []cambridgeContent `json:"m:authors"`
		DOIs          []cambridgeContent `json:"m:dois"`
	} `json:"atom:content"`
}

// Parse decodes one reference object.
func (c *CambridgeCore) Parse(_ context.Context, cleaned string) (*domain.Record, error) {
	var ref cambridgeReference
	if err := json.Unmarshal([]byte(cleaned), &ref); err != nil {
		return nil, fmt.Errorf("failed to decode cambridge reference: %w", err)
	}
	a := ref.Atom

	authors := make([]string, 0, len(a.Authors))
	for _, au := range a.Authors {
		if name := strings.TrimSpace(au.Content); name != "" {
			authors = append(authors, name)
		}
	}

	title := deref(a.Title)
	if title == "" {
		title = deref(a.BookTitle)
	}

	doi := ""
	if len(a.DOIs) > 0 {
		doi = strings.TrimSpace(a.DOIs[0].Content)
	}

	rec := &domain.Record{
		Author:       strings.Join(authors, ", "),
		Title:        title,
		Journal:      deref(a.JournalTitle),
		Volume:       deref(a.JournalVolume),
		DOI:          doi,
		Year:         rawScalar(a.PubYear),
		RawReference: strings.TrimSpace(a.Display),
	}
	return finish(rec, cleaned)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return strings.TrimSpace(*s)
}

// rawScalar renders a JSON string or number as text. Cambridge emits the
// publication year as either.
func rawScalar(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(string(raw))
}
