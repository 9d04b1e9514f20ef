// Package domain provides the domain models for the DOAB reference resolution service.
package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Book is a monograph harvested from DOAB, keyed by its DOAB record id.
type Book struct {
	DoabID      string
	Title       string
	Publisher   string
	Description string
	DOI         string
	Authors     []Author
	Identifiers []Identifier
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// PublisherSeparator joins multiple publisher names on a Book.
const PublisherSeparator = "; "

// Publishers returns the individual publisher names of the book.
func (b *Book) Publishers() []string {
	if b.Publisher == "" {
		return nil
	}
	parts := strings.Split(b.Publisher, PublisherSeparator)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Author is a book contributor, keyed by its standardised name.
type Author struct {
	StandardisedName string
	FirstName        string
	MiddleName       string
	LastName         string
	ReferenceName    string
}

// Identifier is an external identifier (URI, ISBN, DOI) attached to a book.
type Identifier struct {
	Value  string
	BookID string
}

// Reference is a distinct citation text. Its ID is the normalized text itself.
type Reference struct {
	ID             string
	IntersectionID *uuid.UUID
	BookIDs        []string
	CreatedAt      time.Time
}

// Clustered reports whether the reference already belongs to an intersection.
func (r *Reference) Clustered() bool {
	return r.IntersectionID != nil && *r.IntersectionID != uuid.Nil
}

// Record is a structured citation: the output of a parser and the input of the matcher.
// Empty strings mean the field is absent.
type Record struct {
	Author       string `json:"author,omitempty"`
	Title        string `json:"title,omitempty"`
	Journal      string `json:"journal,omitempty"`
	Volume       string `json:"volume,omitempty"`
	DOI          string `json:"doi,omitempty"`
	Year         string `json:"year,omitempty"`
	Pages        string `json:"pages,omitempty"`
	RawReference string `json:"raw_reference,omitempty"`
}

// HasTitle reports whether the record carries a usable title.
func (r *Record) HasTitle() bool {
	return r != nil && strings.TrimSpace(r.Title) != ""
}

// ParsedReference is one parser's structured view of one Reference.
// Identity is (ReferenceID, Parser).
type ParsedReference struct {
	ReferenceID  string
	Parser       string
	RawReference string
	Authors      string
	Title        string
	Journal      string
	Volume       string
	DOI          string
	Year         string
	Pages        string
	CreatedAt    time.Time
}

// NewParsedReference builds a ParsedReference from a parser record.
// The raw text falls back to the reference id when the parser did not supply one.
func NewParsedReference(referenceID, parser string, rec Record) *ParsedReference {
	raw := rec.RawReference
	if raw == "" {
		raw = referenceID
	}
	return &ParsedReference{
		ReferenceID:  referenceID,
		Parser:       parser,
		RawReference: raw,
		Authors:      strings.TrimSpace(rec.Author),
		Title:        strings.TrimSpace(rec.Title),
		Journal:      strings.TrimSpace(rec.Journal),
		Volume:       strings.TrimSpace(rec.Volume),
		DOI:          strings.TrimSpace(rec.DOI),
		Year:         strings.TrimSpace(rec.Year),
		Pages:        strings.TrimSpace(rec.Pages),
	}
}

// Record converts the persisted parse back into the matcher's input shape.
func (p *ParsedReference) Record() Record {
	return Record{
		Author:       p.Authors,
		Title:        p.Title,
		Journal:      p.Journal,
		Volume:       p.Volume,
		DOI:          p.DOI,
		Year:         p.Year,
		Pages:        p.Pages,
		RawReference: p.RawReference,
	}
}

// Intersection is a cluster of references believed to cite the same work.
type Intersection struct {
	ID           uuid.UUID
	ReferenceIDs []string
	BookIDs      []string
	CreatedAt    time.Time
}

// PublisherCount is a publisher name with the number of books carrying it.
type PublisherCount struct {
	Publisher string
	Books     int
}
