// Package metadata imports the DOAB Dublin Core records harvested for each
// book into the book store.
package metadata

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/helixir/doab-reference-service/internal/domain"
	"github.com/helixir/doab-reference-service/internal/finders"
	"github.com/helixir/doab-reference-service/internal/normalize"
	"github.com/helixir/doab-reference-service/internal/observability"
	"github.com/helixir/doab-reference-service/internal/repository"
	"github.com/helixir/doab-reference-service/internal/workerpool"
)

// Record is the metadata.json document: OAI Dublin Core fields, each a list.
type Record struct {
	Title       []string `json:"title"`
	Identifier  []string `json:"identifier"`
	Creator     []string `json:"creator"`
	Language    []string `json:"language"`
	Publisher   []string `json:"publisher"`
	Date        []string `json:"date"`
	Description []string `json:"description"`
}

// Book converts the record into a Book keyed by doabID.
func (r *Record) Book(doabID string) *domain.Book {
	book := &domain.Book{
		DoabID:      doabID,
		Title:       first(r.Title),
		Publisher:   strings.Join(nonEmpty(r.Publisher), domain.PublisherSeparator),
		Description: strings.Join(nonEmpty(r.Description), "\n"),
	}

	book.DOI = normalize.FirstDOI(book.Description)
	if book.DOI == "" {
		book.DOI = normalize.FirstDOI(strings.Join(r.Identifier, "\n"))
	}

	seen := make(map[string]bool)
	for _, c := range r.Creator {
		a, ok := ParseAuthor(c)
		if !ok || seen[a.StandardisedName] {
			continue
		}
		seen[a.StandardisedName] = true
		book.Authors = append(book.Authors, a)
	}
	for _, id := range nonEmpty(r.Identifier) {
		book.Identifiers = append(book.Identifiers, domain.Identifier{Value: id, BookID: doabID})
	}
	return book
}

// Importer upserts books from their metadata.json.
type Importer struct {
	books  repository.BookRepository
	logger zerolog.Logger
}

// NewImporter creates an importer.
func NewImporter(books repository.BookRepository, logger zerolog.Logger) *Importer {
	return &Importer{
		books:  books,
		logger: observability.WithComponent(logger, "metadata"),
	}
}

// Import reads the metadata of one book and upserts it.
func (i *Importer) Import(ctx context.Context, dir finders.BookDir) (*domain.Book, error) {
	data, err := readMetadata(dir.Path)
	if err != nil {
		return nil, err
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode %s for book %s: %w", finders.MetadataFile, dir.BookID, err)
	}

	book := rec.Book(dir.BookID)
	if err := i.books.Upsert(ctx, book); err != nil {
		return nil, fmt.Errorf("failed to upsert book %s: %w", dir.BookID, err)
	}

	logger := observability.LoggerFromContext(observability.WithBookID(ctx, dir.BookID), i.logger)
	logger.Debug().
		Str("title", book.Title).
		Int("authors", len(book.Authors)).
		Int("identifiers", len(book.Identifiers)).
		Msg("imported book metadata")
	return book, nil
}

// ImportAll imports every directory through a worker pool. Failures are
// logged and returned per book; they never stop the batch.
func (i *Importer) ImportAll(ctx context.Context, dirs []finders.BookDir, workers int) []workerpool.Result[finders.BookDir, *domain.Book] {
	results := workerpool.Run(ctx, workers, dirs, i.Import)
	for _, r := range workerpool.Errors(results) {
		i.logger.Warn().Err(r.Err).Str("book_id", r.Item.BookID).Msg("failed to import book metadata")
	}
	return results
}

func first(values []string) string {
	for _, v := range values {
		if v = normalize.Clean(v); v != "" {
			return v
		}
	}
	return ""
}

func nonEmpty(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
