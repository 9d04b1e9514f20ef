package parsers

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/helixir/doab-reference-service/internal/domain"
	"github.com/helixir/doab-reference-service/internal/httpclient"
	"github.com/helixir/doab-reference-service/internal/normalize"
)

// Crossref resolves the DOI found in a citation through the Crossref works API.
// Citations without a DOI are an immediate no match.
type Crossref struct {
	cleaner
	baseURL string
	client  *httpclient.Client
	cache   *cache.Cache
}

var _ Parser = (*Crossref)(nil)

// NewCrossref creates the parser. Resolved and unknown DOIs are cached for ttl.
func NewCrossref(baseURL string, client *httpclient.Client, ttl time.Duration) *Crossref {
	if baseURL == "" {
		baseURL = "https://api.crossref.org"
	}
	if client == nil {
		client = httpclient.New(httpclient.Config{Source: "crossref"}, nil)
	}
	return &Crossref{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		cache:   cache.New(ttl, ttl*2),
	}
}

func (c *Crossref) Name() string  { return NameCrossref }
func (c *Crossref) Accuracy() int { return 100 }

type crossrefDate struct {
	DateParts [][]*int `json:"date-parts"`
}

func (d *crossrefDate) year() string {
	if d == nil || len(d.DateParts) == 0 || len(d.DateParts[0]) == 0 || d.DateParts[0][0] == nil {
		return ""
	}
	return strconv.Itoa(*d.DateParts[0][0])
}

type crossrefWork struct {
	Author []struct {
		Given  string `json:"given"`
		Family string `json:"family"`
		Name   string `json:"name"`
	} `json:"author"`
	Title           []string      `json:"title"`
	ContainerTitle  []string      `json:"container-title"`
	Volume          string        `json:"volume"`
	Page            string        `json:"page"`
	PublishedOnline *crossrefDate `json:"published-online"`
	PublishedPrint  *crossrefDate `json:"published-print"`
	Issued          *crossrefDate `json:"issued"`
}

type crossrefResponse struct {
	Status  string       `json:"status"`
	Message crossrefWork `json:"message"`
}

// noRecord caches DOIs that Crossref does not know.
type noRecord struct{}

// Parse extracts the first DOI and fetches its metadata.
func (c *Crossref) Parse(ctx context.Context, cleaned string) (*domain.Record, error) {
	doi := normalize.FirstDOI(cleaned)
	if doi == "" {
		return nil, domain.ErrNoMatch
	}

	key := strings.ToLower(doi)
	if cached, found := c.cache.Get(key); found {
		if rec, ok := cached.(domain.Record); ok {
			rec.RawReference = cleaned
			return finish(&rec, cleaned)
		}
		return nil, domain.ErrNoMatch
	}

	var resp crossrefResponse
	err := c.client.GetJSON(ctx, c.baseURL+"/works/"+doi, nil, &resp)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			c.cache.Set(key, noRecord{}, cache.DefaultExpiration)
			return nil, domain.ErrNoMatch
		}
		return nil, fmt.Errorf("crossref lookup %s: %w", doi, err)
	}

	rec := recordFromWork(doi, &resp.Message)
	c.cache.Set(key, rec, cache.DefaultExpiration)

	rec.RawReference = cleaned
	return finish(&rec, cleaned)
}

func recordFromWork(doi string, w *crossrefWork) domain.Record {
	authors := make([]string, 0, len(w.Author))
	for _, a := range w.Author {
		name := strings.TrimSpace(a.Given + " " + a.Family)
		if name == "" {
			name = strings.TrimSpace(a.Name)
		}
		if name != "" {
			authors = append(authors, name)
		}
	}

	year := w.PublishedOnline.year()
	if year == "" {
		year = w.PublishedPrint.year()
	}
	if year == "" {
		year = w.Issued.year()
	}

	return domain.Record{
		Author:  strings.Join(authors, ", "),
		Title:   first(w.Title),
		Journal: first(w.ContainerTitle),
		Volume:  w.Volume,
		DOI:     doi,
		Year:    year,
		Pages:   w.Page,
	}
}
