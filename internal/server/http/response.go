package httpserver

import (
	"time"

	"github.com/helixir/doab-reference-service/internal/domain"
	"github.com/helixir/doab-reference-service/internal/matching"
	"github.com/helixir/doab-reference-service/internal/parsers"
)

type matchResponse struct {
	Parser  string           `json:"parser,omitempty"`
	Record  domain.Record    `json:"record"`
	Matches []matching.Match `json:"matches"`
}

type referenceResponse struct {
	ID             string    `json:"id"`
	IntersectionID string    `json:"intersection_id,omitempty"`
	BookIDs        []string  `json:"book_ids"`
	CreatedAt      time.Time `json:"created_at"`
}

type listReferencesResponse struct {
	BookID     string              `json:"book_id"`
	References []referenceResponse `json:"references"`
	TotalCount int                 `json:"total_count"`
}

type intersectionResponse struct {
	ID           string    `json:"id"`
	ReferenceIDs []string  `json:"reference_ids"`
	BookIDs      []string  `json:"book_ids"`
	CreatedAt    time.Time `json:"created_at"`
}

type listIntersectionsResponse struct {
	Intersections []intersectionResponse `json:"intersections"`
	NextPageToken string                 `json:"next_page_token,omitempty"`
	TotalCount    int                    `json:"total_count"`
}

type parserResponse struct {
	Name     string `json:"name"`
	Accuracy int    `json:"accuracy"`
}

type listParsersResponse struct {
	Parsers []parserResponse `json:"parsers"`
}

// Converter functions

func domainReferenceToResponse(r *domain.Reference) referenceResponse {
	resp := referenceResponse{
		ID:        r.ID,
		BookIDs:   nonNil(r.BookIDs),
		CreatedAt: r.CreatedAt,
	}
	if r.Clustered() {
		resp.IntersectionID = r.IntersectionID.String()
	}
	return resp
}

func domainIntersectionToResponse(in *domain.Intersection) intersectionResponse {
	return intersectionResponse{
		ID:           in.ID.String(),
		ReferenceIDs: nonNil(in.ReferenceIDs),
		BookIDs:      nonNil(in.BookIDs),
		CreatedAt:    in.CreatedAt,
	}
}

func parserToResponse(p parsers.Parser) parserResponse {
	return parserResponse{Name: p.Name(), Accuracy: p.Accuracy()}
}

func resolutionToResponse(res *matching.Resolution) matchResponse {
	resp := matchResponse{
		Parser:  res.Parser,
		Record:  res.Record,
		Matches: []matching.Match{},
	}
	if res.Result != nil && res.Result.Matches != nil {
		resp.Matches = res.Result.Matches
	}
	return resp
}

// nonNil keeps empty lists encoded as [] rather than null.
func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
