package httpserver

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/helixir/doab-reference-service/internal/domain"
	"github.com/helixir/doab-reference-service/internal/observability"
	"github.com/helixir/doab-reference-service/internal/repository"
)

// Pagination and validation constants.
const (
	defaultPageSize    = 50
	maxPageSize        = 100
	maxRequestBodySize = 1 << 20 // 1 MB limit for request bodies
)

// matchRequest is the JSON request body for matching a citation. Exactly one
// of Citation and Record is set.
type matchRequest struct {
	Citation       string         `json:"citation" validate:"required_without=Record,excluded_with=Record,max=10000"`
	Parser         string         `json:"parser" validate:"omitempty,max=64"`
	Record         *domain.Record `json:"record" validate:"required_without=Citation"`
	ExcludeBookIDs []string       `json:"exclude_book_ids" validate:"max=1000,dive,required"`
}

// matchCitation handles POST /api/v1/match.
// A free-text citation is parsed first; a structured record is matched as is.
func (s *Server) matchCitation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBodySize))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	var req matchRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}
	req.Citation = strings.TrimSpace(req.Citation)
	if err := s.validate.Struct(req); err != nil {
		writeValidationError(w, err)
		return
	}

	scope := domain.MatchScope{ExcludeBookIDs: req.ExcludeBookIDs}
	if req.Record != nil {
		// A record with neither title nor doi is valid and matches nothing.
		res, err := s.resolver.ResolveRecord(ctx, *req.Record, scope)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, resolutionToResponse(res))
		return
	}

	res, err := s.resolver.ResolveCitation(ctx, req.Citation, req.Parser, scope)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resolutionToResponse(res))
}

// listBookReferences handles GET /api/v1/books/{bookID}/references.
func (s *Server) listBookReferences(w http.ResponseWriter, r *http.Request) {
	bookID := strings.TrimSpace(chi.URLParam(r, "bookID"))
	if bookID == "" {
		writeError(w, http.StatusBadRequest, "book_id is required")
		return
	}

	refs, err := s.references.ListForBook(r.Context(), bookID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	out := make([]referenceResponse, len(refs))
	for i, ref := range refs {
		out[i] = domainReferenceToResponse(ref)
	}
	writeJSON(w, http.StatusOK, listReferencesResponse{
		BookID:     bookID,
		References: out,
		TotalCount: len(out),
	})
}

// listIntersections handles GET /api/v1/intersections.
// An optional book_id query parameter restricts to intersections cited by that book.
func (s *Server) listIntersections(w http.ResponseWriter, r *http.Request) {
	limit, offset := parsePaginationParams(r)

	items, totalCount, err := s.intersections.List(r.Context(), repository.IntersectionFilter{
		BookID: r.URL.Query().Get("book_id"),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	out := make([]intersectionResponse, len(items))
	for i, in := range items {
		out[i] = domainIntersectionToResponse(in)
	}
	writeJSON(w, http.StatusOK, listIntersectionsResponse{
		Intersections: out,
		NextPageToken: encodeHTTPPageToken(offset, limit, int(totalCount)),
		TotalCount:    int(totalCount),
	})
}

// listParsers handles GET /api/v1/parsers. Parsers are listed most accurate first.
func (s *Server) listParsers(w http.ResponseWriter, _ *http.Request) {
	all := s.parsers.ByAccuracy()
	out := make([]parserResponse, len(all))
	for i, p := range all {
		out[i] = parserToResponse(p)
	}
	writeJSON(w, http.StatusOK, listParsersResponse{Parsers: out})
}

// writeServiceError logs unexpected failures before mapping them to a response.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := domainErrorStatus(err)
	if status >= http.StatusInternalServerError {
		logger := observability.LoggerFromContext(r.Context(), s.logger)
		logger.Error().Err(err).
			Str("path", r.URL.Path).
			Msg("request failed")
	}
	writeDomainError(w, err)
}

// domainErrorStatus maps a domain error to its HTTP status code.
func domainErrorStatus(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNoMatch):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrAlreadyExists), errors.Is(err, domain.ErrConcurrentWrite):
		return http.StatusConflict
	case errors.Is(err, domain.ErrToolUnavailable), errors.Is(err, domain.ErrServiceUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeDomainError maps domain errors to appropriate HTTP status codes
// and writes a JSON error response. Internal error details are not leaked to clients.
func writeDomainError(w http.ResponseWriter, err error) {
	if err == nil {
		return
	}

	status := domainErrorStatus(err)
	switch status {
	case http.StatusNotFound:
		writeError(w, status, "resource not found")
	case http.StatusBadRequest:
		var ve *domain.ValidationError
		if errors.As(err, &ve) {
			writeError(w, status, ve.Error())
		} else {
			writeError(w, status, "invalid input")
		}
	case http.StatusUnprocessableEntity:
		writeError(w, status, "citation could not be parsed")
	case http.StatusConflict:
		writeError(w, status, "conflict")
	case http.StatusServiceUnavailable:
		writeError(w, status, "service unavailable")
	default:
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

// writeValidationError reports the first failed field of a request body.
func writeValidationError(w http.ResponseWriter, err error) {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}
	fe := verrs[0]
	field := fe.Field()
	switch fe.Tag() {
	case "required_without":
		writeError(w, http.StatusBadRequest, "citation or record is required")
	case "excluded_with":
		writeError(w, http.StatusBadRequest, "citation and record are mutually exclusive")
	case "max":
		writeError(w, http.StatusBadRequest, fmt.Sprintf("%s exceeds the maximum of %s", field, fe.Param()))
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("%s is invalid", field))
	}
}

// parsePaginationParams extracts page_size and page_token from query parameters.
// It applies default and maximum bounds to the page size.
func parsePaginationParams(r *http.Request) (limit, offset int) {
	limit = defaultPageSize
	if pageSizeStr := r.URL.Query().Get("page_size"); pageSizeStr != "" {
		if parsed, err := strconv.Atoi(pageSizeStr); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}

	if pageToken := r.URL.Query().Get("page_token"); pageToken != "" {
		decoded, err := base64.StdEncoding.DecodeString(pageToken)
		if err == nil {
			if parsed, parseErr := strconv.Atoi(string(decoded)); parseErr == nil && parsed > 0 {
				offset = parsed
			}
		}
	}

	return limit, offset
}

// encodeHTTPPageToken encodes the next offset as a base64 page token.
// Returns an empty string if there are no more results.
func encodeHTTPPageToken(offset, limit, totalCount int) string {
	nextOffset := offset + limit
	if nextOffset < totalCount {
		return base64.StdEncoding.EncodeToString([]byte(strconv.Itoa(nextOffset)))
	}
	return ""
}
