package parsers

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/doab-reference-service/internal/domain"
	"github.com/helixir/doab-reference-service/internal/httpclient"
)

const crossrefBase = "https://api.crossref.test"

const crossrefWorkJSON = `{
  "status": "ok",
  "message": {
    "author": [
      {"given": "Jane", "family": "Doe"},
      {"given": "Rob", "family": "Roe"}
    ],
    "title": ["Health systems research in fragile settings"],
    "container-title": ["Health Policy and Planning"],
    "volume": "31",
    "page": "i1-i5",
    "published-print": {"date-parts": [[2016, 7]]},
    "issued": {"date-parts": [[2015]]}
  }
}`

func newTestCrossref(t *testing.T) *Crossref {
	t.Helper()
	httpmock.Activate()
	t.Cleanup(httpmock.DeactivateAndReset)

	client := httpclient.New(httpclient.Config{
		Source:     "crossref",
		RateLimit:  100,
		MaxRetries: 1,
		RetryDelay: time.Millisecond,
	}, nil)
	return NewCrossref(crossrefBase+"/", client, time.Minute)
}

func TestCrossref_Parse(t *testing.T) {
	ctx := context.Background()
	const ref = "Doe, J. (2016) Health systems research. Health Policy Plan. doi:10.1093/heapol/czw046."

	t.Run("resolves DOI metadata", func(t *testing.T) {
		p := newTestCrossref(t)
		httpmock.RegisterResponder(http.MethodGet, crossrefBase+"/works/10.1093/heapol/czw046",
			httpmock.NewStringResponder(http.StatusOK, crossrefWorkJSON))

		rec, err := p.Parse(ctx, ref)
		require.NoError(t, err)
		assert.Equal(t, "10.1093/heapol/czw046", rec.DOI)
		assert.Equal(t, "Jane Doe, Rob Roe", rec.Author)
		assert.Equal(t, "Health systems research in fragile settings", rec.Title)
		assert.Equal(t, "Health Policy and Planning", rec.Journal)
		assert.Equal(t, "31", rec.Volume)
		assert.Equal(t, "2016", rec.Year)
		assert.Equal(t, ref, rec.RawReference)
	})

	t.Run("caches by DOI", func(t *testing.T) {
		p := newTestCrossref(t)
		httpmock.RegisterResponder(http.MethodGet, crossrefBase+"/works/10.1093/heapol/czw046",
			httpmock.NewStringResponder(http.StatusOK, crossrefWorkJSON))

		_, err := p.Parse(ctx, ref)
		require.NoError(t, err)
		rec, err := p.Parse(ctx, "Other text 10.1093/HEAPOL/czw046")
		require.NoError(t, err)
		assert.Equal(t, "Other text 10.1093/HEAPOL/czw046", rec.RawReference)
		assert.Equal(t, 1, httpmock.GetTotalCallCount())
	})

	t.Run("no DOI is no match without a request", func(t *testing.T) {
		p := newTestCrossref(t)

		_, err := p.Parse(ctx, "Foucault, M. (1991). Discipline and Punish.")
		assert.ErrorIs(t, err, domain.ErrNoMatch)
		assert.Zero(t, httpmock.GetTotalCallCount())
	})

	t.Run("unknown DOI is no match and cached", func(t *testing.T) {
		p := newTestCrossref(t)
		httpmock.RegisterResponder(http.MethodGet, crossrefBase+"/works/10.5555/unknown",
			httpmock.NewStringResponder(http.StatusNotFound, "Resource not found."))

		_, err := p.Parse(ctx, "see 10.5555/unknown")
		assert.ErrorIs(t, err, domain.ErrNoMatch)
		_, err = p.Parse(ctx, "see 10.5555/unknown")
		assert.ErrorIs(t, err, domain.ErrNoMatch)
		assert.Equal(t, 1, httpmock.GetTotalCallCount())
	})

	t.Run("service error is recoverable", func(t *testing.T) {
		p := newTestCrossref(t)
		httpmock.RegisterResponder(http.MethodGet, crossrefBase+"/works/10.5555/flaky",
			httpmock.NewStringResponder(http.StatusServiceUnavailable, ""))

		_, err := p.Parse(ctx, "see 10.5555/flaky")
		require.Error(t, err)
		assert.False(t, errors.Is(err, domain.ErrNoMatch))
		assert.True(t, errors.Is(err, domain.ErrServiceUnavailable))
	})

	t.Run("untitled work is no match", func(t *testing.T) {
		p := newTestCrossref(t)
		httpmock.RegisterResponder(http.MethodGet, crossrefBase+"/works/10.5555/untitled",
			httpmock.NewStringResponder(http.StatusOK, `{"status":"ok","message":{"title":[]}}`))

		_, err := p.Parse(ctx, "10.5555/untitled")
		assert.ErrorIs(t, err, domain.ErrNoMatch)
	})
}
