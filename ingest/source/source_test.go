package source

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/jobpulse/errors"
	"github.com/teranos/jobpulse/internal/httpclient"
)

const rssFeed = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0" xmlns:job="https://jobpulse.example/ns/job">
  <channel>
    <title>Remote Jobs</title>
    <item>
      <guid>rj-1</guid>
      <title>Senior Go Engineer</title>
      <link>https://remote.example/jobs/1</link>
      <description>&lt;p&gt;Build &lt;b&gt;pipelines&lt;/b&gt;&lt;/p&gt;</description>
      <pubDate>Mon, 02 Jun 2025 10:00:00 +0000</pubDate>
      <job:company>Acme</job:company>
      <job:location>Remote (EU)</job:location>
    </item>
    <item>
      <guid>rj-2</guid>
      <title>SRE</title>
      <link>https://remote.example/jobs/2</link>
      <author>ops@globex.example (Globex)</author>
      <pubDate>Tue, 03 Jun 2025 09:30:00 +0000</pubDate>
    </item>
  </channel>
</rss>`

const jsonArray = `[
  {"id": 101, "position": "Backend Developer", "company": {"name": "Initech"}, "location": ["Berlin", "Remote"], "url": "https://jobs.example/101", "date": "2025-06-01T12:00:00Z"},
  {"slug": "data-eng", "title": "Data Engineer", "company_name": "Hooli", "candidate_required_location": "USA", "publication_date": "2025-06-02"}
]`

const jsonEnvelope = `{"legal": "terms apply", "meta": {"count": 1}, "jobs": [
  {"id": "x9", "jobTitle": "QA Lead", "companyName": "Umbrella", "jobGeo": "Anywhere", "epoch": 1717236000}
]}`

func newTestFetcher() *HTTPFetcher {
	return NewHTTPFetcher(httpclient.NewSaferClient(httpclient.Options{AllowPrivateHosts: true}), nil)
}

func serve(t *testing.T, h http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv
}

func collect(seq func(func(RawRecord, error) bool)) ([]RawRecord, error) {
	var recs []RawRecord
	var last error
	seq(func(r RawRecord, err error) bool {
		if err != nil {
			last = err
			return false
		}
		recs = append(recs, r)
		return true
	})
	return recs, last
}

func TestRSSAdapter(t *testing.T) {
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, rssFeed)
	})
	cfg := Config{Name: "remote", URL: srv.URL, Format: FormatRSS, Timeout: time.Second}

	recs, err := collect(Stream(context.Background(), NewRSSAdapter(newTestFetcher()), cfg))
	require.NoError(t, err)
	require.Len(t, recs, 2)

	first := recs[0]
	assert.Equal(t, "remote", first.Source)
	assert.Equal(t, srv.URL, first.SourceURL)
	assert.Equal(t, "rj-1", first.ExternalID)
	assert.Equal(t, "Senior Go Engineer", first.Title)
	assert.Equal(t, "Acme", first.Company)
	assert.Equal(t, "Remote (EU)", first.Location)
	assert.Equal(t, "https://remote.example/jobs/1", first.URL)
	assert.Contains(t, first.Description, "<b>pipelines</b>")
	assert.Equal(t, "Mon, 02 Jun 2025 10:00:00 +0000", first.PostedAt)

	assert.Equal(t, "Globex", recs[1].Company, "author name is the company fallback")
}

func TestJSONAdapter(t *testing.T) {
	t.Run("top-level array", func(t *testing.T) {
		recs, err := collect(NewJSONAdapter(nil).Parse(strings.NewReader(jsonArray), Config{Name: "api"}))
		require.NoError(t, err)
		require.Len(t, recs, 2)

		assert.Equal(t, "101", recs[0].ExternalID)
		assert.Equal(t, "Backend Developer", recs[0].Title)
		assert.Equal(t, "Initech", recs[0].Company)
		assert.Equal(t, "Berlin, Remote", recs[0].Location)
		assert.Equal(t, "2025-06-01T12:00:00Z", recs[0].PostedAt)

		assert.Equal(t, "data-eng", recs[1].ExternalID)
		assert.Equal(t, "Hooli", recs[1].Company)
		assert.Equal(t, "USA", recs[1].Location)
	})

	t.Run("envelope object", func(t *testing.T) {
		recs, err := collect(NewJSONAdapter(nil).Parse(strings.NewReader(jsonEnvelope), Config{Name: "api"}))
		require.NoError(t, err)
		require.Len(t, recs, 1)
		assert.Equal(t, "QA Lead", recs[0].Title)
		assert.Equal(t, "Umbrella", recs[0].Company)
		assert.Equal(t, "1717236000", recs[0].PostedAt)
	})

	t.Run("syntax error after records", func(t *testing.T) {
		body := `[{"id": 1, "title": "ok"}, {"id": 2, "title": ]`
		recs, err := collect(NewJSONAdapter(nil).Parse(strings.NewReader(body), Config{Name: "api"}))
		require.Len(t, recs, 1)
		var parseErr *errors.ParseError
		require.True(t, errors.As(err, &parseErr))
		assert.Equal(t, "json", parseErr.Format)
	})

	t.Run("object without listings", func(t *testing.T) {
		_, err := collect(NewJSONAdapter(nil).Parse(strings.NewReader(`{"meta": {}}`), Config{Name: "api"}))
		var parseErr *errors.ParseError
		require.True(t, errors.As(err, &parseErr))
		assert.Contains(t, err.Error(), "no listings array")
	})
}

func TestRSSParseError(t *testing.T) {
	_, err := collect(NewRSSAdapter(nil).Parse(strings.NewReader("definitely not xml"), Config{Name: "bad"}))
	var parseErr *errors.ParseError
	require.True(t, errors.As(err, &parseErr))
	assert.Equal(t, "bad", parseErr.Source)
}

func TestFetchErrors(t *testing.T) {
	t.Run("http status", func(t *testing.T) {
		srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		})
		_, err := newTestFetcher().Fetch(context.Background(), Config{Name: "s", URL: srv.URL})
		var fetchErr *errors.FetchError
		require.True(t, errors.As(err, &fetchErr))
		assert.Equal(t, errors.FetchHTTPStatus, fetchErr.Kind)
		assert.Equal(t, http.StatusBadGateway, fetchErr.StatusCode)
	})

	t.Run("timeout", func(t *testing.T) {
		srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-time.After(2 * time.Second):
			case <-r.Context().Done():
			}
		})
		_, err := newTestFetcher().Fetch(context.Background(), Config{Name: "slow", URL: srv.URL, Timeout: 30 * time.Millisecond})
		assert.True(t, errors.IsFetchError(err, errors.FetchTimeout), "got %v", err)
	})

	t.Run("network", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		url := srv.URL
		srv.Close()
		_, err := newTestFetcher().Fetch(context.Background(), Config{Name: "gone", URL: url})
		assert.True(t, errors.IsFetchError(err, errors.FetchNetwork), "got %v", err)
	})

	t.Run("headers and user agent", func(t *testing.T) {
		var gotKey string
		srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
			gotKey = r.Header.Get("X-Api-Key")
			_, _ = io.WriteString(w, "[]")
		})
		body, err := newTestFetcher().Fetch(context.Background(), Config{Name: "s", URL: srv.URL, Headers: map[string]string{"X-Api-Key": "k"}})
		require.NoError(t, err)
		require.NoError(t, body.Close())
		assert.Equal(t, "k", gotKey)
	})
}

func TestStreamFailureAfterPartialYield(t *testing.T) {
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "4096")
		_, _ = io.WriteString(w, `[{"id": 1, "title": "first"}, {"id": 2, "title": "second"}, {"id": 3, "ti`)
	})
	cfg := Config{Name: "flaky", URL: srv.URL, Timeout: time.Second}

	recs, err := collect(Stream(context.Background(), NewJSONAdapter(newTestFetcher()), cfg))
	require.Len(t, recs, 2)
	assert.True(t, errors.IsFetchError(err), "truncated body is a transport failure, got %v", err)
}

func TestRegistry(t *testing.T) {
	r := NewDefaultRegistry(nil)
	assert.Equal(t, []string{"json", "rss"}, r.Formats())

	a, err := r.Get("rss")
	require.NoError(t, err)
	assert.Equal(t, FormatRSS, a.Format())

	_, err = r.Get("csv")
	require.Error(t, err)
	assert.True(t, errors.IsInvalidRequestError(err))

	assert.Error(t, r.Register(NewJSONAdapter(nil)))
}
