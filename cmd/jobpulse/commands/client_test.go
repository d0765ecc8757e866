package commands

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/jobpulse/errors"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *apiClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	apiURL = srv.URL + "/"
	t.Cleanup(func() { apiURL = "" })

	client, err := newAPIClient()
	require.NoError(t, err)
	return client
}

func TestAPIClient_DecodesData(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/import/jobs", r.URL.Path)
		assert.Equal(t, "pending", r.URL.Query().Get("state"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true,"data":{"jobs":[{"id":"job-1","state":"pending"}],"count":1}}`))
	})

	var list jobList
	err := client.do(context.Background(), http.MethodGet, "/api/import/jobs", url.Values{"state": {"pending"}}, nil, &list)
	require.NoError(t, err)
	require.Equal(t, 1, list.Count)
	assert.Equal(t, "job-1", list.Jobs[0].ID)
}

func TestAPIClient_SendsBody(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.EqualValues(t, 7, body["priority"])
		_, _ = w.Write([]byte(`{"success":true,"data":{"jobId":"job-7"}}`))
	})

	var resp struct {
		JobID string `json:"jobId"`
	}
	err := client.do(context.Background(), http.MethodPost, "/api/import/trigger", nil, map[string]int{"priority": 7}, &resp)
	require.NoError(t, err)
	assert.Equal(t, "job-7", resp.JobID)
}

func TestAPIClient_ErrorEnvelope(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"success":false,"message":"job job-1 is already completed"}`))
	})

	err := client.do(context.Background(), http.MethodPost, "/api/import/jobs/job-1/cancel", nil, nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already completed")
	assert.Contains(t, err.Error(), "HTTP 409")
}

func TestAPIClient_ServerDown(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	apiURL = srv.URL
	t.Cleanup(func() { apiURL = "" })
	srv.Close()

	client, err := newAPIClient()
	require.NoError(t, err)

	err = client.do(context.Background(), http.MethodGet, "/api/import/status", nil, nil, nil)
	require.Error(t, err)
	assert.Contains(t, errors.GetAllHints(err), "is the server running? start it with: jobpulse server")
}

func TestSourcesLabel(t *testing.T) {
	assert.Equal(t, "all", sourcesLabel(nil))
	assert.Equal(t, "remoteok,jobicy", sourcesLabel([]string{"remoteok", "jobicy"}))
	assert.Equal(t, "12345678", shortJobID("123456789abc"))
	assert.Equal(t, "abc", shortJobID("abc"))
}
