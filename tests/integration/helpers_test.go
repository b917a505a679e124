//go:build integration

package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"purchasedash/internal/records"
	"purchasedash/internal/server"
)

// API endpoints
const (
	healthPath      = "/health"
	analyticsPrefix = "/api/v1/analytics/"
	recordsPrefix   = "/api/v1/records/"
)

// seriesQuery describes one GET against a series endpoint.
type seriesQuery struct {
	Collection string
	Cumulative bool
	Months     int
	Filter     string
}

func (q seriesQuery) url(serverURL string) string {
	path := analyticsPrefix + q.Collection + "/monthly"
	if q.Cumulative {
		path += "/cumulative"
	}
	params := url.Values{}
	if q.Months > 0 {
		params.Set("months", fmt.Sprintf("%d", q.Months))
	}
	if q.Filter != "" {
		params.Set("filter", q.Filter)
	}
	if len(params) > 0 {
		path += "?" + params.Encode()
	}
	return serverURL + path
}

// getSeries fetches a series and fails the test on any non-200 answer.
func getSeries(t *testing.T, serverURL string, q seriesQuery) server.SeriesResponse {
	t.Helper()

	resp := doRequest(t, http.MethodGet, q.url(serverURL), nil, nil)
	defer closeBody(resp)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var out server.SeriesResponse
	require.NoError(t, json.Unmarshal(body, &out))
	return out
}

// postRecords ingests recs into collection and returns the response.
func postRecords(t *testing.T, serverURL, collection string, recs []records.Record, headers map[string]string) *http.Response {
	t.Helper()

	body, err := json.Marshal(recs)
	require.NoError(t, err, "failed to marshal records")
	return doRequest(t, http.MethodPost, serverURL+recordsPrefix+collection, body, headers)
}

func doRequest(t *testing.T, method, url string, body []byte, headers map[string]string) *http.Response {
	t.Helper()

	req, err := http.NewRequest(method, url, bytes.NewReader(body))
	require.NoError(t, err, "failed to create request")

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	require.NoError(t, err, "failed to send request")
	return resp
}

// closeBody closes the response body, ignoring errors.
func closeBody(resp *http.Response) {
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
}

// monthsAgo returns a timestamp inside the calendar month n months before now,
// in UTC. n == 0 yields now itself so the record is never in the future.
func monthsAgo(now time.Time, n int) time.Time {
	now = now.UTC()
	if n == 0 {
		return now
	}
	return time.Date(now.Year(), now.Month()-time.Month(n), 1, 12, 0, 0, 0, time.UTC)
}

// newRecord builds a record in collection created at ts.
func newRecord(collection string, ts time.Time, status string, amount float64) records.Record {
	r := records.NewRecord(collection, ts)
	r.Status = status
	r.TotalAmount = amount
	return r
}
