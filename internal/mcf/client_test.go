package mcf

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/attribution-cli/internal/resilience"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

var day = time.Date(2024, 3, 14, 0, 0, 0, 0, time.UTC)

func testClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	c, err := NewClient(context.Background(), Options{
		BaseURL:           srv.URL,
		MaxResults:        2,
		RequestsPerSecond: 1000,
		Retry: resilience.Policy{
			Attempts:   3,
			Backoff:    time.Millisecond,
			MaxBackoff: 5 * time.Millisecond,
		},
		HTTPClient: srv.Client(),
	})
	require.NoError(t, err)
	return c
}

func writePage(t *testing.T, w http.ResponseWriter, r *Response) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	require.NoError(t, json.NewEncoder(w).Encode(r))
}

func TestReport_QueryParameters(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/data/mcf", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "ga:12345", q.Get("ids"))
		assert.Equal(t, "2024-03-14", q.Get("start-date"))
		assert.Equal(t, "2024-03-14", q.Get("end-date"))
		assert.Equal(t, "mcf:totalConversionValue", q.Get("metrics"))
		assert.Equal(t, "mcf:sourcePath,mcf:mediumPath,mcf:campaignPath,mcf:transactionId", q.Get("dimensions"))
		assert.Equal(t, "mcf:transactionId!=(not set)", q.Get("filters"))
		assert.Equal(t, "2", q.Get("max-results"))
		assert.Empty(t, q.Get("start-index"))
		writePage(t, w, &Response{ColumnHeaders: headers()})
	}))
	defer srv.Close()

	pages, err := testClient(t, srv).Report(context.Background(), "12345", day)
	require.NoError(t, err)
	assert.Len(t, pages, 1)
}

func TestFetchPaths_FollowsNextLink(t *testing.T) {
	var calls atomic.Int32
	var srvURL string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		start, _ := strconv.Atoi(r.URL.Query().Get("start-index"))
		switch start {
		case 0:
			writePage(t, w, &Response{
				TotalResults:  3,
				NextLink:      srvURL + "/data/mcf?ids=ga:1&start-index=3&max-results=2",
				ColumnHeaders: headers(),
				Rows: [][]Cell{
					{seq("google"), seq("cpc"), seq("a"), prim("T1"), prim("1")},
					{seq("bing"), seq("cpc"), seq("b"), prim("T2"), prim("2")},
				},
			})
		case 3:
			writePage(t, w, &Response{
				TotalResults:  3,
				ColumnHeaders: headers(),
				Rows: [][]Cell{
					{seq("email"), seq("newsletter"), seq("c"), prim("T3"), prim("3")},
				},
			})
		default:
			t.Errorf("unexpected start-index %d", start)
			w.WriteHeader(http.StatusBadRequest)
		}
	}))
	defer srv.Close()
	srvURL = srv.URL

	raws, err := testClient(t, srv).FetchPaths(context.Background(), "ga:1", day)
	require.NoError(t, err)
	require.Len(t, raws, 3)
	assert.Equal(t, []string{"T1", "T2", "T3"}, []string{raws[0].TransactionID, raws[1].TransactionID, raws[2].TransactionID})
	assert.Equal(t, int32(2), calls.Load())
}

func TestReport_NonAdvancingNextLink(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writePage(t, w, &Response{
			NextLink:      "https://example.com/data/mcf?start-index=0",
			ColumnHeaders: headers(),
		})
	}))
	defer srv.Close()

	_, err := testClient(t, srv).Report(context.Background(), "1", day)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not advance")
}

func TestReport_RetriesTransientStatus(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprint(w, `{"error":"backend"}`)
			return
		}
		writePage(t, w, &Response{ColumnHeaders: headers()})
	}))
	defer srv.Close()

	pages, err := testClient(t, srv).Report(context.Background(), "1", day)
	require.NoError(t, err)
	assert.Len(t, pages, 1)
	assert.Equal(t, int32(3), calls.Load())
}

func TestReport_GivesUpAfterAttempts(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := testClient(t, srv).Report(context.Background(), "1", day)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 429")
	assert.Equal(t, int32(3), calls.Load())
}

func TestReport_PermanentErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, `{"error":"User does not have sufficient permissions for this profile."}`)
	}))
	defer srv.Close()

	_, err := testClient(t, srv).Report(context.Background(), "1", day)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 403")
	assert.Contains(t, err.Error(), "sufficient permissions")
	assert.Equal(t, int32(1), calls.Load())
}

func TestReport_MalformedJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{not json`)
	}))
	defer srv.Close()

	_, err := testClient(t, srv).Report(context.Background(), "1", day)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode response")
}

func TestNewClient_RequiresCredentials(t *testing.T) {
	_, err := NewClient(context.Background(), Options{})
	require.Error(t, err)

	_, err = NewClient(context.Background(), Options{KeyFile: "/does/not/exist.json"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read key file")
}

func TestNewClient_Defaults(t *testing.T) {
	c, err := NewClient(context.Background(), Options{HTTPClient: http.DefaultClient, MaxResults: 50000})
	require.NoError(t, err)
	assert.Equal(t, MaxResultsLimit, c.maxResults)
	assert.Equal(t, "https://www.googleapis.com/analytics/v3", c.baseURL)
}
