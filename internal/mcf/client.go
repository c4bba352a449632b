// Package mcf queries the Google Analytics Multi-Channel Funnels reporting
// API for conversion paths.
package mcf

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"golang.org/x/time/rate"

	"github.com/sells-group/attribution-cli/internal/attribution"
	"github.com/sells-group/attribution-cli/internal/resilience"
)

// Scope is the OAuth scope for read-only Analytics access.
const Scope = "https://www.googleapis.com/auth/analytics.readonly"

// MaxResultsLimit is the largest page size the API accepts.
const MaxResultsLimit = 10000

// Options configures the client.
type Options struct {
	KeyFile           string        // service account JSON key
	BaseURL           string        // e.g. https://www.googleapis.com/analytics/v3
	MaxResults        int           // page size, default and max 10000
	RequestsPerSecond float64       // default 10
	Timeout           time.Duration // per request, default 60s
	Retry             resilience.Policy

	// HTTPClient replaces the OAuth client built from KeyFile.
	HTTPClient *http.Client
}

// Client fetches MCF conversion path reports.
type Client struct {
	http       *http.Client
	baseURL    string
	maxResults int
	limiter    *rate.Limiter
	retry      resilience.Policy
}

// NewClient builds a Client. Without an explicit HTTPClient it authenticates
// with the service account in opts.KeyFile.
func NewClient(ctx context.Context, opts Options) (*Client, error) {
	if opts.BaseURL == "" {
		opts.BaseURL = "https://www.googleapis.com/analytics/v3"
	}
	if opts.MaxResults <= 0 || opts.MaxResults > MaxResultsLimit {
		opts.MaxResults = MaxResultsLimit
	}
	if opts.RequestsPerSecond <= 0 {
		opts.RequestsPerSecond = 10
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.Retry.OnRetry == nil {
		opts.Retry.OnRetry = resilience.LogRetries("mcf.report")
	}

	hc := opts.HTTPClient
	if hc == nil {
		if opts.KeyFile == "" {
			return nil, eris.New("mcf: no key file or http client configured")
		}
		key, err := os.ReadFile(opts.KeyFile)
		if err != nil {
			return nil, eris.Wrapf(err, "mcf: read key file %s", opts.KeyFile)
		}
		creds, err := google.CredentialsFromJSON(ctx, key, Scope)
		if err != nil {
			return nil, eris.Wrap(err, "mcf: parse service account credentials")
		}
		hc = oauth2.NewClient(ctx, creds.TokenSource)
		hc.Timeout = opts.Timeout
	}

	burst := int(opts.RequestsPerSecond)
	if burst < 1 {
		burst = 1
	}

	return &Client{
		http:       hc,
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		maxResults: opts.MaxResults,
		limiter:    rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst),
		retry:      opts.Retry,
	}, nil
}

// FetchPaths returns the flattened conversion paths for one view and day.
// A day with no transactions yields no rows and no error.
func (c *Client) FetchPaths(ctx context.Context, viewID string, date time.Time) ([]attribution.RawPath, error) {
	pages, err := c.Report(ctx, viewID, date)
	if err != nil {
		return nil, err
	}
	return Flatten(pages)
}

// Report fetches every page of the conversion path report for one view and
// day, following nextLink until the API stops returning one.
func (c *Client) Report(ctx context.Context, viewID string, date time.Time) ([]*Response, error) {
	log := zap.L().With(
		zap.String("component", "mcf.client"),
		zap.String("view_id", viewID),
		zap.String("date", date.Format(attribution.DateLayout)),
	)

	var pages []*Response
	startIndex := 0
	for {
		page, err := resilience.Retry(ctx, c.retry, func(ctx context.Context) (*Response, error) {
			return c.get(ctx, c.query(viewID, date, startIndex))
		})
		if err != nil {
			return nil, eris.Wrapf(err, "mcf: report for view %s page %d", viewID, len(pages)+1)
		}
		pages = append(pages, page)

		next, more, err := nextStartIndex(page.NextLink)
		if err != nil {
			return nil, err
		}
		if !more {
			break
		}
		if next <= startIndex {
			return nil, eris.Errorf("mcf: nextLink start-index %d does not advance past %d", next, startIndex)
		}
		startIndex = next
	}

	log.Debug("report fetched", zap.Int("pages", len(pages)), zap.Int("total_results", pages[0].TotalResults))
	return pages, nil
}

func (c *Client) query(viewID string, date time.Time, startIndex int) url.Values {
	day := date.Format(attribution.DateLayout)
	q := url.Values{}
	q.Set("ids", "ga:"+strings.TrimPrefix(viewID, "ga:"))
	q.Set("start-date", day)
	q.Set("end-date", day)
	q.Set("metrics", ColConversionValue)
	q.Set("dimensions", strings.Join([]string{ColSourcePath, ColMediumPath, ColCampaignPath, ColTransactionID}, ","))
	q.Set("filters", ColTransactionID+"!=(not set)")
	q.Set("max-results", strconv.Itoa(c.maxResults))
	if startIndex > 0 {
		q.Set("start-index", strconv.Itoa(startIndex))
	}
	return q
}

func (c *Client) get(ctx context.Context, q url.Values) (*Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "mcf: rate limiter wait")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/data/mcf?"+q.Encode(), nil)
	if err != nil {
		return nil, eris.Wrap(err, "mcf: build request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "mcf: request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		statusErr := eris.Errorf("mcf: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
		if resilience.IsTransientStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(statusErr, resp.StatusCode)
		}
		return nil, statusErr
	}

	var page Response
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, eris.Wrap(err, "mcf: decode response")
	}
	return &page, nil
}
