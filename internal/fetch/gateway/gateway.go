// Package gateway implements a research.Fetcher for institutional medical
// publishers that are reached through an aulavox search gateway. The gateway
// is a deployment-side service wrapping one publisher's search (WHO, NIH,
// ISS, AIFA or an internal mirror) behind a single JSON contract:
//
//	GET {base}/api/v1/search?q={term}&limit={n}&lang={code}
//	→ {"results": [document, ...]}
//
// One Client is bound to one publisher so source attribution and circuit
// breaker wiring stay per-origin.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/aulavox/aulavox/internal/fetch"
	"github.com/aulavox/aulavox/pkg/recognizer/research"
	"github.com/aulavox/aulavox/pkg/types"
)

const (
	searchPath = "/api/v1/search"

	// defaultLimit caps results when the query does not.
	defaultLimit = 5

	defaultRequestTimeout = 10 * time.Second
)

// Compile-time assertion that Client implements research.Fetcher.
var _ research.Fetcher = (*Client)(nil)

// Option is a functional option for configuring a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client, e.g. to share a transport
// across fetchers or tighten timeouts.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithAPIKey sends the key as X-Api-Key on every request.
func WithAPIKey(key string) Option {
	return func(c *Client) {
		c.apiKey = key
	}
}

// WithOfficial marks every result as coming from an official institutional
// publisher.
func WithOfficial(official bool) Option {
	return func(c *Client) {
		c.official = official
	}
}

// WithContentCategory sets the category applied to results the gateway did
// not classify.
func WithContentCategory(category string) Option {
	return func(c *Client) {
		c.category = category
	}
}

// Client talks to one search gateway instance. Safe for concurrent use.
type Client struct {
	source     types.SourceType
	serverURL  string
	httpClient *http.Client
	apiKey     string
	official   bool
	category   string
}

// New creates a fetcher for the publisher identified by source, reached at
// serverURL (scheme and host, no trailing path).
func New(source types.SourceType, serverURL string, opts ...Option) (*Client, error) {
	if source == "" {
		return nil, types.Errorf(types.KindConfiguration, "gateway: source type is required")
	}
	if serverURL == "" {
		return nil, types.Errorf(types.KindConfiguration, "gateway: server URL is required for %s", source)
	}
	c := &Client{
		source:     source,
		serverURL:  strings.TrimRight(serverURL, "/"),
		httpClient: &http.Client{Timeout: defaultRequestTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Search implements research.Fetcher.
func (c *Client) Search(ctx context.Context, q research.Query) ([]types.MedicalSource, error) {
	if strings.TrimSpace(q.Term) == "" {
		return nil, types.Errorf(types.KindValidation, "gateway: empty search term")
	}
	limit := q.Limit
	if limit <= 0 {
		limit = defaultLimit
	}

	params := url.Values{}
	params.Set("q", q.Term)
	params.Set("limit", strconv.Itoa(limit))
	if q.Language != "" {
		params.Set("lang", q.Language)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.serverURL+searchPath+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("gateway: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", fetch.UserAgent)
	if c.apiKey != "" {
		req.Header.Set("X-Api-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, types.ErrCancelled
		}
		return nil, types.Errorf(types.KindTransient, "gateway: %s: http request: %v", c.source, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		// fall through to decode
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return nil, types.Errorf(types.KindTransient, "gateway: %s returned HTTP %d", c.source, resp.StatusCode)
	default:
		return nil, types.Errorf(types.KindExternal, "gateway: %s returned HTTP %d", c.source, resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, types.Errorf(types.KindTransient, "gateway: %s: read response body: %v", c.source, err)
	}

	var out struct {
		Results []fetch.Document `json:"results"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, types.Errorf(types.KindExternal, "gateway: %s: parse JSON response: %v", c.source, err)
	}

	sources := make([]types.MedicalSource, 0, len(out.Results))
	for i, doc := range out.Results {
		s := doc.MedicalSource(c.source, c.official, i)
		if s.ContentCategory == "" {
			s.ContentCategory = c.category
		}
		sources = append(sources, s)
	}
	return sources, nil
}

// Source implements research.Fetcher.
func (c *Client) Source() types.SourceType {
	return c.source
}
