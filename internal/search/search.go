// Package search implements the web search tier of the Signal
// Pipeline's collector (§4.10 tier 3): a thin client over a public search
// API, following the same doer-wrapped-http.Client shape internal/market
// and internal/exchange already use for similar third-party JSON APIs.
package search

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"
)

// Result is one search hit.
type Result struct {
	URL   string
	Title string
	Score float64
}

// Provider is the capability the collector needs.
type Provider interface {
	Search(ctx context.Context, query string) ([]Result, error)
}

type httpDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client is a Provider backed by the Brave Search API, chosen because it
// needs only a single API-key header and returns plain JSON — no search
// vendor SDK exists anywhere in this module's dependency stack, so this
// follows the pack's own thin-REST-wrapper idiom rather than inventing a
// client library.
type Client struct {
	doer    httpDoer
	apiKey  string
	baseURL string
	log     zerolog.Logger
}

// New builds a Client. An empty apiKey disables search: Search then always
// returns (nil, nil), mirroring internal/market's no-key-configured fallback.
func New(apiKey string, timeout time.Duration, log zerolog.Logger) *Client {
	c := &http.Client{Timeout: timeout}
	return &Client{
		doer:    c,
		apiKey:  apiKey,
		baseURL: "https://api.search.brave.com/res/v1/web/search",
		log:     log.With().Str("component", "search").Logger(),
	}
}

type braveResponse struct {
	Web struct {
		Results []struct {
			URL   string `json:"url"`
			Title string `json:"title"`
		} `json:"results"`
	} `json:"web"`
}

// Search runs one query and returns results in the order the API ranked
// them, highest-relevance first; Score is synthesized as a descending rank
// weight since Brave's API does not expose a numeric relevance score.
func (c *Client) Search(ctx context.Context, query string) ([]Result, error) {
	if c.apiKey == "" {
		return nil, nil
	}

	u := c.baseURL + "?q=" + url.QueryEscape(query)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("search: build request: %w", err)
	}
	req.Header.Set("X-Subscription-Token", c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.doer.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search: request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search: returned status %d", resp.StatusCode)
	}

	var br braveResponse
	if err := json.NewDecoder(resp.Body).Decode(&br); err != nil {
		return nil, fmt.Errorf("search: decode response: %w", err)
	}

	out := make([]Result, 0, len(br.Web.Results))
	for i, r := range br.Web.Results {
		out = append(out, Result{URL: r.URL, Title: r.Title, Score: 1.0 / float64(i+1)})
	}
	return out, nil
}
