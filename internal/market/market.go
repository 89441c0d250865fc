// Package market implements the market data source capability (C5): a
// single Fetch entry point dispatching to one of six stream types, each
// backed by its own public HTTP endpoint. A fetch failure yields nothing and
// is never treated as a contract error — the next poll cycle retries.
package market

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// httpDoer is the narrow capability Source needs from an HTTP client,
// letting tests substitute a fake transport instead of hitting real venues.
type httpDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Source is the concrete MarketSource implementation. Endpoint fields
// default to each venue's production host and are only ever overridden in
// tests.
type Source struct {
	client http.Client
	doer   httpDoer

	BinanceSpotBase    string
	BinanceFuturesBase string
	FearGreedBase      string
	UpbitBase          string
	CryptoPanicBase    string
	CryptoPanicAPIKey  string

	log zerolog.Logger
}

// New builds a Source with production endpoints and the given timeout.
func New(cryptoPanicAPIKey string, timeout time.Duration, log zerolog.Logger) *Source {
	c := http.Client{Timeout: timeout}
	return &Source{
		client:             c,
		doer:               &c,
		BinanceSpotBase:    "https://api.binance.com",
		BinanceFuturesBase: "https://fapi.binance.com",
		FearGreedBase:      "https://api.alternative.me",
		UpbitBase:          "https://api.upbit.com",
		CryptoPanicBase:    "https://cryptopanic.com/api/v1",
		CryptoPanicAPIKey:  cryptoPanicAPIKey,
		log:                log.With().Str("component", "market").Logger(),
	}
}

// Fetch dispatches by streamType. A nil, false return (with nil error) means
// "no value yet, not an error"; a non-nil error means the fetch itself
// failed transiently and the caller should simply retry next cycle.
func (s *Source) Fetch(ctx context.Context, streamType, symbol string, config map[string]any) (map[string]any, bool, error) {
	switch streamType {
	case "price":
		return s.fetchPrice(ctx, symbol, config)
	case "funding":
		return s.fetchFunding(ctx, symbol)
	case "oi":
		return s.fetchOI(ctx, symbol, config)
	case "news":
		return s.fetchNews(ctx)
	case "indicator":
		if symbol == "fear_greed" {
			return s.fetchFearGreed(ctx)
		}
		return nil, false, nil
	case "spread":
		if symbol == "kimchi" {
			return s.fetchKimchi(ctx)
		}
		return nil, false, nil
	default:
		return nil, false, nil
	}
}

func (s *Source) getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("market: build request: %w", err)
	}
	resp, err := s.doer.Do(req)
	if err != nil {
		return fmt.Errorf("market: request %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("market: %s returned status %d", url, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("market: decode response from %s: %w", url, err)
	}
	return nil
}
