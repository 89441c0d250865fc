// Package exchange implements the Exchange Source capability (C6): credentialed
// reads of a user's order history, balances, positions and tickers across a
// small, generic set of venues. Every adapter is a thin client wrapping an
// httpDoer, following the same SDK-substitution idiom the core persistence
// clients use, so tests never hit a live exchange.
package exchange

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// Order is one normalised fill/order, independent of venue.
type Order struct {
	Symbol      string
	Side        string // "buy" or "sell"
	Amount      float64
	Cost        float64
	TimestampMS int64
	Status      string
	Raw         map[string]any
}

// Position is an open derivatives position, or a synthetic long-only
// position derived from a non-quote spot balance on venues that have no
// native derivatives concept.
type Position struct {
	Symbol     string
	Side       string // "long" or "short"
	Size       float64
	EntryPrice float64
	Leverage   float64
	Synthetic  bool
}

// Exchange is the narrow capability a credentialed venue connection
// provides. The default venue set is {binance, upbit, bithumb}; the
// interface itself names nothing venue-specific.
type Exchange interface {
	ListOrdersSince(ctx context.Context, sinceMS int64) ([]Order, error)
	FetchBalances(ctx context.Context) (map[string]float64, error)
	FetchPositions(ctx context.Context) ([]Position, error)
	FetchTicker(ctx context.Context, symbol string) (float64, error)
}

// httpDoer is the narrow seam every adapter depends on instead of *http.Client
// directly, so tests substitute a fake transport.
type httpDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// New builds the Exchange adapter for name ("binance", "upbit", "bithumb").
// apiKey/apiSecret must already be decrypted plaintext; callers must not
// retain them past this call.
func New(name, apiKey, apiSecret string, timeout time.Duration, log zerolog.Logger) (Exchange, error) {
	client := &http.Client{Timeout: timeout}
	sub := zerolog.Logger(log.With().Str("exchange", name).Logger())
	switch name {
	case "binance":
		return &binanceClient{doer: client, apiKey: apiKey, apiSecret: apiSecret, log: sub, baseURL: binanceBaseURL}, nil
	case "upbit":
		return &upbitClient{doer: client, apiKey: apiKey, apiSecret: apiSecret, log: sub, baseURL: upbitBaseURL}, nil
	case "bithumb":
		return &bithumbClient{doer: client, apiKey: apiKey, apiSecret: apiSecret, log: sub, baseURL: bithumbBaseURL}, nil
	default:
		return nil, fmt.Errorf("exchange: unknown venue %q", name)
	}
}
