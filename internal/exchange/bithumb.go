package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const bithumbBaseURL = "https://api.bithumb.com"

// bithumbClient mirrors upbitClient's shape: another spot-only KRW venue
// with the same HMAC-over-query-string simplification in place of its
// production nonce-and-signature scheme.
type bithumbClient struct {
	doer      httpDoer
	apiKey    string
	apiSecret string
	log       zerolog.Logger
	baseURL   string
}

func (c *bithumbClient) sign(query url.Values) string {
	mac := hmac.New(sha512.New, []byte(c.apiSecret))
	mac.Write([]byte(query.Encode()))
	return hex.EncodeToString(mac.Sum(nil))
}

func (c *bithumbClient) doSigned(ctx context.Context, path string, query url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+query.Encode(), nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Api-Key", c.apiKey)
	req.Header.Set("Api-Sign", c.sign(query))
	return c.do(req, out)
}

func (c *bithumbClient) doPublic(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	return c.do(req, out)
}

func (c *bithumbClient) do(req *http.Request, out any) error {
	resp, err := c.doer.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("bithumb: status %d: %s", resp.StatusCode, string(body))
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(body, out)
}

type bithumbBalanceResponse struct {
	Status string            `json:"status"`
	Data   map[string]string `json:"data"`
}

// FetchBalances implements Exchange. Bithumb's balance payload is a flat
// map keyed "available_{currency}" / "in_use_{currency}" rather than a
// record array.
func (c *bithumbClient) FetchBalances(ctx context.Context) (map[string]float64, error) {
	var resp bithumbBalanceResponse
	if err := c.doSigned(ctx, "/info/balance", url.Values{"currency": {"ALL"}}, &resp); err != nil {
		return nil, fmt.Errorf("fetch balances: %w", err)
	}
	totals := make(map[string]float64)
	for key, val := range resp.Data {
		if !strings.HasPrefix(key, "available_") && !strings.HasPrefix(key, "in_use_") {
			continue
		}
		currency := strings.ToUpper(strings.TrimPrefix(strings.TrimPrefix(key, "available_"), "in_use_"))
		amount, _ := strconv.ParseFloat(val, 64)
		totals[currency] += amount
	}
	out := make(map[string]float64)
	for currency, amount := range totals {
		if amount > 0 {
			out[currency] = amount
		}
	}
	return out, nil
}

type bithumbTransaction struct {
	Type           string `json:"type"` // "bid" or "ask"
	UnitsTraded    string `json:"units_traded"`
	Price          string `json:"price"`
	TransactionDate string `json:"transaction_date"`
}

type bithumbTransactionsResponse struct {
	Status string               `json:"status"`
	Data   []bithumbTransaction `json:"data"`
}

// ListOrdersSince implements Exchange.
func (c *bithumbClient) ListOrdersSince(ctx context.Context, sinceMS int64) ([]Order, error) {
	balances, err := c.FetchBalances(ctx)
	if err != nil {
		return nil, err
	}

	var orders []Order
	for currency := range balances {
		if currency == "KRW" {
			continue
		}
		var resp bithumbTransactionsResponse
		if err := c.doSigned(ctx, "/info/user_transactions", url.Values{"currency": {currency}}, &resp); err != nil {
			c.log.Debug().Err(err).Str("currency", currency).Msg("list transactions failed, skipping")
			continue
		}
		for _, tx := range resp.Data {
			txTime, err := time.Parse("2006-01-02 15:04:05", tx.TransactionDate)
			if err != nil || txTime.UnixMilli() < sinceMS {
				continue
			}
			units, _ := strconv.ParseFloat(tx.UnitsTraded, 64)
			price, _ := strconv.ParseFloat(tx.Price, 64)
			side := "buy"
			if tx.Type == "ask" {
				side = "sell"
			}
			orders = append(orders, Order{
				Symbol:      currency + "_KRW",
				Side:        side,
				Amount:      units,
				Cost:        units * price,
				TimestampMS: txTime.UnixMilli(),
				Status:      "filled",
			})
		}
	}
	return orders, nil
}

// FetchPositions implements Exchange.
func (c *bithumbClient) FetchPositions(ctx context.Context) ([]Position, error) {
	balances, err := c.FetchBalances(ctx)
	if err != nil {
		return nil, err
	}
	var positions []Position
	for currency, amount := range balances {
		if currency == "KRW" || amount <= 0 {
			continue
		}
		symbol := currency + "_KRW"
		price, err := c.FetchTicker(ctx, symbol)
		if err != nil {
			continue
		}
		positions = append(positions, Position{Symbol: symbol, Side: "long", Size: amount, EntryPrice: price, Leverage: 1, Synthetic: true})
	}
	return positions, nil
}

type bithumbTickerResponse struct {
	Status string            `json:"status"`
	Data   map[string]string `json:"data"`
}

// FetchTicker implements Exchange.
func (c *bithumbClient) FetchTicker(ctx context.Context, symbol string) (float64, error) {
	currency := strings.TrimSuffix(symbol, "_KRW")
	var resp bithumbTickerResponse
	if err := c.doPublic(ctx, "/public/ticker/"+currency+"_KRW", &resp); err != nil {
		return 0, fmt.Errorf("fetch ticker: %w", err)
	}
	closing, ok := resp.Data["closing_price"]
	if !ok {
		return 0, fmt.Errorf("no closing price for %s", symbol)
	}
	return strconv.ParseFloat(closing, 64)
}
