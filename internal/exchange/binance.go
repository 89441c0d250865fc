package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
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

const binanceBaseURL = "https://api.binance.com"

type binanceClient struct {
	doer      httpDoer
	apiKey    string
	apiSecret string
	log       zerolog.Logger
	baseURL   string
}

func (c *binanceClient) sign(query url.Values) url.Values {
	query.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
	mac := hmac.New(sha256.New, []byte(c.apiSecret))
	mac.Write([]byte(query.Encode()))
	query.Set("signature", hex.EncodeToString(mac.Sum(nil)))
	return query
}

func (c *binanceClient) doSigned(ctx context.Context, path string, query url.Values, out any) error {
	query = c.sign(query)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+query.Encode(), nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("X-MBX-APIKEY", c.apiKey)
	return c.do(req, out)
}

func (c *binanceClient) doPublic(ctx context.Context, path string, query url.Values, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	return c.do(req, out)
}

func (c *binanceClient) do(req *http.Request, out any) error {
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
		return fmt.Errorf("binance: status %d: %s", resp.StatusCode, string(body))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

type binanceBalance struct {
	Asset  string `json:"asset"`
	Free   string `json:"free"`
	Locked string `json:"locked"`
}

type binanceAccount struct {
	Balances []binanceBalance `json:"balances"`
}

// FetchBalances implements Exchange.
func (c *binanceClient) FetchBalances(ctx context.Context) (map[string]float64, error) {
	var account binanceAccount
	if err := c.doSigned(ctx, "/api/v3/account", url.Values{}, &account); err != nil {
		return nil, fmt.Errorf("fetch balances: %w", err)
	}
	out := make(map[string]float64)
	for _, b := range account.Balances {
		free, _ := strconv.ParseFloat(b.Free, 64)
		locked, _ := strconv.ParseFloat(b.Locked, 64)
		total := free + locked
		if total > 0 {
			out[b.Asset] = total
		}
	}
	return out, nil
}

type binanceTrade struct {
	Symbol   string `json:"symbol"`
	ID       int64  `json:"id"`
	OrderID  int64  `json:"orderId"`
	Price    string `json:"price"`
	Qty      string `json:"qty"`
	QuoteQty string `json:"quoteQty"`
	Time     int64  `json:"time"`
	IsBuyer  bool   `json:"isBuyer"`
}

// ListOrdersSince implements Exchange. Binance's trade-history endpoint is
// scoped to one symbol per call, so the instrument universe is derived from
// the account's current non-quote balances plus USDT, matching what the
// account has actually touched recently.
func (c *binanceClient) ListOrdersSince(ctx context.Context, sinceMS int64) ([]Order, error) {
	balances, err := c.FetchBalances(ctx)
	if err != nil {
		return nil, err
	}

	var orders []Order
	for asset := range balances {
		if asset == "USDT" || asset == "BUSD" || asset == "USDC" {
			continue
		}
		symbol := strings.ToUpper(asset) + "USDT"
		var trades []binanceTrade
		query := url.Values{"symbol": {symbol}, "startTime": {strconv.FormatInt(sinceMS, 10)}, "limit": {"500"}}
		if err := c.doSigned(ctx, "/api/v3/myTrades", query, &trades); err != nil {
			c.log.Debug().Err(err).Str("symbol", symbol).Msg("list trades failed, skipping symbol")
			continue
		}
		for _, t := range trades {
			price, _ := strconv.ParseFloat(t.Price, 64)
			qty, _ := strconv.ParseFloat(t.Qty, 64)
			cost, _ := strconv.ParseFloat(t.QuoteQty, 64)
			side := "sell"
			if t.IsBuyer {
				side = "buy"
			}
			orders = append(orders, Order{
				Symbol:      t.Symbol,
				Side:        side,
				Amount:      qty,
				Cost:        cost,
				TimestampMS: t.Time,
				Status:      "filled",
				Raw:         map[string]any{"id": t.ID, "order_id": t.OrderID, "price": price},
			})
		}
	}
	return orders, nil
}

// FetchPositions implements Exchange. Spot venues have no native
// derivatives concept, so positions are synthesized as long-only holdings
// from every non-quote balance, priced against the quote ticker.
func (c *binanceClient) FetchPositions(ctx context.Context) ([]Position, error) {
	balances, err := c.FetchBalances(ctx)
	if err != nil {
		return nil, err
	}
	var positions []Position
	for asset, amount := range balances {
		if asset == "USDT" || asset == "BUSD" || asset == "USDC" || amount <= 0 {
			continue
		}
		symbol := strings.ToUpper(asset) + "USDT"
		price, err := c.FetchTicker(ctx, symbol)
		if err != nil {
			continue
		}
		positions = append(positions, Position{
			Symbol:     symbol,
			Side:       "long",
			Size:       amount,
			EntryPrice: price,
			Leverage:   1,
			Synthetic:  true,
		})
	}
	return positions, nil
}

type binancePriceTicker struct {
	Price string `json:"price"`
}

// FetchTicker implements Exchange.
func (c *binanceClient) FetchTicker(ctx context.Context, symbol string) (float64, error) {
	var ticker binancePriceTicker
	if err := c.doPublic(ctx, "/api/v3/ticker/price", url.Values{"symbol": {symbol}}, &ticker); err != nil {
		return 0, fmt.Errorf("fetch ticker: %w", err)
	}
	price, err := strconv.ParseFloat(ticker.Price, 64)
	if err != nil {
		return 0, fmt.Errorf("parse ticker price: %w", err)
	}
	return price, nil
}
