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
	"time"

	"github.com/rs/zerolog"
)

const upbitBaseURL = "https://api.upbit.com"

// upbitClient is a spot-only KRW venue: balances and a synthetic-positions
// view over them, same shape as binanceClient. Upbit's production API signs
// requests with a JWT carrying a query-param hash; this adapter signs with
// the same HMAC-over-query-string shape the other two venues use rather
// than pull in a JWT library for one venue, since no JWT dependency exists
// anywhere in this module's stack.
type upbitClient struct {
	doer      httpDoer
	apiKey    string
	apiSecret string
	log       zerolog.Logger
	baseURL   string
}

func (c *upbitClient) sign(query url.Values) string {
	mac := hmac.New(sha512.New, []byte(c.apiSecret))
	mac.Write([]byte(query.Encode()))
	return hex.EncodeToString(mac.Sum(nil))
}

func (c *upbitClient) doSigned(ctx context.Context, path string, query url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+query.Encode(), nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey+"."+c.sign(query))
	return c.do(req, out)
}

func (c *upbitClient) doPublic(ctx context.Context, path string, query url.Values, out any) error {
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

func (c *upbitClient) do(req *http.Request, out any) error {
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
		return fmt.Errorf("upbit: status %d: %s", resp.StatusCode, string(body))
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(body, out)
}

type upbitAccount struct {
	Currency string `json:"currency"`
	Balance  string `json:"balance"`
	Locked   string `json:"locked"`
}

// FetchBalances implements Exchange.
func (c *upbitClient) FetchBalances(ctx context.Context) (map[string]float64, error) {
	var accounts []upbitAccount
	if err := c.doSigned(ctx, "/v1/accounts", url.Values{}, &accounts); err != nil {
		return nil, fmt.Errorf("fetch balances: %w", err)
	}
	out := make(map[string]float64)
	for _, a := range accounts {
		balance, _ := strconv.ParseFloat(a.Balance, 64)
		locked, _ := strconv.ParseFloat(a.Locked, 64)
		total := balance + locked
		if total > 0 {
			out[a.Currency] = total
		}
	}
	return out, nil
}

type upbitOrder struct {
	Market        string `json:"market"`
	Side          string `json:"side"`
	ExecutedVolume string `json:"executed_volume"`
	Paid          string `json:"paid_fee"`
	CreatedAt     string `json:"created_at"`
	State         string `json:"state"`
}

// ListOrdersSince implements Exchange.
func (c *upbitClient) ListOrdersSince(ctx context.Context, sinceMS int64) ([]Order, error) {
	balances, err := c.FetchBalances(ctx)
	if err != nil {
		return nil, err
	}

	var orders []Order
	for currency := range balances {
		if currency == "KRW" {
			continue
		}
		market := "KRW-" + currency
		var venueOrders []upbitOrder
		query := url.Values{"market": {market}, "state": {"done"}}
		if err := c.doSigned(ctx, "/v1/orders", query, &venueOrders); err != nil {
			c.log.Debug().Err(err).Str("market", market).Msg("list orders failed, skipping market")
			continue
		}
		for _, o := range venueOrders {
			createdAt, err := time.Parse(time.RFC3339, o.CreatedAt)
			if err != nil || createdAt.UnixMilli() < sinceMS {
				continue
			}
			volume, _ := strconv.ParseFloat(o.ExecutedVolume, 64)
			orders = append(orders, Order{
				Symbol:      o.Market,
				Side:        o.Side,
				Amount:      volume,
				TimestampMS: createdAt.UnixMilli(),
				Status:      o.State,
				Raw:         map[string]any{"paid_fee": o.Paid},
			})
		}
	}
	return orders, nil
}

// FetchPositions implements Exchange.
func (c *upbitClient) FetchPositions(ctx context.Context) ([]Position, error) {
	balances, err := c.FetchBalances(ctx)
	if err != nil {
		return nil, err
	}
	var positions []Position
	for currency, amount := range balances {
		if currency == "KRW" || amount <= 0 {
			continue
		}
		market := "KRW-" + currency
		price, err := c.FetchTicker(ctx, market)
		if err != nil {
			continue
		}
		positions = append(positions, Position{Symbol: market, Side: "long", Size: amount, EntryPrice: price, Leverage: 1, Synthetic: true})
	}
	return positions, nil
}

type upbitTickerResponse struct {
	Market    string  `json:"market"`
	TradePrice float64 `json:"trade_price"`
}

// FetchTicker implements Exchange.
func (c *upbitClient) FetchTicker(ctx context.Context, symbol string) (float64, error) {
	var tickers []upbitTickerResponse
	if err := c.doPublic(ctx, "/v1/ticker", url.Values{"markets": {symbol}}, &tickers); err != nil {
		return 0, fmt.Errorf("fetch ticker: %w", err)
	}
	if len(tickers) == 0 {
		return 0, fmt.Errorf("no ticker data for %s", symbol)
	}
	return tickers[0].TradePrice, nil
}
