package exchange

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDoer struct {
	responses map[string]string
}

func (f *fakeDoer) Do(req *http.Request) (*http.Response, error) {
	for substr, body := range f.responses {
		if strings.Contains(req.URL.String(), substr) {
			return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(strings.NewReader(body))}, nil
		}
	}
	return &http.Response{StatusCode: http.StatusNotFound, Body: io.NopCloser(strings.NewReader("{}"))}, nil
}

func TestNew_UnknownVenue(t *testing.T) {
	_, err := New("coinbase", "k", "s", time.Second, zerolog.Nop())
	assert.Error(t, err)
}

func TestNew_KnownVenues(t *testing.T) {
	for _, name := range []string{"binance", "upbit", "bithumb"} {
		ex, err := New(name, "k", "s", time.Second, zerolog.Nop())
		require.NoError(t, err)
		assert.NotNil(t, ex)
	}
}

func TestBinance_FetchBalances(t *testing.T) {
	c := &binanceClient{
		doer:    &fakeDoer{responses: map[string]string{"/api/v3/account": `{"balances":[{"asset":"BTC","free":"0.5","locked":"0"},{"asset":"USDT","free":"0","locked":"0"}]}`}},
		log:     zerolog.Nop(),
		baseURL: binanceBaseURL,
	}
	balances, err := c.FetchBalances(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0.5, balances["BTC"])
	assert.NotContains(t, balances, "USDT")
}

func TestBinance_FetchTicker(t *testing.T) {
	c := &binanceClient{
		doer:    &fakeDoer{responses: map[string]string{"ticker/price": `{"price":"65000.5"}`}},
		log:     zerolog.Nop(),
		baseURL: binanceBaseURL,
	}
	price, err := c.FetchTicker(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 65000.5, price)
}

func TestBinance_ListOrdersSince_SkipsQuoteAssets(t *testing.T) {
	c := &binanceClient{
		doer: &fakeDoer{responses: map[string]string{
			"/api/v3/account":  `{"balances":[{"asset":"BTC","free":"0.1","locked":"0"},{"asset":"USDT","free":"100","locked":"0"}]}`,
			"/api/v3/myTrades": `[{"symbol":"BTCUSDT","id":1,"orderId":9,"price":"65000","qty":"0.1","quoteQty":"6500","time":1700000000000,"isBuyer":true}]`,
		}},
		log:     zerolog.Nop(),
		baseURL: binanceBaseURL,
	}
	orders, err := c.ListOrdersSince(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, "buy", orders[0].Side)
	assert.Equal(t, 6500.0, orders[0].Cost)
}

func TestUpbit_FetchBalances(t *testing.T) {
	c := &upbitClient{
		doer:    &fakeDoer{responses: map[string]string{"/v1/accounts": `[{"currency":"BTC","balance":"0.2","locked":"0"},{"currency":"KRW","balance":"10000","locked":"0"}]`}},
		log:     zerolog.Nop(),
		baseURL: upbitBaseURL,
	}
	balances, err := c.FetchBalances(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0.2, balances["BTC"])
	assert.Equal(t, 10000.0, balances["KRW"])
}

func TestUpbit_FetchTicker(t *testing.T) {
	c := &upbitClient{
		doer:    &fakeDoer{responses: map[string]string{"/v1/ticker": `[{"market":"KRW-BTC","trade_price":91000000}]`}},
		log:     zerolog.Nop(),
		baseURL: upbitBaseURL,
	}
	price, err := c.FetchTicker(context.Background(), "KRW-BTC")
	require.NoError(t, err)
	assert.Equal(t, 91000000.0, price)
}

func TestBithumb_FetchBalances(t *testing.T) {
	c := &bithumbClient{
		doer: &fakeDoer{responses: map[string]string{"/info/balance": `{"status":"0000","data":{"available_btc":"0.3","in_use_btc":"0.1","available_krw":"50000"}}`}},
		log:  zerolog.Nop(), baseURL: bithumbBaseURL,
	}
	balances, err := c.FetchBalances(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0.4, balances["BTC"])
	assert.Equal(t, 50000.0, balances["KRW"])
}

func TestBithumb_FetchTicker(t *testing.T) {
	c := &bithumbClient{
		doer: &fakeDoer{responses: map[string]string{"/public/ticker/BTC_KRW": `{"status":"0000","data":{"closing_price":"91000000"}}`}},
		log:  zerolog.Nop(), baseURL: bithumbBaseURL,
	}
	price, err := c.FetchTicker(context.Background(), "BTC_KRW")
	require.NoError(t, err)
	assert.Equal(t, 91000000.0, price)
}
