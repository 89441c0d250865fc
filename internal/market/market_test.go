package market

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDoer struct {
	responses map[string]string // url substring -> JSON body
}

func (f *fakeDoer) Do(req *http.Request) (*http.Response, error) {
	for substr, body := range f.responses {
		if strings.Contains(req.URL.String(), substr) {
			return &http.Response{
				StatusCode: http.StatusOK,
				Body:       io.NopCloser(strings.NewReader(body)),
			}, nil
		}
	}
	return &http.Response{StatusCode: http.StatusNotFound, Body: io.NopCloser(strings.NewReader("{}"))}, nil
}

func newTestSource(responses map[string]string) *Source {
	s := New("test-key", 0, zerolog.Nop())
	s.doer = &fakeDoer{responses: responses}
	return s
}

func TestFetchPrice(t *testing.T) {
	s := newTestSource(map[string]string{
		"ticker/24hr": `{"lastPrice":"65000.5","highPrice":"66000","lowPrice":"64000","volume":"1234.5","priceChangePercent":"2.1"}`,
	})

	val, ok, err := s.Fetch(context.Background(), "price", "BTCUSDT", nil)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 65000.5, val["last"])
	assert.Equal(t, 2.1, val["change_24h_pct"])
}

func TestFetchPrice_EmptySymbol(t *testing.T) {
	s := newTestSource(nil)
	_, ok, err := s.Fetch(context.Background(), "price", "", nil)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFetchFunding(t *testing.T) {
	s := newTestSource(map[string]string{
		"premiumIndex": `{"lastFundingRate":"0.0001","time":1700000000000}`,
	})
	val, ok, err := s.Fetch(context.Background(), "funding", "BTCUSDT", nil)
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDelta(t, 0.01, val["rate_pct"], 0.0001)
}

func TestFetchOI_WithPrevious(t *testing.T) {
	s := newTestSource(map[string]string{
		"openInterest": `{"openInterest":"1100"}`,
	})
	val, ok, err := s.Fetch(context.Background(), "oi", "BTCUSDT", map[string]any{"previous": 1000.0})
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDelta(t, 10.0, val["change_pct"], 0.0001)
}

func TestFetchNews_NoAPIKey(t *testing.T) {
	s := New("", 0, zerolog.Nop())
	_, ok, err := s.Fetch(context.Background(), "news", "", nil)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFetchFearGreed(t *testing.T) {
	s := newTestSource(map[string]string{
		"fng": `{"data":[{"value":"42","value_classification":"Fear","timestamp":"1700000000"}]}`,
	})
	val, ok, err := s.Fetch(context.Background(), "indicator", "fear_greed", nil)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 42, val["value"])
	assert.Equal(t, "Fear", val["classification"])
}

func TestFetchIndicator_UnknownSymbol(t *testing.T) {
	s := newTestSource(nil)
	_, ok, err := s.Fetch(context.Background(), "indicator", "something_else", nil)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFetchUnknownStreamType(t *testing.T) {
	s := newTestSource(nil)
	_, ok, err := s.Fetch(context.Background(), "not_a_real_stream", "x", nil)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFetchKimchi(t *testing.T) {
	s := newTestSource(map[string]string{
		"upbit.com/v1/ticker": `[{"trade_price":91000000}]`,
		"ticker/24hr":         `{"lastPrice":"65000","highPrice":"66000","lowPrice":"64000","volume":"100","priceChangePercent":"1"}`,
	})
	val, ok, err := s.Fetch(context.Background(), "spread", "kimchi", nil)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Contains(t, val, "premium_pct")
}
