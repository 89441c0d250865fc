package market

import (
	"context"
	"fmt"
	"strconv"

	"github.com/markcheno/go-talib"
)

type binanceTicker24hr struct {
	LastPrice          string `json:"lastPrice"`
	HighPrice          string `json:"highPrice"`
	LowPrice           string `json:"lowPrice"`
	Volume             string `json:"volume"`
	PriceChangePercent string `json:"priceChangePercent"`
}

// fetchPrice returns {last, high_24h, low_24h, volume_24h, change_24h_pct}.
// When config["annotate_indicators"] is true, it additionally fetches a
// recent close-price series and appends {rsi_14, bb_upper, bb_middle,
// bb_lower} — a supplemental annotation the Trigger Engine and Signal
// Pipeline may read but never require.
func (s *Source) fetchPrice(ctx context.Context, symbol string, config map[string]any) (map[string]any, bool, error) {
	if symbol == "" {
		return nil, false, nil
	}
	url := fmt.Sprintf("%s/api/v3/ticker/24hr?symbol=%s", s.BinanceSpotBase, symbol)
	var t binanceTicker24hr
	if err := s.getJSON(ctx, url, &t); err != nil {
		return nil, false, err
	}

	last, err1 := strconv.ParseFloat(t.LastPrice, 64)
	high, err2 := strconv.ParseFloat(t.HighPrice, 64)
	low, err3 := strconv.ParseFloat(t.LowPrice, 64)
	vol, err4 := strconv.ParseFloat(t.Volume, 64)
	chg, err5 := strconv.ParseFloat(t.PriceChangePercent, 64)
	if err1 != nil || err2 != nil || err3 != nil || err4 != nil || err5 != nil {
		return nil, false, fmt.Errorf("market: parse binance ticker fields for %s", symbol)
	}

	value := map[string]any{
		"last":            last,
		"high_24h":        high,
		"low_24h":         low,
		"volume_24h":      vol,
		"change_24h_pct":  chg,
	}

	if annotate, _ := config["annotate_indicators"].(bool); annotate {
		if closes, err := s.fetchRecentCloses(ctx, symbol); err == nil && len(closes) >= 15 {
			rsi := talib.Rsi(closes, 14)
			upper, middle, lower := talib.BBands(closes, 20, 2, 2, talib.SMA)
			n := len(closes) - 1
			value["rsi_14"] = rsi[n]
			value["bb_upper"] = upper[n]
			value["bb_middle"] = middle[n]
			value["bb_lower"] = lower[n]
		}
	}

	return value, true, nil
}

type binanceKline []any

func (s *Source) fetchRecentCloses(ctx context.Context, symbol string) ([]float64, error) {
	url := fmt.Sprintf("%s/api/v3/klines?symbol=%s&interval=1h&limit=50", s.BinanceSpotBase, symbol)
	var klines []binanceKline
	if err := s.getJSON(ctx, url, &klines); err != nil {
		return nil, err
	}
	closes := make([]float64, 0, len(klines))
	for _, k := range klines {
		if len(k) < 5 {
			continue
		}
		closeStr, ok := k[4].(string)
		if !ok {
			continue
		}
		v, err := strconv.ParseFloat(closeStr, 64)
		if err != nil {
			continue
		}
		closes = append(closes, v)
	}
	return closes, nil
}
