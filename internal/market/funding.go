package market

import (
	"context"
	"fmt"
	"strconv"
	"time"
)

type binancePremiumIndex struct {
	LastFundingRate string `json:"lastFundingRate"`
	Time            int64  `json:"time"`
}

// fetchFunding returns {rate, rate_pct, ts} from Binance USDT-M futures.
func (s *Source) fetchFunding(ctx context.Context, symbol string) (map[string]any, bool, error) {
	if symbol == "" {
		return nil, false, nil
	}
	url := fmt.Sprintf("%s/fapi/v1/premiumIndex?symbol=%s", s.BinanceFuturesBase, symbol)
	var p binancePremiumIndex
	if err := s.getJSON(ctx, url, &p); err != nil {
		return nil, false, err
	}
	rate, err := strconv.ParseFloat(p.LastFundingRate, 64)
	if err != nil {
		return nil, false, fmt.Errorf("market: parse funding rate for %s: %w", symbol, err)
	}
	ts := time.UnixMilli(p.Time).UTC()
	return map[string]any{
		"rate":     rate,
		"rate_pct": rate * 100,
		"ts":       ts.Format(time.RFC3339),
	}, true, nil
}
