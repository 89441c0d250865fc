package market

import (
	"context"
	"fmt"
	"strconv"
)

type binanceOpenInterest struct {
	OpenInterest string `json:"openInterest"`
}

// fetchOI returns {open_interest, change_pct?}. change_pct is only present
// when config carries a "previous" float64 reading to compare against — the
// caller (stream manager) supplies the stream's own last_value.
func (s *Source) fetchOI(ctx context.Context, symbol string, config map[string]any) (map[string]any, bool, error) {
	if symbol == "" {
		return nil, false, nil
	}
	url := fmt.Sprintf("%s/fapi/v1/openInterest?symbol=%s", s.BinanceFuturesBase, symbol)
	var p binanceOpenInterest
	if err := s.getJSON(ctx, url, &p); err != nil {
		return nil, false, err
	}
	oi, err := strconv.ParseFloat(p.OpenInterest, 64)
	if err != nil {
		return nil, false, fmt.Errorf("market: parse open interest for %s: %w", symbol, err)
	}

	value := map[string]any{"open_interest": oi}
	if prev, ok := config["previous"].(float64); ok && prev != 0 {
		value["change_pct"] = (oi - prev) / prev * 100
	}
	return value, true, nil
}
