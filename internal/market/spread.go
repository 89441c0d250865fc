package market

import (
	"context"
	"fmt"
)

type upbitTicker struct {
	TradePrice float64 `json:"trade_price"`
}

// fetchKimchi returns {premium_pct, legs}: the percentage by which Upbit's
// KRW-quoted BTC price exceeds Binance's USDT-quoted BTC price once
// converted through a fixed USD/KRW rate (the usdKrwRate constant). legs documents
// the two prices that fed the computation.
func (s *Source) fetchKimchi(ctx context.Context) (map[string]any, bool, error) {
	const usdKrwRate = 1350.0 // approximate; a live FX feed would replace this constant

	var upbit []upbitTicker
	if err := s.getJSON(ctx, s.UpbitBase+"/v1/ticker?markets=KRW-BTC", &upbit); err != nil {
		return nil, false, err
	}
	if len(upbit) == 0 {
		return nil, false, nil
	}

	var binance binanceTicker24hr
	if err := s.getJSON(ctx, s.BinanceSpotBase+"/api/v3/ticker/24hr?symbol=BTCUSDT", &binance); err != nil {
		return nil, false, err
	}

	globalUSD, err := parseFloatField(binance.LastPrice)
	if err != nil || globalUSD == 0 {
		return nil, false, fmt.Errorf("market: invalid binance BTCUSDT price")
	}

	krwPrice := upbit[0].TradePrice
	impliedUSD := krwPrice / usdKrwRate
	premiumPct := (impliedUSD - globalUSD) / globalUSD * 100

	return map[string]any{
		"premium_pct": premiumPct,
		"legs": map[string]any{
			"upbit_krw":      krwPrice,
			"binance_usdt":   globalUSD,
			"usd_krw_rate":   usdKrwRate,
		},
	}, true, nil
}

func parseFloatField(s string) (float64, error) {
	var f float64
	_, err := fmt.Sscanf(s, "%f", &f)
	return f, err
}
