package trigger

import (
	"encoding/json"
	"fmt"
	"strings"
)

// leafCondition is the JSON shape a leaf UserTrigger.Condition decodes into.
// Exactly the fields each type needs are populated; the rest are zero.
type leafCondition struct {
	Type    string  `json:"type"`
	Symbol  string  `json:"symbol"`
	Value   float64 `json:"value"`
	Keyword string  `json:"keyword"`
}

// evalLeaf decodes and evaluates a single leaf condition against a hot
// snapshot. A missing or non-numeric current value yields (false, "", nil):
// per the engine's contract this is "no match", never an error. Only a
// malformed condition payload itself is an error.
func evalLeaf(raw string, snapshot map[string]map[string]any) (bool, string, error) {
	var c leafCondition
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		return false, "", fmt.Errorf("trigger: decode leaf condition: %w", err)
	}

	switch c.Type {
	case "price_above":
		v, ok := numField(snapshot, "price", c.Symbol, "last")
		return ok && v >= c.Value, label(c.Symbol, c.Value), nil
	case "price_below":
		v, ok := numField(snapshot, "price", c.Symbol, "last")
		return ok && v <= c.Value, label(c.Symbol, c.Value), nil
	case "funding_above":
		v, ok := numField(snapshot, "funding", c.Symbol, "rate")
		return ok && v >= c.Value, label(c.Symbol, c.Value), nil
	case "funding_below":
		v, ok := numField(snapshot, "funding", c.Symbol, "rate")
		return ok && v <= c.Value, label(c.Symbol, c.Value), nil
	case "volume_spike":
		v, ok := numField(snapshot, "price", c.Symbol, "volume_ratio")
		return ok && v >= c.Value, label(c.Symbol, c.Value), nil
	case "oi_change":
		v, ok := numField(snapshot, "oi", c.Symbol, "change_pct")
		return ok && abs(v) >= c.Value, label(c.Symbol, c.Value), nil
	case "kimchi_premium":
		v, ok := numField(snapshot, "spread", "kimchi", "premium_pct")
		return ok && v >= c.Value, label("kimchi", c.Value), nil
	case "news_keyword":
		return newsContains(snapshot, c.Keyword), c.Keyword, nil
	default:
		return false, "", nil
	}
}

func numField(snapshot map[string]map[string]any, streamType, symbol, field string) (float64, bool) {
	key := streamType + "/" + symbolOrAll(symbol)
	values, ok := snapshot[key]
	if !ok {
		return 0, false
	}
	raw, ok := values[field]
	if !ok {
		return 0, false
	}
	switch n := raw.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	default:
		return 0, false
	}
}

func newsContains(snapshot map[string]map[string]any, keyword string) bool {
	values, ok := snapshot["news/all"]
	if !ok || keyword == "" {
		return false
	}
	headlines, ok := values["headlines"].([]string)
	if !ok {
		if raw, ok2 := values["headlines"].([]any); ok2 {
			for _, h := range raw {
				if s, ok3 := h.(string); ok3 && strings.Contains(strings.ToLower(s), strings.ToLower(keyword)) {
					return true
				}
			}
		}
		return false
	}
	for _, h := range headlines {
		if strings.Contains(strings.ToLower(h), strings.ToLower(keyword)) {
			return true
		}
	}
	return false
}

func label(symbol string, value float64) string {
	if symbol == "" {
		return fmt.Sprintf("%.4g", value)
	}
	return fmt.Sprintf("%s %.4g", symbol, value)
}

func symbolOrAll(symbol string) string {
	if symbol == "" {
		return "all"
	}
	return symbol
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
