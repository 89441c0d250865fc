package signal

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/marketpulse/monitor/internal/domain"
	"github.com/marketpulse/monitor/internal/search"
)

// collected is the record handed to the Judge, per §4.10.
type collected struct {
	Symbol           string
	BaseData         map[string]map[string]any
	APIData          map[string]any
	SearchData       []search.Result
	ChartImage       []byte
	SufficientAtTier int
}

// collect runs the cost-tiered collector, stopping as soon as the data is
// "sufficient" per §4.10's tier-2 rule, or exhausting every tier otherwise.
func (p *Pipeline) collect(ctx context.Context, user *domain.User, symbol string, chartNeeded bool) (collected, error) {
	c := collected{Symbol: symbol, BaseData: map[string]map[string]any{}, APIData: map[string]any{}}

	// Tier 1: free, always included.
	streams, err := p.streams.ListByUser(user.ID)
	if err == nil {
		for _, s := range streams {
			if s.Temperature != domain.TemperatureHot && s.Temperature != domain.TemperatureWarm {
				continue
			}
			sym := ""
			if s.Symbol != nil {
				sym = *s.Symbol
			}
			if symbol != "" && sym != "" && sym != symbol {
				continue
			}
			if s.LastValue != nil {
				c.BaseData[s.StreamType+"/"+symbolOrAll(sym)] = s.LastValue
			}
		}
	}
	c.SufficientAtTier = 1

	// Tier 2: low-cost external APIs keyed by symbol.
	if symbol != "" {
		if price, ok, _ := p.market.Fetch(ctx, "price", symbol, nil); ok {
			c.APIData["price"] = price
		}
		if funding, ok, _ := p.market.Fetch(ctx, "funding", symbol, nil); ok {
			c.APIData["funding"] = funding
		} else if oi, ok, _ := p.market.Fetch(ctx, "oi", symbol, nil); ok {
			c.APIData["oi"] = oi
		}
	}
	if news, ok, _ := p.market.Fetch(ctx, "news", "", nil); ok {
		c.APIData["news"] = news
	}
	if tier2Sufficient(c) {
		c.SufficientAtTier = 2
		return c, nil
	}

	// Tier 3: web search, merged and deduplicated by URL. No query is
	// translated: a user whose language is not "en" gets a second query,
	// the first one with " english" appended.
	c.SufficientAtTier = 3
	if p.searcher != nil {
		queries := []string{symbol + " price analysis"}
		if user.Language != "" && user.Language != "en" {
			queries = append(queries, symbol+" price analysis english")
		}
		seen := map[string]bool{}
		var merged []search.Result
		for _, q := range queries {
			results, err := p.searcher.Search(ctx, q)
			if err != nil {
				continue
			}
			for _, r := range results {
				if seen[r.URL] {
					continue
				}
				seen[r.URL] = true
				merged = append(merged, r)
			}
		}
		sort.Slice(merged, func(i, j int) bool { return merged[i].Score > merged[j].Score })
		if len(merged) > 8 {
			merged = merged[:8]
		}
		c.SearchData = merged
	}

	// Tier 4: chart image capture. Out of scope — every implementation
	// treats the trigger's chart_needed flag the same way: acknowledged,
	// never produced.
	if chartNeeded {
		c.SufficientAtTier = 4
	}

	return c, nil
}

func tier2Sufficient(c collected) bool {
	_, hasPrice := c.APIData["price"]
	_, hasFunding := c.APIData["funding"]
	_, hasOI := c.APIData["oi"]
	_, hasNews := c.APIData["news"]
	return hasPrice && (hasFunding || hasOI) && hasNews
}

func symbolOrAll(symbol string) string {
	if symbol == "" {
		return "all"
	}
	return symbol
}

func formatCollected(c collected) string {
	var b strings.Builder
	b.WriteString("Symbol: " + c.Symbol + "\n")
	b.WriteString("Base streams:\n")
	for key, value := range c.BaseData {
		b.WriteString("  " + key + ": " + formatValue(value) + "\n")
	}
	b.WriteString("API data:\n")
	for key, value := range c.APIData {
		b.WriteString("  " + key + ": " + formatAny(value) + "\n")
	}
	if len(c.SearchData) > 0 {
		b.WriteString("Search results:\n")
		for _, r := range c.SearchData {
			b.WriteString("  " + r.Title + " - " + r.URL + "\n")
		}
	}
	return b.String()
}

func formatValue(value map[string]any) string {
	return formatAny(value)
}

func formatAny(v any) string {
	m, ok := v.(map[string]any)
	if !ok {
		return fmt.Sprintf("%v", v)
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, m[k]))
	}
	return strings.Join(parts, " ")
}
