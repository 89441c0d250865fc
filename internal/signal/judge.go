package signal

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/marketpulse/monitor/internal/llm"
)

// judgement is the Judge's output, whether parsed strictly or recovered by
// heuristic fallback.
type judgement struct {
	Kind              string   `json:"kind"`
	Direction         string   `json:"direction"`
	Reasoning         string   `json:"reasoning"`
	CounterArgument   string   `json:"counter_argument"`
	Confidence        confAxes `json:"confidence"`
	StopLoss          *float64 `json:"stop_loss"`
	confidenceScalar  float64
	usedHeuristic     bool
}

type confAxes struct {
	StyleMatch        *float64 `json:"style_match"`
	HistoricalSimilar *float64 `json:"historical_similar"`
	MarketContext     *float64 `json:"market_context"`
}

var (
	confidencePattern = regexp.MustCompile(`(?i)confidence\D{0,5}(\d+(?:\.\d+)?)\s*%?`)
	counterPattern    = regexp.MustCompile(`(?i)counter[- ]?argument[:\-]?\s*(.+)`)
	stopLossPattern   = regexp.MustCompile(`(?i)stop[- ]?loss[:\-]?\s*(\d+(?:\.\d+)?)`)
)

// parseJudgement tolerantly parses the Judge's raw response, falling back
// to keyword/regex heuristics per §4.10 when strict parsing fails.
func parseJudgement(raw string) judgement {
	visible, meta, hasMeta := llm.SplitMeta(raw)
	payload := raw
	if hasMeta {
		payload = meta
	}

	var j judgement
	if err := llm.TolerantJSON(payload, &j); err == nil && j.Direction != "" {
		j.Reasoning = firstNonEmpty(j.Reasoning, visible)
		return j
	}

	return heuristicJudgement(visible)
}

func heuristicJudgement(text string) judgement {
	lower := strings.ToLower(text)
	direction := "watch"
	switch {
	case strings.Contains(lower, "long") || strings.Contains(lower, "buy"):
		direction = "long"
	case strings.Contains(lower, "short") || strings.Contains(lower, "sell"):
		direction = "short"
	case strings.Contains(lower, "exit"):
		direction = "exit"
	}

	confidence := 0.5
	if m := confidencePattern.FindStringSubmatch(text); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			if v > 1 {
				v = v / 100
			}
			confidence = clamp01(v)
		}
	}

	counter := ""
	if m := counterPattern.FindStringSubmatch(text); m != nil {
		counter = strings.TrimSpace(strings.SplitN(m[1], "\n", 2)[0])
	}

	var stopLoss *float64
	if m := stopLossPattern.FindStringSubmatch(text); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			stopLoss = &v
		}
	}

	return judgement{
		Kind:             "trade_signal",
		Direction:        direction,
		Reasoning:        text,
		CounterArgument:  counter,
		StopLoss:         stopLoss,
		confidenceScalar: confidence,
		usedHeuristic:    true,
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
