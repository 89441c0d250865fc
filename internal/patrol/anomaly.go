package patrol

import (
	"context"
	"fmt"
	"strconv"

	"github.com/marketpulse/monitor/internal/domain"
	"github.com/marketpulse/monitor/internal/messenger"
)

// anomaly is one out-of-band reading surfaced by the scan in §4.12 step 2.
type anomaly struct {
	StreamType  string
	Symbol      string
	Severity    string
	Description string
}

// scanAnomalies checks every hot and warm stream's last_value against the
// thresholds §4.12 names: price swings at 10%/20%, funding rate at 5%, open
// interest swings at 15%.
func (p *Patrol) scanAnomalies(userID int64) ([]anomaly, error) {
	streams, err := p.streams.ListByUser(userID)
	if err != nil {
		return nil, fmt.Errorf("list streams for user %d: %w", userID, err)
	}

	var out []anomaly
	for _, s := range streams {
		if s.Temperature != domain.TemperatureHot && s.Temperature != domain.TemperatureWarm {
			continue
		}
		if s.LastValue == nil {
			continue
		}
		symbol := ""
		if s.Symbol != nil {
			symbol = *s.Symbol
		}
		if a, ok := checkAnomaly(s.StreamType, symbol, s.LastValue); ok {
			out = append(out, a)
		}
	}
	return out, nil
}

func checkAnomaly(streamType, symbol string, value map[string]any) (anomaly, bool) {
	switch streamType {
	case "price":
		chg, ok := numField(value, "change_24h_pct")
		if !ok || abs(chg) < 10 {
			return anomaly{}, false
		}
		severity := "medium"
		if abs(chg) >= 20 {
			severity = "high"
		}
		return anomaly{StreamType: streamType, Symbol: symbol, Severity: severity,
			Description: fmt.Sprintf("%s price moved %.2f%% in 24h", symbol, chg)}, true
	case "funding":
		rate, ok := numField(value, "rate")
		if !ok || abs(rate) < 0.05 {
			return anomaly{}, false
		}
		return anomaly{StreamType: streamType, Symbol: symbol, Severity: "high",
			Description: fmt.Sprintf("%s funding rate at %.4f", symbol, rate)}, true
	case "oi":
		chg, ok := numField(value, "change_pct")
		if !ok || abs(chg) < 15 {
			return anomaly{}, false
		}
		return anomaly{StreamType: streamType, Symbol: symbol, Severity: "medium",
			Description: fmt.Sprintf("%s open interest moved %.2f%% ", symbol, chg)}, true
	default:
		return anomaly{}, false
	}
}

func numField(m map[string]any, field string) (float64, bool) {
	v, ok := m[field]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

// synthesizeTriggers implements §4.12 step 3: an anomaly on a top-traded
// symbol, not already covered by an active patrol-sourced trigger, gets a
// short notification plus a new llm_evaluated trigger for deeper review.
func (p *Patrol) synthesizeTriggers(ctx context.Context, u *domain.User, anomalies []anomaly) ([]string, error) {
	if len(anomalies) == 0 {
		return nil, nil
	}
	top, err := p.topTradedSymbols(u.ID)
	if err != nil {
		return nil, fmt.Errorf("derive top traded symbols: %w", err)
	}
	if len(top) == 0 {
		return nil, nil
	}

	active, err := p.triggers.ListActiveByUser(u.ID)
	if err != nil {
		return nil, fmt.Errorf("list active triggers: %w", err)
	}
	existing := make(map[string]bool, len(active))
	for _, t := range active {
		if t.Source == domain.TriggerSourcePatrol {
			existing[t.Description] = true
		}
	}

	var actions []string
	for _, a := range anomalies {
		if !top[a.Symbol] || existing[a.Description] {
			continue
		}
		if err := p.msgr.SendText(ctx, u.ExternalID, "Patrol: "+a.Description, (*messenger.Keyboard)(nil)); err != nil {
			p.log.Warn().Err(err).Msg("send anomaly notification failed")
		}

		prompt := fmt.Sprintf("Has this situation developed into something actionable? %s", a.Description)
		if _, err := p.triggers.Create(&domain.UserTrigger{
			UserID: u.ID, Kind: domain.TriggerLLMEvaluated, EvalPrompt: &prompt,
			Description: a.Description, Source: domain.TriggerSourcePatrol, IsActive: true,
		}); err != nil {
			p.log.Warn().Err(err).Msg("create auto-trigger failed")
			continue
		}
		actions = append(actions, "synthesized trigger: "+a.Description)
	}
	return actions, nil
}

// topTradedSymbols derives the user's top-traded symbol set from trade
// history, used to gate which anomalies are worth surfacing.
func (p *Patrol) topTradedSymbols(userID int64) (map[string]bool, error) {
	trades, err := p.trades.ListAllByUser(userID)
	if err != nil {
		return nil, err
	}
	counts := map[string]int{}
	for _, t := range trades {
		counts[t.Symbol]++
	}
	top := map[string]bool{}
	for symbol, count := range counts {
		if count >= 2 {
			top[symbol] = true
		}
	}
	return top, nil
}
