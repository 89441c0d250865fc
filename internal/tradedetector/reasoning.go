package tradedetector

import (
	"context"
	"fmt"
	"strings"

	"github.com/marketpulse/monitor/internal/domain"
	"github.com/marketpulse/monitor/internal/llm"
)

// inferReasoning runs the Reasoning Inference deep-LLM call: style,
// principles, recent episodes and the trade facts go in; a 2-3 sentence
// hypothesis for why the user might have opened this position comes out.
func (d *Detector) inferReasoning(ctx context.Context, userID int64, t *domain.Trade) (string, error) {
	principles, err := d.principles.ListActiveByUser(userID)
	if err != nil {
		return "", fmt.Errorf("list principles: %w", err)
	}
	episodes, err := d.episodes.ListRecentByUser(userID, 10)
	if err != nil {
		return "", fmt.Errorf("list recent episodes: %w", err)
	}

	var style string
	if u, err := d.users.GetByID(userID); err == nil && u != nil && u.StyleRaw != nil {
		style = *u.StyleRaw
	}

	var b strings.Builder
	b.WriteString("You infer why a user likely opened a trade, in 2-3 sentences, from their trading style, stated principles, recent learning episodes, and the trade's facts.\n\n")
	if style != "" {
		b.WriteString("Style:\n" + style + "\n\n")
	}
	b.WriteString("Principles:\n")
	for _, p := range principles {
		b.WriteString("- " + p.Text + "\n")
	}
	b.WriteString("\nRecent episodes:\n")
	for _, e := range episodes {
		b.WriteString("- " + e.Kind + ": " + e.UserAction + "\n")
	}
	fmt.Fprintf(&b, "\nTrade: %s %s on %s, size=%.6g, entry_price=%.6g\n", t.Side, t.Symbol, t.Exchange, t.Size, t.EntryPrice)

	resp, err := d.llmSrc.Deep(ctx, b.String(), []llm.Message{{Role: "user", Content: "State your hypothesis in 2-3 sentences."}})
	if err != nil {
		return "", fmt.Errorf("deep call: %w", err)
	}
	visible, _, _ := llm.SplitMeta(resp.Text)
	return visible, nil
}
