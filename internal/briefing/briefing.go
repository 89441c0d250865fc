// Package briefing implements the Daily Briefing (C14): a once-per-day,
// per-user personalized market summary, gathered from the same capability
// interfaces the rest of the core consumes, commented on by a deep LLM call,
// and delivered as one persisted Signal plus one Messenger send. Template
// wording, emoji, and localisation are a chat/UX concern and stay out of
// this package entirely; it assembles facts and a commentary string, never
// a fully rendered, locale-specific message body.
package briefing

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/marketpulse/monitor/internal/domain"
	"github.com/marketpulse/monitor/internal/llm"
	"github.com/marketpulse/monitor/internal/market"
	"github.com/marketpulse/monitor/internal/messenger"
	"github.com/marketpulse/monitor/internal/patterns"
	"github.com/marketpulse/monitor/internal/store"
	"github.com/marketpulse/monitor/internal/vectorstore"
)

// fallbackCommentary is sent when the commentary LLM call fails, so a
// transient model error never silences the whole briefing.
const fallbackCommentary = "Markets are steady today — keep an eye on your open positions."

// Repos bundles the store repositories Generator depends on.
type Repos struct {
	Trades     *store.TradeRepository
	Triggers   *store.UserTriggerRepository
	Streams    *store.BaseStreamRepository
	Principles *store.PrincipleRepository
	Episodes   *store.EpisodeRepository
	Signals    *store.SignalRepository
	Messages   *store.ChatMessageRepository
}

// Generator builds and delivers one user's daily briefing.
type Generator struct {
	trades     *store.TradeRepository
	triggers   *store.UserTriggerRepository
	streams    *store.BaseStreamRepository
	principles *store.PrincipleRepository
	episodes   *store.EpisodeRepository
	signals    *store.SignalRepository
	messages   *store.ChatMessageRepository

	market  *market.Source
	pattern *patterns.Analyzer
	llmSrc  llm.Source
	vectors *vectorstore.Store
	msgr    messenger.Messenger

	log zerolog.Logger
}

// New builds a Generator.
func New(repos Repos, mkt *market.Source, pattern *patterns.Analyzer, llmSrc llm.Source, vectors *vectorstore.Store, msgr messenger.Messenger, log zerolog.Logger) *Generator {
	return &Generator{
		trades: repos.Trades, triggers: repos.Triggers, streams: repos.Streams,
		principles: repos.Principles, episodes: repos.Episodes, signals: repos.Signals,
		messages: repos.Messages,
		market:   mkt, pattern: pattern, llmSrc: llmSrc, vectors: vectors, msgr: msgr,
		log: log.With().Str("component", "briefing").Logger(),
	}
}

// sections holds every fact the briefing gathers before commentary and
// delivery, mirroring the reference's own section-by-section assembly.
type sections struct {
	btc, eth, funding, fearGreed, kimchi map[string]any
	news                                 map[string]any
	positions                            []*domain.Trade
	report                               *patterns.Report
	triggers                             []*domain.UserTrigger
	hotData                              map[string]map[string]any
}

// Generate gathers every section, asks the deep LLM for a short personalized
// commentary, persists a Signal, and delivers it. A gathering failure on any
// one section degrades that section to empty rather than aborting the whole
// briefing — a missing Fear&Greed read is not a reason to skip a user's
// entire daily briefing.
func (g *Generator) Generate(ctx context.Context, user *domain.User) error {
	sec := g.gather(ctx, user.ID)
	commentary := g.commentary(ctx, user, sec)

	content := formatFacts(sec) + "\n\n" + commentary

	sig := &domain.Signal{
		UserID:  user.ID,
		Kind:    domain.SignalKindBriefing,
		Content: content,
	}
	signalID, err := g.signals.Create(sig)
	if err != nil {
		return fmt.Errorf("briefing: persist signal: %w", err)
	}

	if _, err := g.messages.Append(&domain.ChatMessage{
		UserID:      user.ID,
		Role:        domain.ChatRoleAssistant,
		Content:     content,
		MessageType: "briefing",
	}); err != nil {
		g.log.Warn().Err(err).Msg("log briefing message failed")
	}

	episode := &domain.Episode{
		UserID:        user.ID,
		Kind:          domain.EpisodeKindBriefing,
		UserAction:    "daily_briefing_sent",
		EmbeddingText: content,
	}
	episodeID, err := g.episodes.CreateWithVectorUpsert(ctx, episode, vectorstore.Namespace(user.ExternalID), g.vectors)
	if err != nil {
		g.log.Warn().Err(err).Msg("create briefing episode failed")
	} else if err := g.signals.SetEpisode(signalID, episodeID); err != nil {
		g.log.Warn().Err(err).Msg("link briefing to episode failed")
	}

	if err := g.msgr.SendText(ctx, user.ExternalID, content, nil); err != nil {
		g.log.Warn().Err(err).Msg("send briefing failed")
	}
	return nil
}

func (g *Generator) gather(ctx context.Context, userID int64) sections {
	var sec sections

	sec.btc, _, _ = g.market.Fetch(ctx, "price", "BTC", nil)
	sec.eth, _, _ = g.market.Fetch(ctx, "price", "ETH", nil)
	sec.funding, _, _ = g.market.Fetch(ctx, "funding", "BTC", nil)
	sec.fearGreed, _, _ = g.market.Fetch(ctx, "indicator", "fear_greed", nil)
	sec.kimchi, _, _ = g.market.Fetch(ctx, "spread", "kimchi", nil)
	sec.news, _, _ = g.market.Fetch(ctx, "news", "", nil)

	if positions, err := g.trades.ListOpenByUser(userID); err != nil {
		g.log.Warn().Err(err).Msg("list open positions for briefing failed")
	} else {
		sec.positions = positions
	}

	if report, err := g.pattern.AnalyzePatterns(userID); err != nil {
		g.log.Warn().Err(err).Msg("analyze patterns for briefing failed")
	} else {
		sec.report = report
	}

	if trigs, err := g.triggers.ListActiveByUser(userID); err != nil {
		g.log.Warn().Err(err).Msg("list active triggers for briefing failed")
	} else {
		sec.triggers = trigs
	}

	sec.hotData = map[string]map[string]any{}
	if streams, err := g.streams.ListByUser(userID); err != nil {
		g.log.Warn().Err(err).Msg("list hot streams for briefing failed")
	} else {
		for _, s := range streams {
			if s.Temperature != domain.TemperatureHot || s.LastValue == nil {
				continue
			}
			symbol := ""
			if s.Symbol != nil {
				symbol = *s.Symbol
			}
			sec.hotData[s.StreamType+"/"+symbol] = s.LastValue
		}
	}

	return sec
}

// commentary runs the deep LLM call that turns the gathered facts into a
// short personalized read, falling back to a neutral line on failure so a
// model hiccup never silences the whole briefing.
func (g *Generator) commentary(ctx context.Context, user *domain.User, sec sections) string {
	principles, _ := g.principles.ListActiveByUser(user.ID)
	episodes, _ := g.episodes.ListRecentByUser(user.ID, 10)

	var b strings.Builder
	b.WriteString("You are the user's trading companion, writing their daily briefing commentary in 3-5 sentences.\n")
	b.WriteString("Reflect their stated principles and recent patterns; note anything worth watching today.\n\nPrinciples:\n")
	for _, p := range principles {
		b.WriteString("- " + p.Text + "\n")
	}
	b.WriteString("\nRecent episodes:\n")
	for _, e := range episodes {
		b.WriteString("- " + e.Kind + ": " + e.UserAction + "\n")
	}
	b.WriteString("\nToday's data:\n")
	b.WriteString(formatFacts(sec))

	resp, err := g.llmSrc.Deep(ctx, b.String(), []llm.Message{{Role: "user", Content: "Write the commentary now."}})
	if err != nil {
		g.log.Warn().Err(err).Msg("briefing commentary call failed")
		return fallbackCommentary
	}
	visible, _, _ := llm.SplitMeta(resp.Text)
	if visible == "" {
		return fallbackCommentary
	}
	return visible
}

func formatFacts(sec sections) string {
	var b strings.Builder
	fmt.Fprintf(&b, "BTC: %v\nETH: %v\nFunding: %v\nFear&Greed: %v\nKimchi premium: %v\n",
		numField(sec.btc, "last"), numField(sec.eth, "last"), numField(sec.funding, "rate_pct"),
		numField(sec.fearGreed, "value"), numField(sec.kimchi, "premium_pct"))

	if len(sec.positions) > 0 {
		b.WriteString("Open positions:\n")
		for _, t := range sec.positions {
			fmt.Fprintf(&b, "- %s %s x%.4g\n", t.Symbol, t.Side, t.Leverage)
		}
	}
	if sec.report != nil && sec.report.TotalTrades > 0 {
		fmt.Fprintf(&b, "Pattern stats: win rate %.0f%%, avg win +%.1f%%, avg loss %.1f%%\n",
			sec.report.WinRate*100, sec.report.AvgWin, sec.report.AvgLoss)
	}
	if len(sec.triggers) > 0 {
		b.WriteString("Active alerts:\n")
		for _, t := range sec.triggers {
			fmt.Fprintf(&b, "- %s%s\n", t.Description, proximityHint(t, sec.hotData))
		}
	}
	return b.String()
}

func numField(m map[string]any, key string) any {
	if m == nil {
		return "?"
	}
	if v, ok := m[key]; ok {
		return v
	}
	return "?"
}

// proximityHint appends the current price and percent distance to a
// price_above/price_below leaf trigger's target, when that data is hot.
func proximityHint(t *domain.UserTrigger, hotData map[string]map[string]any) string {
	if t.Condition == nil {
		return ""
	}
	var cond struct {
		Type   string  `json:"type"`
		Symbol string  `json:"symbol"`
		Value  float64 `json:"value"`
	}
	if err := llm.TolerantJSON(*t.Condition, &cond); err != nil {
		return ""
	}
	if cond.Type != "price_above" && cond.Type != "price_below" {
		return ""
	}
	current, ok := hotData["price/"+cond.Symbol]
	if !ok {
		return ""
	}
	last, ok := current["last"].(float64)
	if !ok || cond.Value == 0 {
		return ""
	}
	diffPct := (last/cond.Value - 1) * 100
	return fmt.Sprintf(" (now %.0f, %+.1f%%)", last, diffPct)
}

// Eligible reports whether now (interpreted in KST) falls in the job's
// 5-minute emission window and matches the user's configured briefing hour.
func Eligible(user *domain.User, nowKST time.Time) bool {
	if user.BriefingHour == nil {
		return false
	}
	return nowKST.Minute() < 5 && nowKST.Hour() == *user.BriefingHour
}
