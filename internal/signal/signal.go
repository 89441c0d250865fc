// Package signal implements the Signal Pipeline (C10): quota-gated,
// cost-tiered data collection followed by a deep-LLM Judge call, producing
// a persisted Signal, an Episode, and a Messenger notification.
package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/marketpulse/monitor/internal/domain"
	"github.com/marketpulse/monitor/internal/llm"
	"github.com/marketpulse/monitor/internal/market"
	"github.com/marketpulse/monitor/internal/messenger"
	"github.com/marketpulse/monitor/internal/search"
	"github.com/marketpulse/monitor/internal/store"
	"github.com/marketpulse/monitor/internal/vectorstore"
)

// DefaultDailyLimit is used when no limit is configured.
const DefaultDailyLimit = 5

// Pipeline is the Signal Pipeline (C10).
type Pipeline struct {
	users      *store.UserRepository
	triggers   *store.UserTriggerRepository
	signals    *store.SignalRepository
	principles *store.PrincipleRepository
	episodes   *store.EpisodeRepository
	trades     *store.TradeRepository
	messages   *store.ChatMessageRepository
	streams    *store.BaseStreamRepository

	market   *market.Source
	searcher search.Provider
	llmSrc   llm.Source
	vectors  *vectorstore.Store
	msgr     messenger.Messenger

	dailyLimit int
	log        zerolog.Logger
}

// Repos bundles the store repositories the pipeline depends on, to keep
// New's argument list manageable.
type Repos struct {
	Users      *store.UserRepository
	Triggers   *store.UserTriggerRepository
	Signals    *store.SignalRepository
	Principles *store.PrincipleRepository
	Episodes   *store.EpisodeRepository
	Trades     *store.TradeRepository
	Messages   *store.ChatMessageRepository
	Streams    *store.BaseStreamRepository
}

// New builds a Pipeline.
func New(repos Repos, mkt *market.Source, searcher search.Provider, llmSrc llm.Source, vectors *vectorstore.Store, msgr messenger.Messenger, dailyLimit int, log zerolog.Logger) *Pipeline {
	if dailyLimit <= 0 {
		dailyLimit = DefaultDailyLimit
	}
	return &Pipeline{
		users: repos.Users, triggers: repos.Triggers, signals: repos.Signals,
		principles: repos.Principles, episodes: repos.Episodes, trades: repos.Trades,
		messages: repos.Messages, streams: repos.Streams,
		market: mkt, searcher: searcher, llmSrc: llmSrc, vectors: vectors, msgr: msgr,
		dailyLimit: dailyLimit, log: log.With().Str("component", "signal").Logger(),
	}
}

// Run executes one full pass of the pipeline for a fired signal trigger. It
// always retires the trigger on successful completion (including the
// over-quota early exit, which the spec treats as "emit a notice and
// return" rather than a retry-worthy failure); only an unexpected error
// leaves the trigger active for a later retry.
func (p *Pipeline) Run(ctx context.Context, user *domain.User, trig *domain.UserTrigger) error {
	if err := p.users.ResetQuotaIfStale(user.ID, time.Now()); err != nil {
		return fmt.Errorf("signal: reset quota: %w", err)
	}
	fresh, err := p.users.GetByID(user.ID)
	if err != nil {
		return fmt.Errorf("signal: reload user: %w", err)
	}
	if fresh == nil {
		return fmt.Errorf("signal: user %d not found", user.ID)
	}

	if fresh.DailySignalCount >= p.dailyLimit {
		if err := p.msgr.SendText(ctx, fresh.ExternalID, "Daily signal limit reached for today.", nil); err != nil {
			p.log.Warn().Err(err).Msg("send quota notice failed")
		}
		return p.triggers.Retire(trig.ID)
	}

	symbol, chartNeeded := triggerSymbol(trig)
	data, err := p.collect(ctx, fresh, symbol, chartNeeded)
	if err != nil {
		return fmt.Errorf("signal: collect: %w", err)
	}

	j, err := p.judge(ctx, fresh, data)
	if err != nil {
		return fmt.Errorf("signal: judge: %w", err)
	}

	sig := &domain.Signal{
		UserID:          fresh.ID,
		Kind:            firstNonEmpty(j.Kind, domain.SignalKindTradeSignal),
		Content:         formatJudgement(j),
		Reasoning:       j.Reasoning,
		Confidence:      j.confidenceScalar,
		Symbol:          &symbol,
		CounterArgument: strPtrOrNil(j.CounterArgument),
		StopLoss:        j.StopLoss,
	}
	if j.Direction != "" {
		sig.Direction = &j.Direction
	}
	if j.Confidence.StyleMatch != nil && j.Confidence.HistoricalSimilar != nil && j.Confidence.MarketContext != nil {
		sig.ConfidenceStyle = j.Confidence.StyleMatch
		sig.ConfidenceHistory = j.Confidence.HistoricalSimilar
		sig.ConfidenceMarket = j.Confidence.MarketContext
		sig.ComputeConfidence()
	}

	signalID, err := p.signals.Create(sig)
	if err != nil {
		return fmt.Errorf("signal: persist: %w", err)
	}
	if err := p.users.IncrementDailySignalCount(fresh.ID); err != nil {
		p.log.Warn().Err(err).Msg("increment daily signal count failed")
	}

	if _, err := p.messages.Append(&domain.ChatMessage{
		UserID:      fresh.ID,
		Role:        domain.ChatRoleAssistant,
		Content:     sig.Content,
		MessageType: "signal",
	}); err != nil {
		p.log.Warn().Err(err).Msg("log signal message failed")
	}

	marketContext := map[string]any{"base_data": data.BaseData, "api_data": data.APIData}
	episode := &domain.Episode{
		UserID:        fresh.ID,
		Kind:          domain.EpisodeKindSignal,
		MarketContext: marketContext,
		UserAction:    "signal_emitted",
		Reasoning:     &j.Reasoning,
		EmbeddingText: sig.Content,
	}
	episodeID, err := p.episodes.CreateWithVectorUpsert(ctx, episode, vectorstore.Namespace(fresh.ExternalID), p.vectors)
	if err != nil {
		p.log.Warn().Err(err).Msg("create signal episode failed")
	} else if err := p.signals.SetEpisode(signalID, episodeID); err != nil {
		p.log.Warn().Err(err).Msg("link signal to episode failed")
	}

	kb := &messenger.Keyboard{Buttons: []string{"Agree", "Disagree"}}
	if err := p.msgr.SendText(ctx, fresh.ExternalID, sig.Content, kb); err != nil {
		p.log.Warn().Err(err).Msg("send signal message failed")
	}

	return p.triggers.Retire(trig.ID)
}

// judge composes the system prompt and runs the deep LLM call, then parses
// its response tolerantly with a heuristic fallback.
func (p *Pipeline) judge(ctx context.Context, user *domain.User, data collected) (judgement, error) {
	principles, _ := p.principles.ListActiveByUser(user.ID)
	openTrades, _ := p.trades.ListOpenByUser(user.ID)

	system := buildSystemPrompt(principles, openTrades, data)
	messages := []llm.Message{{Role: "user", Content: "Evaluate this setup and respond with the required JSON object."}}

	resp, err := p.llmSrc.Deep(ctx, system, messages)
	if err != nil {
		return judgement{}, fmt.Errorf("deep call: %w", err)
	}
	return parseJudgement(resp.Text), nil
}

func buildSystemPrompt(principles []*domain.Principle, openTrades []*domain.Trade, data collected) string {
	var b strings.Builder
	b.WriteString("You are a trading signal judge.\n\nActive principles:\n")
	for _, pr := range principles {
		b.WriteString("- " + pr.Text + "\n")
	}
	b.WriteString("\nOpen positions:\n")
	for _, t := range openTrades {
		fmt.Fprintf(&b, "- %s %s size=%.4g entry=%.4g\n", t.Symbol, t.Side, t.Size, t.EntryPrice)
	}
	b.WriteString("\nCollected data:\n")
	b.WriteString(formatCollected(data))
	b.WriteString("\nRespond with JSON: {\"kind\":..,\"direction\":..,\"reasoning\":..,\"counter_argument\":..,")
	b.WriteString("\"confidence\":{\"style_match\":..,\"historical_similar\":..,\"market_context\":..},\"stop_loss\":..}")
	return b.String()
}

func formatJudgement(j judgement) string {
	if j.Reasoning == "" {
		return llm.FallbackVisibleText
	}
	return j.Reasoning
}

// triggerSymbol extracts the symbol a trigger's leaf or composite condition
// concerns, and whether its leaf condition requests a chart.
func triggerSymbol(trig *domain.UserTrigger) (string, bool) {
	if trig.Condition != nil {
		var raw map[string]any
		if err := json.Unmarshal([]byte(*trig.Condition), &raw); err == nil {
			symbol, _ := raw["symbol"].(string)
			chartNeeded, _ := raw["chart_needed"].(bool)
			return symbol, chartNeeded
		}
	}
	if len(trig.BaseStreamsNeeded) > 0 {
		_, symbol, found := cutLast(trig.BaseStreamsNeeded[0])
		if found {
			return symbol, false
		}
	}
	return "", false
}

func cutLast(s string) (string, string, bool) {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '/' {
			return s[:i], s[i+1:], true
		}
	}
	return s, "", false
}

func strPtrOrNil(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
