// Package feedback implements the Feedback Learner (C13): turning explicit
// signal reactions and trade closes into Episodes the rest of the system's
// Judge and Reasoning Inference calls read back as history.
package feedback

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/marketpulse/monitor/internal/domain"
	"github.com/marketpulse/monitor/internal/store"
	"github.com/marketpulse/monitor/internal/vectorstore"
)

// signalLookbackBefore and signalLookaheadAfter bound how far from a trade's
// open time the Learner will look for the signal it most plausibly followed,
// per §4.13.
const (
	signalLookbackBefore = 24 * time.Hour
	signalLookaheadAfter = 1 * time.Hour
)

// Learner is the Feedback Learner (C13).
type Learner struct {
	users    *store.UserRepository
	signals  *store.SignalRepository
	episodes *store.EpisodeRepository

	vectors *vectorstore.Store
	log     zerolog.Logger
}

// Repos bundles the store dependencies Learner needs.
type Repos struct {
	Users    *store.UserRepository
	Signals  *store.SignalRepository
	Episodes *store.EpisodeRepository
}

// New builds a Learner.
func New(repos Repos, vectors *vectorstore.Store, log zerolog.Logger) *Learner {
	return &Learner{
		users: repos.Users, signals: repos.Signals, episodes: repos.Episodes,
		vectors: vectors, log: log.With().Str("component", "feedback").Logger(),
	}
}

// OnSignalFeedback records an explicit user reaction to a signal, and
// creates a feedback Episode classified by classifySignalFeedback.
func (l *Learner) OnSignalFeedback(ctx context.Context, signal *domain.Signal, agreed *bool, text *string) error {
	agreedVal := agreed != nil && *agreed
	classification := classifySignalFeedback(agreed, text)

	if err := l.signals.RecordFeedback(signal.ID, classification, agreedVal); err != nil {
		return fmt.Errorf("feedback: record signal feedback: %w", err)
	}

	user, err := l.users.GetByID(signal.UserID)
	if err != nil || user == nil {
		return fmt.Errorf("feedback: load user %d: %w", signal.UserID, err)
	}

	fb := classification
	episode := &domain.Episode{
		UserID:        signal.UserID,
		Kind:          domain.EpisodeKindFeedback,
		UserAction:    "signal_feedback",
		Feedback:      &fb,
		EmbeddingText: fmt.Sprintf("Signal feedback (%s) on: %s", classification, signal.Content),
	}
	if _, err := l.episodes.CreateWithVectorUpsert(ctx, episode, vectorstore.Namespace(user.ExternalID), l.vectors); err != nil {
		l.log.Warn().Err(err).Msg("create signal-feedback episode failed")
	}
	return nil
}

// classifySignalFeedback maps (agreed, text) onto four of the labels §4.13
// lists: agree, agree+note, disagree, nudge; it never returns "none". With
// agreed unset the result is nudge, text or not. A disagree carrying free text
// still classifies as disagree — only an agreement takes the "+note" form.
func classifySignalFeedback(agreed *bool, text *string) string {
	hasNote := text != nil && *text != ""
	switch {
	case agreed != nil && *agreed && hasNote:
		return "agree+note"
	case agreed != nil && *agreed:
		return "agree"
	case agreed != nil && !*agreed:
		return "disagree"
	default:
		return "nudge"
	}
}

// OnTradeClose implements the tradedetector.FeedbackLearner capability: find
// the nearest signal this trade plausibly followed and link the outcome.
func (l *Learner) OnTradeClose(ctx context.Context, trade *domain.Trade) error {
	if trade.PnLPercent != nil && *trade.PnLPercent == 0 {
		// Flat close: the reference system's falsy-PnL check skips linkage
		// entirely for this case, kept here rather than "corrected".
		return nil
	}

	from := trade.OpenedAt.Add(-signalLookbackBefore)
	to := trade.OpenedAt.Add(signalLookaheadAfter)
	signal, err := l.signals.FindNearestBySymbolAndWindow(trade.UserID, trade.Symbol, from, to)
	if err != nil {
		return fmt.Errorf("feedback: find nearest signal: %w", err)
	}
	if signal == nil {
		return nil
	}

	var pnl *float64
	if trade.PnLPercent != nil {
		pnl = trade.PnLPercent
	}
	if err := l.signals.RecordOutcome(signal.ID, true, pnl); err != nil {
		return fmt.Errorf("feedback: record trade outcome: %w", err)
	}

	user, err := l.users.GetByID(trade.UserID)
	if err != nil || user == nil {
		return fmt.Errorf("feedback: load user %d: %w", trade.UserID, err)
	}

	tag := classifyTradeOutcome(signal.Direction, trade.Side, trade.PnLPercent)
	episode := &domain.Episode{
		UserID:        trade.UserID,
		Kind:          domain.EpisodeKindFeedback,
		UserAction:    "trade_closed_followed_signal",
		TradeResult:   map[string]any{"result": tag, "symbol": trade.Symbol},
		EmbeddingText: fmt.Sprintf("Trade close tagged %s against signal: %s", tag, signal.Content),
	}
	if _, err := l.episodes.CreateWithVectorUpsert(ctx, episode, vectorstore.Namespace(user.ExternalID), l.vectors); err != nil {
		l.log.Warn().Err(err).Msg("create trade-close feedback episode failed")
	}
	return nil
}

// classifyTradeOutcome tags a closed trade against the signal it followed:
// hit/miss by direction match and P&L sign, counter for any direction
// mismatch (e.g. a signal said long, the trade went short).
func classifyTradeOutcome(signalDirection *string, tradeSide string, pnlPercent *float64) string {
	if signalDirection == nil || !directionsMatch(*signalDirection, tradeSide) {
		return "counter"
	}
	if pnlPercent != nil && *pnlPercent > 0 {
		return "hit"
	}
	return "miss"
}

func directionsMatch(signalDirection, tradeSide string) bool {
	switch signalDirection {
	case "long", domain.TradeSideBuy:
		return tradeSide == domain.TradeSideLong || tradeSide == domain.TradeSideBuy
	case "short", domain.TradeSideSell:
		return tradeSide == domain.TradeSideShort || tradeSide == domain.TradeSideSell
	default:
		return false
	}
}
