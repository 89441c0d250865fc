package tradedetector

import (
	"context"
	"fmt"
	"time"

	"github.com/marketpulse/monitor/internal/domain"
	"github.com/marketpulse/monitor/internal/events"
	"github.com/marketpulse/monitor/internal/messenger"
)

// consecutiveLossThreshold and opensPerHourThreshold are the two risk checks
// run on every close, per §4.11. Consecutive losses take priority when both
// fire in the same pass.
const (
	consecutiveLossThreshold = 3
	opensPerHourThreshold    = 3
)

// emitRiskAndCommentary runs the post-close risk checks and sends a single
// message: a warning line if a risk check fired, otherwise brief fact-based
// commentary referencing the user's recent win/loss record.
func (d *Detector) emitRiskAndCommentary(ctx context.Context, userID int64, trade *domain.Trade) {
	recent, err := d.trades.ListRecentClosedByUser(userID, consecutiveLossThreshold)
	if err != nil {
		d.log.Warn().Err(err).Msg("list recent closed trades failed")
		recent = nil
	}

	streak := leadingLossStreak(recent)
	pnlPercent := 0.0
	if trade.PnLPercent != nil {
		pnlPercent = *trade.PnLPercent
	}
	d.events.EmitTyped("tradedetector", &events.TradeClosedData{
		TradeID: trade.ID, UserID: userID, Symbol: trade.Symbol,
		PnLPercent: pnlPercent, ConsecutiveLosses: streak,
	})

	if streak >= consecutiveLossThreshold {
		d.sendRiskMessage(ctx, userID, fmt.Sprintf("Heads up: %d losing trades in a row.", streak))
		return
	}

	opens, err := d.trades.CountOpensSince(userID, time.Now().Add(-time.Hour))
	if err != nil {
		d.log.Warn().Err(err).Msg("count opens since failed")
	} else if opens >= opensPerHourThreshold {
		d.sendRiskMessage(ctx, userID, fmt.Sprintf("Heads up: %d positions opened in the last hour.", opens))
		return
	}

	d.sendRiskMessage(ctx, userID, commentaryFor(trade, recent))
}

// leadingLossStreak counts consecutive losses starting from the most recent
// closed trade, stopping at the first win (or an undetermined PnL).
func leadingLossStreak(recent []*domain.Trade) int {
	streak := 0
	for _, t := range recent {
		if t.PnLPercent == nil || *t.PnLPercent >= 0 {
			break
		}
		streak++
	}
	return streak
}

func commentaryFor(trade *domain.Trade, recent []*domain.Trade) string {
	wins, losses := 0, 0
	for _, t := range recent {
		if t.PnLPercent == nil {
			continue
		}
		if *t.PnLPercent >= 0 {
			wins++
		} else {
			losses++
		}
	}
	pnl := 0.0
	if trade.PnLPercent != nil {
		pnl = *trade.PnLPercent
	}
	return fmt.Sprintf("Closed %s %s at %.2f%% pnl. Recent record: %d wins, %d losses.", trade.Symbol, trade.Side, pnl, wins, losses)
}

func (d *Detector) sendRiskMessage(ctx context.Context, userID int64, text string) {
	user, err := d.users.GetByID(userID)
	if err != nil || user == nil {
		d.log.Warn().Err(err).Int64("user_id", userID).Msg("load user for risk message failed")
		return
	}
	if _, err := d.messages.Append(&domain.ChatMessage{
		UserID: userID, Role: domain.ChatRoleAssistant, Content: text, MessageType: "risk_commentary",
	}); err != nil {
		d.log.Warn().Err(err).Msg("log risk message failed")
	}
	if err := d.msgr.SendText(ctx, user.ExternalID, text, (*messenger.Keyboard)(nil)); err != nil {
		d.log.Warn().Err(err).Msg("send risk message failed")
	}
}
