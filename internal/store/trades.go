package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/marketpulse/monitor/internal/domain"
)

// TradeRepository persists detected trade lifecycles.
type TradeRepository struct {
	db *sql.DB
}

// Create inserts a newly detected open trade.
func (r *TradeRepository) Create(t *domain.Trade) (int64, error) {
	res, err := r.db.Exec(`
		INSERT INTO trades (user_id, exchange, symbol, side, entry_price, exit_price, size, leverage,
			pnl_percent, pnl_amount, status, inferred_reasoning, user_confirmed_reasoning,
			user_actual_reasoning, episode_id, opened_at, closed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.UserID, t.Exchange, t.Symbol, t.Side, t.EntryPrice, t.ExitPrice, t.Size, t.Leverage,
		t.PnLPercent, t.PnLAmount, t.Status, t.InferredReasoning, t.UserConfirmedReasoning,
		t.UserActualReasoning, t.EpisodeID, t.OpenedAt.UTC().Format(timeLayout), formatTimePtr(t.ClosedAt))
	if err != nil {
		return 0, fmt.Errorf("insert trade for user %d: %w", t.UserID, err)
	}
	return res.LastInsertId()
}

// FindDedupMatch looks for an existing trade within +/-10s of openedAt for
// the same (user, exchange, symbol) — the Trade dedup key from §3.
func (r *TradeRepository) FindDedupMatch(userID int64, exchange, symbol string, openedAt time.Time) (*domain.Trade, error) {
	lo := openedAt.Add(-10 * time.Second).UTC().Format(timeLayout)
	hi := openedAt.Add(10 * time.Second).UTC().Format(timeLayout)
	row := r.db.QueryRow(`
		SELECT id, user_id, exchange, symbol, side, entry_price, exit_price, size, leverage,
			pnl_percent, pnl_amount, status, inferred_reasoning, user_confirmed_reasoning,
			user_actual_reasoning, episode_id, opened_at, closed_at
		FROM trades
		WHERE user_id = ? AND exchange = ? AND symbol = ? AND opened_at BETWEEN ? AND ?
		LIMIT 1`, userID, exchange, symbol, lo, hi)
	return scanTrade(row)
}

// ListOpenByUser returns every currently open trade for a user, polled for
// close detection.
func (r *TradeRepository) ListOpenByUser(userID int64) ([]*domain.Trade, error) {
	rows, err := r.db.Query(`
		SELECT id, user_id, exchange, symbol, side, entry_price, exit_price, size, leverage,
			pnl_percent, pnl_amount, status, inferred_reasoning, user_confirmed_reasoning,
			user_actual_reasoning, episode_id, opened_at, closed_at
		FROM trades WHERE user_id = ? AND status = ?`, userID, domain.TradeStatusOpen)
	if err != nil {
		return nil, fmt.Errorf("list open trades for user %d: %w", userID, err)
	}
	defer rows.Close()
	return scanTrades(rows)
}

// ListRecentClosedByUser returns the most recent closed trades, most recent
// first, up to limit. Used by the consecutive-loss streak and FOMO checks.
func (r *TradeRepository) ListRecentClosedByUser(userID int64, limit int) ([]*domain.Trade, error) {
	rows, err := r.db.Query(`
		SELECT id, user_id, exchange, symbol, side, entry_price, exit_price, size, leverage,
			pnl_percent, pnl_amount, status, inferred_reasoning, user_confirmed_reasoning,
			user_actual_reasoning, episode_id, opened_at, closed_at
		FROM trades WHERE user_id = ? AND status = ?
		ORDER BY closed_at DESC LIMIT ?`, userID, domain.TradeStatusClosed, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent closed trades for user %d: %w", userID, err)
	}
	defer rows.Close()
	return scanTrades(rows)
}

// CountOpensSince counts trade opens at or after since, for the FOMO check
// (opens_last_hour >= 3).
func (r *TradeRepository) CountOpensSince(userID int64, since time.Time) (int, error) {
	var count int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM trades WHERE user_id = ? AND opened_at >= ?`,
		userID, since.UTC().Format(timeLayout)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count opens since %s for user %d: %w", since, userID, err)
	}
	return count, nil
}

// Close transitions a trade to closed with its realized P&L.
func (r *TradeRepository) Close(id int64, exitPrice float64, pnlPercent, pnlAmount float64, closedAt time.Time) error {
	_, err := r.db.Exec(`
		UPDATE trades SET status = ?, exit_price = ?, pnl_percent = ?, pnl_amount = ?, closed_at = ?
		WHERE id = ?`, domain.TradeStatusClosed, exitPrice, pnlPercent, pnlAmount,
		closedAt.UTC().Format(timeLayout), id)
	if err != nil {
		return fmt.Errorf("close trade %d: %w", id, err)
	}
	return nil
}

// ListAllByUser returns every trade (open and closed) for a user, oldest
// first. Used by pattern derivation and by Patrol's top-traded-symbols scan.
func (r *TradeRepository) ListAllByUser(userID int64) ([]*domain.Trade, error) {
	rows, err := r.db.Query(`
		SELECT id, user_id, exchange, symbol, side, entry_price, exit_price, size, leverage,
			pnl_percent, pnl_amount, status, inferred_reasoning, user_confirmed_reasoning,
			user_actual_reasoning, episode_id, opened_at, closed_at
		FROM trades WHERE user_id = ? ORDER BY opened_at ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list all trades for user %d: %w", userID, err)
	}
	defer rows.Close()
	return scanTrades(rows)
}

// SetEpisode links a trade to the episode emitted for it.
func (r *TradeRepository) SetEpisode(id int64, episodeID int64) error {
	if _, err := r.db.Exec(`UPDATE trades SET episode_id = ? WHERE id = ?`, episodeID, id); err != nil {
		return fmt.Errorf("link trade %d to episode %d: %w", id, episodeID, err)
	}
	return nil
}

// SetReasoning stores the reasoning inferred or confirmed for a trade.
func (r *TradeRepository) SetReasoning(id int64, inferred, confirmed, actual *string) error {
	_, err := r.db.Exec(`
		UPDATE trades SET inferred_reasoning = ?, user_confirmed_reasoning = ?, user_actual_reasoning = ?
		WHERE id = ?`, inferred, confirmed, actual, id)
	if err != nil {
		return fmt.Errorf("set reasoning for trade %d: %w", id, err)
	}
	return nil
}

func scanTrade(row rowScanner) (*domain.Trade, error) {
	var t domain.Trade
	var openedAt string
	var closedAt sql.NullString
	err := row.Scan(&t.ID, &t.UserID, &t.Exchange, &t.Symbol, &t.Side, &t.EntryPrice, &t.ExitPrice,
		&t.Size, &t.Leverage, &t.PnLPercent, &t.PnLAmount, &t.Status, &t.InferredReasoning,
		&t.UserConfirmedReasoning, &t.UserActualReasoning, &t.EpisodeID, &openedAt, &closedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan trade: %w", err)
	}
	t.OpenedAt, _ = time.Parse(timeLayout, openedAt)
	t.ClosedAt = parseTimePtr(closedAt)
	return &t, nil
}

func scanTrades(rows *sql.Rows) ([]*domain.Trade, error) {
	var out []*domain.Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
