package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/marketpulse/monitor/internal/domain"
)

// SignalRepository persists Judge-produced advisories.
type SignalRepository struct {
	db *sql.DB
}

// Create inserts a new signal.
func (r *SignalRepository) Create(s *domain.Signal) (int64, error) {
	res, err := r.db.Exec(`
		INSERT INTO signals (user_id, kind, content, reasoning, counter_argument, confidence,
			confidence_style, confidence_history, confidence_market, symbol, direction, stop_loss,
			user_feedback, user_agreed, trade_followed, trade_result_pnl, episode_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.UserID, s.Kind, s.Content, s.Reasoning, s.CounterArgument, s.Confidence,
		s.ConfidenceStyle, s.ConfidenceHistory, s.ConfidenceMarket, s.Symbol, s.Direction, s.StopLoss,
		s.UserFeedback, s.UserAgreed, s.TradeFollowed, s.TradeResultPnL, s.EpisodeID,
		time.Now().UTC().Format(timeLayout))
	if err != nil {
		return 0, fmt.Errorf("insert signal for user %d: %w", s.UserID, err)
	}
	return res.LastInsertId()
}

// GetByID fetches a single signal.
func (r *SignalRepository) GetByID(id int64) (*domain.Signal, error) {
	row := r.db.QueryRow(`
		SELECT id, user_id, kind, content, reasoning, counter_argument, confidence,
			confidence_style, confidence_history, confidence_market, symbol, direction, stop_loss,
			user_feedback, user_agreed, trade_followed, trade_result_pnl, episode_id, created_at
		FROM signals WHERE id = ?`, id)
	return scanSignal(row)
}

// ListUnresolvedByUser returns trade_signal rows the user has not yet given
// feedback on, used by patrol's unfollowed-signal reconciliation.
func (r *SignalRepository) ListUnresolvedByUser(userID int64) ([]*domain.Signal, error) {
	rows, err := r.db.Query(`
		SELECT id, user_id, kind, content, reasoning, counter_argument, confidence,
			confidence_style, confidence_history, confidence_market, symbol, direction, stop_loss,
			user_feedback, user_agreed, trade_followed, trade_result_pnl, episode_id, created_at
		FROM signals WHERE user_id = ? AND kind = ? AND user_feedback IS NULL`,
		userID, domain.SignalKindTradeSignal)
	if err != nil {
		return nil, fmt.Errorf("list unresolved signals for user %d: %w", userID, err)
	}
	defer rows.Close()

	var out []*domain.Signal
	for rows.Next() {
		s, err := scanSignal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// FindNearestBySymbolAndWindow returns the most recently created signal for
// the given symbol within [from, to], used by the Feedback Learner to find
// the signal a closed trade most plausibly followed.
func (r *SignalRepository) FindNearestBySymbolAndWindow(userID int64, symbol string, from, to time.Time) (*domain.Signal, error) {
	row := r.db.QueryRow(`
		SELECT id, user_id, kind, content, reasoning, counter_argument, confidence,
			confidence_style, confidence_history, confidence_market, symbol, direction, stop_loss,
			user_feedback, user_agreed, trade_followed, trade_result_pnl, episode_id, created_at
		FROM signals
		WHERE user_id = ? AND symbol = ? AND created_at BETWEEN ? AND ?
		ORDER BY created_at DESC LIMIT 1`,
		userID, symbol, from.UTC().Format(timeLayout), to.UTC().Format(timeLayout))
	return scanSignal(row)
}

// ListJudgedByUser returns every signal with a recorded user_agreed value,
// used by the judgement sub-score of the sync rate. RecordFeedback stores
// false for every reaction that is not an agreement, so nudges are returned
// alongside disagreements.
func (r *SignalRepository) ListJudgedByUser(userID int64) ([]*domain.Signal, error) {
	rows, err := r.db.Query(`
		SELECT id, user_id, kind, content, reasoning, counter_argument, confidence,
			confidence_style, confidence_history, confidence_market, symbol, direction, stop_loss,
			user_feedback, user_agreed, trade_followed, trade_result_pnl, episode_id, created_at
		FROM signals WHERE user_id = ? AND user_agreed IS NOT NULL`, userID)
	if err != nil {
		return nil, fmt.Errorf("list judged signals for user %d: %w", userID, err)
	}
	defer rows.Close()

	var out []*domain.Signal
	for rows.Next() {
		s, err := scanSignal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// RecordFeedback stores the user's reaction to a signal.
func (r *SignalRepository) RecordFeedback(id int64, feedback string, agreed bool) error {
	if _, err := r.db.Exec(`UPDATE signals SET user_feedback = ?, user_agreed = ? WHERE id = ?`,
		feedback, agreed, id); err != nil {
		return fmt.Errorf("record feedback for signal %d: %w", id, err)
	}
	return nil
}

// RecordOutcome links a signal to the trade result that followed it.
func (r *SignalRepository) RecordOutcome(id int64, followed bool, pnl *float64) error {
	if _, err := r.db.Exec(`UPDATE signals SET trade_followed = ?, trade_result_pnl = ? WHERE id = ?`,
		followed, pnl, id); err != nil {
		return fmt.Errorf("record outcome for signal %d: %w", id, err)
	}
	return nil
}

// SetEpisode links a signal to its emitted episode.
func (r *SignalRepository) SetEpisode(id int64, episodeID int64) error {
	if _, err := r.db.Exec(`UPDATE signals SET episode_id = ? WHERE id = ?`, episodeID, id); err != nil {
		return fmt.Errorf("link signal %d to episode %d: %w", id, episodeID, err)
	}
	return nil
}

func scanSignal(row rowScanner) (*domain.Signal, error) {
	var s domain.Signal
	var createdAt string
	err := row.Scan(&s.ID, &s.UserID, &s.Kind, &s.Content, &s.Reasoning, &s.CounterArgument, &s.Confidence,
		&s.ConfidenceStyle, &s.ConfidenceHistory, &s.ConfidenceMarket, &s.Symbol, &s.Direction, &s.StopLoss,
		&s.UserFeedback, &s.UserAgreed, &s.TradeFollowed, &s.TradeResultPnL, &s.EpisodeID, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan signal: %w", err)
	}
	s.CreatedAt, _ = time.Parse(timeLayout, createdAt)
	return &s, nil
}
