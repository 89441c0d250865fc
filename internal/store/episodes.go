package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/marketpulse/monitor/internal/domain"
)

// VectorUpserter is the narrow slice of the vector store (C4) the episode
// repository needs: embed the text, upsert under the caller's namespace.
type VectorUpserter interface {
	Upsert(ctx context.Context, namespace string, id int64, text string, metadata map[string]any) error
}

// EpisodeRepository persists learning episodes and best-effort mirrors them
// into the vector store.
type EpisodeRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// Create inserts an episode row without attempting a vector upsert. Used
// when the caller manages the vector write separately (e.g. a retry path).
func (r *EpisodeRepository) Create(e *domain.Episode) (int64, error) {
	marketContext, err := marshalJSON(e.MarketContext)
	if err != nil {
		return 0, err
	}
	tradeData, err := marshalJSON(e.TradeData)
	if err != nil {
		return 0, err
	}
	tradeResult, err := marshalJSON(e.TradeResult)
	if err != nil {
		return 0, err
	}
	calibration, err := marshalJSON(e.ExpressionCalibration)
	if err != nil {
		return 0, err
	}
	styleTags, err := marshalJSON(e.StyleTags)
	if err != nil {
		return 0, err
	}

	res, err := r.db.Exec(`
		INSERT INTO episodes (user_id, kind, market_context, user_action, trade_data, reasoning,
			trade_result, feedback, expression_calibration, style_tags, embedding_text, vector_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.UserID, e.Kind, marketContext, e.UserAction, tradeData, e.Reasoning, tradeResult, e.Feedback,
		calibration, styleTags, e.EmbeddingText, e.VectorID, time.Now().UTC().Format(timeLayout))
	if err != nil {
		return 0, fmt.Errorf("insert episode for user %d: %w", e.UserID, err)
	}
	return res.LastInsertId()
}

// CreateWithVectorUpsert persists the episode row, then attempts a
// best-effort vector upsert. The row always commits regardless of whether
// the vector store call succeeds — per the Episode invariant, vector upsert
// failure must never fail the surrounding operation. A failed upsert is
// logged and leaves VectorID unset; it is not retried here.
func (r *EpisodeRepository) CreateWithVectorUpsert(ctx context.Context, e *domain.Episode, namespace string, vs VectorUpserter) (int64, error) {
	id, err := r.Create(e)
	if err != nil {
		return 0, err
	}

	if err := vs.Upsert(ctx, namespace, id, e.EmbeddingText, map[string]any{"kind": e.Kind, "user_id": e.UserID}); err != nil {
		r.log.Warn().Err(err).Int64("episode_id", id).Msg("vector upsert failed, episode persisted without embedding")
		return id, nil
	}

	vectorID := fmt.Sprintf("%d", id)
	if _, err := r.db.Exec(`UPDATE episodes SET vector_id = ? WHERE id = ?`, vectorID, id); err != nil {
		r.log.Warn().Err(err).Int64("episode_id", id).Msg("failed to record vector_id after successful upsert")
	}
	return id, nil
}

// ListRecentByUser returns a user's most recent episodes, newest first, for
// StyleContext construction (the most recent 10 episodes' style_tags).
func (r *EpisodeRepository) ListRecentByUser(userID int64, limit int) ([]*domain.Episode, error) {
	rows, err := r.db.Query(`
		SELECT id, user_id, kind, market_context, user_action, trade_data, reasoning, trade_result,
			feedback, expression_calibration, style_tags, embedding_text, vector_id, created_at
		FROM episodes WHERE user_id = ? ORDER BY created_at DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent episodes for user %d: %w", userID, err)
	}
	defer rows.Close()
	return scanEpisodes(rows)
}

// ListByUserAndKind returns episodes of a given kind for a user, used by
// calibration lookup (most recent Episode for a given expression wins).
func (r *EpisodeRepository) ListByUserAndKind(userID int64, kind string) ([]*domain.Episode, error) {
	rows, err := r.db.Query(`
		SELECT id, user_id, kind, market_context, user_action, trade_data, reasoning, trade_result,
			feedback, expression_calibration, style_tags, embedding_text, vector_id, created_at
		FROM episodes WHERE user_id = ? AND kind = ? ORDER BY created_at DESC`, userID, kind)
	if err != nil {
		return nil, fmt.Errorf("list episodes for user %d kind %s: %w", userID, kind, err)
	}
	defer rows.Close()
	return scanEpisodes(rows)
}

// CountByUser returns the total number of episodes ever recorded for a
// user, used by the learning-completeness sub-score of the sync rate.
func (r *EpisodeRepository) CountByUser(userID int64) (int, error) {
	var n int
	if err := r.db.QueryRow(`SELECT COUNT(*) FROM episodes WHERE user_id = ?`, userID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count episodes for user %d: %w", userID, err)
	}
	return n, nil
}

func scanEpisodes(rows *sql.Rows) ([]*domain.Episode, error) {
	var out []*domain.Episode
	for rows.Next() {
		var e domain.Episode
		var marketContext, tradeData, tradeResult, calibration, styleTags sql.NullString
		var createdAt string
		if err := rows.Scan(&e.ID, &e.UserID, &e.Kind, &marketContext, &e.UserAction, &tradeData,
			&e.Reasoning, &tradeResult, &e.Feedback, &calibration, &styleTags, &e.EmbeddingText,
			&e.VectorID, &createdAt); err != nil {
			return nil, fmt.Errorf("scan episode: %w", err)
		}
		if err := unmarshalJSON(marketContext, &e.MarketContext); err != nil {
			return nil, fmt.Errorf("decode episode market context: %w", err)
		}
		if err := unmarshalJSON(tradeData, &e.TradeData); err != nil {
			return nil, fmt.Errorf("decode episode trade data: %w", err)
		}
		if err := unmarshalJSON(tradeResult, &e.TradeResult); err != nil {
			return nil, fmt.Errorf("decode episode trade result: %w", err)
		}
		if err := unmarshalJSON(calibration, &e.ExpressionCalibration); err != nil {
			return nil, fmt.Errorf("decode episode calibration: %w", err)
		}
		if err := unmarshalJSON(styleTags, &e.StyleTags); err != nil {
			return nil, fmt.Errorf("decode episode style tags: %w", err)
		}
		e.CreatedAt, _ = time.Parse(timeLayout, createdAt)
		out = append(out, &e)
	}
	return out, rows.Err()
}
