package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/marketpulse/monitor/internal/domain"
)

// BaseStreamRepository persists stream subscriptions and their temperature
// lifecycle.
type BaseStreamRepository struct {
	db *sql.DB
}

// Upsert creates the (user, stream_type, symbol) row if absent, or touches
// last_mentioned_at and restores it to hot if present — re-mention always
// restores to hot regardless of prior temperature.
func (r *BaseStreamRepository) Upsert(s *domain.BaseStream) (int64, error) {
	now := time.Now().UTC().Format(timeLayout)
	config, err := marshalJSON(s.Config)
	if err != nil {
		return 0, err
	}

	res, err := r.db.Exec(`
		INSERT INTO base_streams (user_id, stream_type, symbol, config, temperature, last_mentioned_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, stream_type, symbol) DO UPDATE SET
			temperature = excluded.temperature,
			last_mentioned_at = excluded.last_mentioned_at,
			config = excluded.config`,
		s.UserID, s.StreamType, s.Symbol, config, domain.TemperatureHot, now, now)
	if err != nil {
		return 0, fmt.Errorf("upsert base stream for user %d: %w", s.UserID, err)
	}
	id, err := res.LastInsertId()
	if err != nil || id == 0 {
		row := r.db.QueryRow(`SELECT id FROM base_streams WHERE user_id = ? AND stream_type = ? AND symbol IS ?`,
			s.UserID, s.StreamType, s.Symbol)
		if scanErr := row.Scan(&id); scanErr != nil {
			return 0, fmt.Errorf("resolve upserted base stream id: %w", scanErr)
		}
	}
	return id, nil
}

// SetTemperature transitions a stream's temperature (patrol's auto_transition).
func (r *BaseStreamRepository) SetTemperature(id int64, temperature string) error {
	if _, err := r.db.Exec(`UPDATE base_streams SET temperature = ? WHERE id = ?`, temperature, id); err != nil {
		return fmt.Errorf("set temperature for stream %d: %w", id, err)
	}
	return nil
}

// SetLastValue stores the most recent fetched value as the stream's snapshot.
func (r *BaseStreamRepository) SetLastValue(id int64, value map[string]any) error {
	encoded, err := marshalJSON(value)
	if err != nil {
		return err
	}
	if _, err := r.db.Exec(`UPDATE base_streams SET last_value = ? WHERE id = ?`, encoded, id); err != nil {
		return fmt.Errorf("set last value for stream %d: %w", id, err)
	}
	return nil
}

// ListByTemperature is the global poll-target query the scheduler runs once
// per cycle across every user, not per-user, to keep the hot/warm poll
// passes O(1) query count regardless of user count.
func (r *BaseStreamRepository) ListByTemperature(temperature string) ([]*domain.BaseStream, error) {
	rows, err := r.db.Query(`
		SELECT id, user_id, stream_type, symbol, config, temperature, last_mentioned_at, last_value, created_at
		FROM base_streams WHERE temperature = ?`, temperature)
	if err != nil {
		return nil, fmt.Errorf("list base streams at temperature %s: %w", temperature, err)
	}
	defer rows.Close()
	return scanBaseStreams(rows)
}

// ListByUser returns every stream a user is subscribed to, used to build a
// hot_snapshot.
func (r *BaseStreamRepository) ListByUser(userID int64) ([]*domain.BaseStream, error) {
	rows, err := r.db.Query(`
		SELECT id, user_id, stream_type, symbol, config, temperature, last_mentioned_at, last_value, created_at
		FROM base_streams WHERE user_id = ?`, userID)
	if err != nil {
		return nil, fmt.Errorf("list base streams for user %d: %w", userID, err)
	}
	defer rows.Close()
	return scanBaseStreams(rows)
}

func scanBaseStreams(rows *sql.Rows) ([]*domain.BaseStream, error) {
	var out []*domain.BaseStream
	for rows.Next() {
		var s domain.BaseStream
		var config, lastValue sql.NullString
		var lastMentioned sql.NullString
		var createdAt string
		if err := rows.Scan(&s.ID, &s.UserID, &s.StreamType, &s.Symbol, &config, &s.Temperature,
			&lastMentioned, &lastValue, &createdAt); err != nil {
			return nil, fmt.Errorf("scan base stream: %w", err)
		}
		if err := unmarshalJSON(config, &s.Config); err != nil {
			return nil, fmt.Errorf("decode base stream config: %w", err)
		}
		if err := unmarshalJSON(lastValue, &s.LastValue); err != nil {
			return nil, fmt.Errorf("decode base stream last value: %w", err)
		}
		s.LastMentionedAt = parseTimePtr(lastMentioned)
		s.CreatedAt, _ = time.Parse(timeLayout, createdAt)
		out = append(out, &s)
	}
	return out, rows.Err()
}
