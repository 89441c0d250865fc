package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/marketpulse/monitor/internal/domain"
)

// PatrolLogRepository persists one row per patrol sweep.
type PatrolLogRepository struct {
	db *sql.DB
}

// Create inserts a patrol log entry.
func (r *PatrolLogRepository) Create(p *domain.PatrolLog) (int64, error) {
	findings, err := marshalJSON(p.Findings)
	if err != nil {
		return 0, err
	}
	actions, err := marshalJSON(p.ActionsTaken)
	if err != nil {
		return 0, err
	}
	tempChanges, err := marshalJSON(p.TemperatureChanges)
	if err != nil {
		return 0, err
	}

	res, err := r.db.Exec(`
		INSERT INTO patrol_logs (user_id, kind, findings, actions_taken, temperature_changes, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		p.UserID, p.Kind, findings, actions, tempChanges, time.Now().UTC().Format(timeLayout))
	if err != nil {
		return 0, fmt.Errorf("insert patrol log for user %d: %w", p.UserID, err)
	}
	return res.LastInsertId()
}

// ListRecentByUser returns a user's most recent patrol logs.
func (r *PatrolLogRepository) ListRecentByUser(userID int64, since time.Time) ([]*domain.PatrolLog, error) {
	rows, err := r.db.Query(`
		SELECT id, user_id, kind, findings, actions_taken, temperature_changes, created_at
		FROM patrol_logs WHERE user_id = ? AND created_at >= ? ORDER BY created_at DESC`,
		userID, since.UTC().Format(timeLayout))
	if err != nil {
		return nil, fmt.Errorf("list recent patrol logs for user %d: %w", userID, err)
	}
	defer rows.Close()

	var out []*domain.PatrolLog
	for rows.Next() {
		var p domain.PatrolLog
		var findings, actions, tempChanges sql.NullString
		var createdAt string
		if err := rows.Scan(&p.ID, &p.UserID, &p.Kind, &findings, &actions, &tempChanges, &createdAt); err != nil {
			return nil, fmt.Errorf("scan patrol log: %w", err)
		}
		if err := unmarshalJSON(findings, &p.Findings); err != nil {
			return nil, fmt.Errorf("decode patrol findings: %w", err)
		}
		if err := unmarshalJSON(actions, &p.ActionsTaken); err != nil {
			return nil, fmt.Errorf("decode patrol actions: %w", err)
		}
		if err := unmarshalJSON(tempChanges, &p.TemperatureChanges); err != nil {
			return nil, fmt.Errorf("decode patrol temperature changes: %w", err)
		}
		p.CreatedAt, _ = time.Parse(timeLayout, createdAt)
		out = append(out, &p)
	}
	return out, rows.Err()
}
