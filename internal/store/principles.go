package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/marketpulse/monitor/internal/domain"
)

// PrincipleRepository persists standing trading rules.
type PrincipleRepository struct {
	db *sql.DB
}

// Create inserts a new principle.
func (r *PrincipleRepository) Create(p *domain.Principle) (int64, error) {
	res, err := r.db.Exec(`
		INSERT INTO principles (user_id, text, source, is_active, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		p.UserID, p.Text, p.Source, p.IsActive, time.Now().UTC().Format(timeLayout))
	if err != nil {
		return 0, fmt.Errorf("insert principle for user %d: %w", p.UserID, err)
	}
	return res.LastInsertId()
}

// ListActiveByUser returns the principles fed into the Judge's style context.
func (r *PrincipleRepository) ListActiveByUser(userID int64) ([]*domain.Principle, error) {
	rows, err := r.db.Query(`
		SELECT id, user_id, text, source, is_active, created_at
		FROM principles WHERE user_id = ? AND is_active = 1 ORDER BY created_at`, userID)
	if err != nil {
		return nil, fmt.Errorf("list principles for user %d: %w", userID, err)
	}
	defer rows.Close()

	var out []*domain.Principle
	for rows.Next() {
		var p domain.Principle
		var createdAt string
		if err := rows.Scan(&p.ID, &p.UserID, &p.Text, &p.Source, &p.IsActive, &createdAt); err != nil {
			return nil, fmt.Errorf("scan principle: %w", err)
		}
		p.CreatedAt, _ = time.Parse(timeLayout, createdAt)
		out = append(out, &p)
	}
	return out, rows.Err()
}

// SoftDelete flips is_active off; principles are never hard-deleted.
func (r *PrincipleRepository) SoftDelete(id int64) error {
	if _, err := r.db.Exec(`UPDATE principles SET is_active = 0 WHERE id = ?`, id); err != nil {
		return fmt.Errorf("soft delete principle %d: %w", id, err)
	}
	return nil
}
