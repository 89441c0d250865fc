package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/marketpulse/monitor/internal/domain"
	"github.com/marketpulse/monitor/internal/utils"
)

// UserTriggerRepository persists user-defined and system-synthesized
// conditions.
type UserTriggerRepository struct {
	db *sql.DB
}

// Create inserts a new trigger.
func (r *UserTriggerRepository) Create(t *domain.UserTrigger) (int64, error) {
	res, err := r.db.Exec(`
		INSERT INTO user_triggers (user_id, kind, condition, composite_logic, base_streams_needed,
			eval_prompt, data_needed, description, source, is_active, triggered_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.UserID, t.Kind, t.Condition, t.CompositeLogic, joinOrNil(t.BaseStreamsNeeded),
		t.EvalPrompt, joinOrNil(t.DataNeeded), t.Description, t.Source, t.IsActive,
		formatTimePtr(t.TriggeredAt), time.Now().UTC().Format(timeLayout))
	if err != nil {
		return 0, fmt.Errorf("insert user trigger for user %d: %w", t.UserID, err)
	}
	return res.LastInsertId()
}

// ListActiveByUser returns every active trigger a user has, filtered further
// by kind in memory by the trigger engine. Ordered by id ascending so two
// triggers colliding on the same tick evaluate in a stable, deterministic
// order.
func (r *UserTriggerRepository) ListActiveByUser(userID int64) ([]*domain.UserTrigger, error) {
	return r.query(`
		SELECT id, user_id, kind, condition, composite_logic, base_streams_needed,
			eval_prompt, data_needed, description, source, is_active, triggered_at, created_at
		FROM user_triggers WHERE user_id = ? AND is_active = 1 ORDER BY id ASC`, userID)
}

// ListLLMEvaluatedFiredByUser returns llm_evaluated triggers that have
// already fired once (patrol step 4: re-evaluation pass).
func (r *UserTriggerRepository) ListLLMEvaluatedFiredByUser(userID int64) ([]*domain.UserTrigger, error) {
	return r.query(`
		SELECT id, user_id, kind, condition, composite_logic, base_streams_needed,
			eval_prompt, data_needed, description, source, is_active, triggered_at, created_at
		FROM user_triggers
		WHERE user_id = ? AND is_active = 1 AND kind = ? AND triggered_at IS NOT NULL`,
		userID, domain.TriggerLLMEvaluated)
}

// ListDeferredRequestsByUser returns never-fired user_request llm_evaluated
// triggers (patrol step 5: deferred-request evaluation pass).
func (r *UserTriggerRepository) ListDeferredRequestsByUser(userID int64) ([]*domain.UserTrigger, error) {
	return r.query(`
		SELECT id, user_id, kind, condition, composite_logic, base_streams_needed,
			eval_prompt, data_needed, description, source, is_active, triggered_at, created_at
		FROM user_triggers
		WHERE user_id = ? AND is_active = 1 AND kind = ? AND source = ? AND triggered_at IS NULL`,
		userID, domain.TriggerLLMEvaluated, domain.TriggerSourceUserRequest)
}

// ListAutoRetireCandidates returns system-authored triggers eligible for the
// 72h-without-firing auto-retire sweep.
func (r *UserTriggerRepository) ListAutoRetireCandidates() ([]*domain.UserTrigger, error) {
	return r.query(`
		SELECT id, user_id, kind, condition, composite_logic, base_streams_needed,
			eval_prompt, data_needed, description, source, is_active, triggered_at, created_at
		FROM user_triggers
		WHERE is_active = 1 AND source != ? AND triggered_at IS NULL`,
		domain.TriggerSourceUserRequest)
}

// MarkTriggered stamps triggered_at to now.
func (r *UserTriggerRepository) MarkTriggered(id int64) error {
	if _, err := r.db.Exec(`UPDATE user_triggers SET triggered_at = ? WHERE id = ?`,
		time.Now().UTC().Format(timeLayout), id); err != nil {
		return fmt.Errorf("mark trigger %d triggered: %w", id, err)
	}
	return nil
}

// Retire soft-deletes a trigger.
func (r *UserTriggerRepository) Retire(id int64) error {
	if _, err := r.db.Exec(`UPDATE user_triggers SET is_active = 0 WHERE id = ?`, id); err != nil {
		return fmt.Errorf("retire trigger %d: %w", id, err)
	}
	return nil
}

func (r *UserTriggerRepository) query(query string, args ...any) ([]*domain.UserTrigger, error) {
	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query user triggers: %w", err)
	}
	defer rows.Close()

	var out []*domain.UserTrigger
	for rows.Next() {
		var t domain.UserTrigger
		var baseStreamsNeeded, dataNeeded sql.NullString
		var triggeredAt sql.NullString
		var createdAt string
		if err := rows.Scan(&t.ID, &t.UserID, &t.Kind, &t.Condition, &t.CompositeLogic,
			&baseStreamsNeeded, &t.EvalPrompt, &dataNeeded, &t.Description, &t.Source,
			&t.IsActive, &triggeredAt, &createdAt); err != nil {
			return nil, fmt.Errorf("scan user trigger: %w", err)
		}
		t.BaseStreamsNeeded = splitOrNil(baseStreamsNeeded)
		t.DataNeeded = splitOrNil(dataNeeded)
		t.TriggeredAt = parseTimePtr(triggeredAt)
		t.CreatedAt, _ = time.Parse(timeLayout, createdAt)
		out = append(out, &t)
	}
	return out, rows.Err()
}

func joinOrNil(ss []string) any {
	if len(ss) == 0 {
		return nil
	}
	return strings.Join(ss, ",")
}

func splitOrNil(ns sql.NullString) []string {
	if !ns.Valid {
		return nil
	}
	return utils.ParseCSV(ns.String)
}
