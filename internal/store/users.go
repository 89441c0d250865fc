package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/marketpulse/monitor/internal/domain"
)

// UserRepository persists domain.User rows.
type UserRepository struct {
	db *sql.DB
}

// Create inserts a new user and returns its assigned ID.
func (r *UserRepository) Create(u *domain.User) (int64, error) {
	now := time.Now().UTC()
	res, err := r.db.Exec(`
		INSERT INTO users (external_id, display_name, language, tier, onboarding_stage,
			last_active_at, daily_signal_count, daily_signal_reset_at, briefing_hour,
			is_active, style_raw, style_parsed, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ExternalID, u.DisplayName, u.Language, u.Tier, u.OnboardingStage,
		formatTimePtr(u.LastActiveAt), u.DailySignalCount, formatTimePtr(u.DailySignalResetAt),
		u.BriefingHour, u.IsActive, u.StyleRaw, u.StyleParsed, now.Format(timeLayout), now.Format(timeLayout))
	if err != nil {
		return 0, fmt.Errorf("insert user %s: %w", u.ExternalID, err)
	}
	return res.LastInsertId()
}

// GetByExternalID fetches a user by their external (chat platform) identity.
func (r *UserRepository) GetByExternalID(externalID string) (*domain.User, error) {
	row := r.db.QueryRow(`
		SELECT id, external_id, display_name, language, tier, onboarding_stage,
			last_active_at, daily_signal_count, daily_signal_reset_at, briefing_hour,
			is_active, style_raw, style_parsed, created_at, updated_at
		FROM users WHERE external_id = ?`, externalID)
	return scanUser(row)
}

// GetByID fetches a user by primary key.
func (r *UserRepository) GetByID(id int64) (*domain.User, error) {
	row := r.db.QueryRow(`
		SELECT id, external_id, display_name, language, tier, onboarding_stage,
			last_active_at, daily_signal_count, daily_signal_reset_at, briefing_hour,
			is_active, style_raw, style_parsed, created_at, updated_at
		FROM users WHERE id = ?`, id)
	return scanUser(row)
}

// ListMonitored returns every user eligible for stream polling and patrol
// (onboarding_stage >= 4, is_active). This is deliberately a global query,
// not scoped per-caller, since the scheduler drives it once per cycle for
// everyone at once.
func (r *UserRepository) ListMonitored() ([]*domain.User, error) {
	rows, err := r.db.Query(`
		SELECT id, external_id, display_name, language, tier, onboarding_stage,
			last_active_at, daily_signal_count, daily_signal_reset_at, briefing_hour,
			is_active, style_raw, style_parsed, created_at, updated_at
		FROM users WHERE is_active = 1 AND onboarding_stage >= 4`)
	if err != nil {
		return nil, fmt.Errorf("list monitored users: %w", err)
	}
	defer rows.Close()

	var out []*domain.User
	for rows.Next() {
		u, err := scanUserRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// TouchActive bumps last_active_at to now.
func (r *UserRepository) TouchActive(userID int64) error {
	_, err := r.db.Exec(`UPDATE users SET last_active_at = ?, updated_at = ? WHERE id = ?`,
		time.Now().UTC().Format(timeLayout), time.Now().UTC().Format(timeLayout), userID)
	if err != nil {
		return fmt.Errorf("touch active user %d: %w", userID, err)
	}
	return nil
}

// IncrementDailySignalCount adds 1 to the user's daily_signal_count, used by
// the signal pipeline's quota check.
func (r *UserRepository) IncrementDailySignalCount(userID int64) error {
	_, err := r.db.Exec(`UPDATE users SET daily_signal_count = daily_signal_count + 1 WHERE id = ?`, userID)
	if err != nil {
		return fmt.Errorf("increment daily signal count for user %d: %w", userID, err)
	}
	return nil
}

// ResetDailySignalCounts zeroes every user's daily_signal_count. Invoked by
// the signal-count-reset cron job at 00:00 UTC.
func (r *UserRepository) ResetDailySignalCounts() (int64, error) {
	res, err := r.db.Exec(`UPDATE users SET daily_signal_count = 0, daily_signal_reset_at = ?`,
		time.Now().UTC().Format(timeLayout))
	if err != nil {
		return 0, fmt.Errorf("reset daily signal counts: %w", err)
	}
	return res.RowsAffected()
}

// ResetQuotaIfStale zeroes a single user's daily_signal_count when their
// daily_signal_reset_at falls on an earlier calendar date than today (UTC),
// used by the signal pipeline's per-request quota check. A user who has
// never had daily_signal_reset_at set is treated as stale.
func (r *UserRepository) ResetQuotaIfStale(userID int64, now time.Time) error {
	today := now.UTC().Format("2006-01-02")
	_, err := r.db.Exec(`
		UPDATE users SET daily_signal_count = 0, daily_signal_reset_at = ?
		WHERE id = ? AND (daily_signal_reset_at IS NULL OR date(daily_signal_reset_at) < date(?))`,
		now.UTC().Format(timeLayout), userID, today)
	if err != nil {
		return fmt.Errorf("reset quota for user %d: %w", userID, err)
	}
	return nil
}

// UpdateStyle persists the derived style profile (raw chat text + parsed
// tags) used to build the Judge's StyleContext.
func (r *UserRepository) UpdateStyle(userID int64, raw, parsed *string) error {
	_, err := r.db.Exec(`UPDATE users SET style_raw = ?, style_parsed = ?, updated_at = ? WHERE id = ?`,
		raw, parsed, time.Now().UTC().Format(timeLayout), userID)
	if err != nil {
		return fmt.Errorf("update style for user %d: %w", userID, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*domain.User, error) {
	return scanUserRows(row)
}

func scanUserRows(row rowScanner) (*domain.User, error) {
	var u domain.User
	var lastActiveAt, resetAt sql.NullString
	var createdAt, updatedAt string
	err := row.Scan(&u.ID, &u.ExternalID, &u.DisplayName, &u.Language, &u.Tier, &u.OnboardingStage,
		&lastActiveAt, &u.DailySignalCount, &resetAt, &u.BriefingHour,
		&u.IsActive, &u.StyleRaw, &u.StyleParsed, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan user: %w", err)
	}
	u.LastActiveAt = parseTimePtr(lastActiveAt)
	u.DailySignalResetAt = parseTimePtr(resetAt)
	u.CreatedAt, _ = time.Parse(timeLayout, createdAt)
	u.UpdatedAt, _ = time.Parse(timeLayout, updatedAt)
	return &u, nil
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(timeLayout)
}

func parseTimePtr(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t, err := time.Parse(timeLayout, ns.String)
	if err != nil {
		return nil
	}
	return &t
}
