package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/marketpulse/monitor/internal/domain"
)

// ExchangeConnectionRepository persists cipher-sealed exchange credentials.
type ExchangeConnectionRepository struct {
	db *sql.DB
}

// Create stores a new connection. key/secret must already be ciphertext;
// this repository never sees plaintext.
func (r *ExchangeConnectionRepository) Create(c *domain.ExchangeConnection) (int64, error) {
	res, err := r.db.Exec(`
		INSERT INTO exchange_connections (user_id, exchange_name, encrypted_key, encrypted_secret, is_active, last_polled_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.UserID, c.ExchangeName, c.EncryptedKey, c.EncryptedSecret, c.IsActive,
		formatTimePtr(c.LastPolledAt), time.Now().UTC().Format(timeLayout))
	if err != nil {
		return 0, fmt.Errorf("insert exchange connection for user %d: %w", c.UserID, err)
	}
	return res.LastInsertId()
}

// ListActiveByUser returns every active connection for a user, the set the
// trade detector polls on its cadence.
func (r *ExchangeConnectionRepository) ListActiveByUser(userID int64) ([]*domain.ExchangeConnection, error) {
	rows, err := r.db.Query(`
		SELECT id, user_id, exchange_name, encrypted_key, encrypted_secret, is_active, last_polled_at, created_at
		FROM exchange_connections WHERE user_id = ? AND is_active = 1`, userID)
	if err != nil {
		return nil, fmt.Errorf("list exchange connections for user %d: %w", userID, err)
	}
	defer rows.Close()

	var out []*domain.ExchangeConnection
	for rows.Next() {
		var c domain.ExchangeConnection
		var lastPolled sql.NullString
		var createdAt string
		if err := rows.Scan(&c.ID, &c.UserID, &c.ExchangeName, &c.EncryptedKey, &c.EncryptedSecret,
			&c.IsActive, &lastPolled, &createdAt); err != nil {
			return nil, fmt.Errorf("scan exchange connection: %w", err)
		}
		c.LastPolledAt = parseTimePtr(lastPolled)
		c.CreatedAt, _ = time.Parse(timeLayout, createdAt)
		out = append(out, &c)
	}
	return out, rows.Err()
}

// ListAllActive returns every active connection across every user, used by
// the trade-poll job to build one sweep pass.
func (r *ExchangeConnectionRepository) ListAllActive() ([]*domain.ExchangeConnection, error) {
	rows, err := r.db.Query(`
		SELECT id, user_id, exchange_name, encrypted_key, encrypted_secret, is_active, last_polled_at, created_at
		FROM exchange_connections WHERE is_active = 1`)
	if err != nil {
		return nil, fmt.Errorf("list all active exchange connections: %w", err)
	}
	defer rows.Close()

	var out []*domain.ExchangeConnection
	for rows.Next() {
		var c domain.ExchangeConnection
		var lastPolled sql.NullString
		var createdAt string
		if err := rows.Scan(&c.ID, &c.UserID, &c.ExchangeName, &c.EncryptedKey, &c.EncryptedSecret,
			&c.IsActive, &lastPolled, &createdAt); err != nil {
			return nil, fmt.Errorf("scan exchange connection: %w", err)
		}
		c.LastPolledAt = parseTimePtr(lastPolled)
		c.CreatedAt, _ = time.Parse(timeLayout, createdAt)
		out = append(out, &c)
	}
	return out, rows.Err()
}

// TouchPolled updates last_polled_at to now.
func (r *ExchangeConnectionRepository) TouchPolled(id int64) error {
	_, err := r.db.Exec(`UPDATE exchange_connections SET last_polled_at = ? WHERE id = ?`,
		time.Now().UTC().Format(timeLayout), id)
	if err != nil {
		return fmt.Errorf("touch polled connection %d: %w", id, err)
	}
	return nil
}
