package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/marketpulse/monitor/internal/domain"
)

// ChatMessageRepository persists the append-only conversational log.
type ChatMessageRepository struct {
	db *sql.DB
}

// Append inserts a new chat message. This log is append-only: there is no
// update or delete.
func (r *ChatMessageRepository) Append(m *domain.ChatMessage) (int64, error) {
	metadata, err := marshalJSON(m.Metadata)
	if err != nil {
		return 0, err
	}
	res, err := r.db.Exec(`
		INSERT INTO chat_messages (user_id, role, content, message_type, intent, metadata, external_message_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		m.UserID, m.Role, m.Content, m.MessageType, m.Intent, metadata, m.ExternalMessageID,
		time.Now().UTC().Format(timeLayout))
	if err != nil {
		return 0, fmt.Errorf("append chat message for user %d: %w", m.UserID, err)
	}
	return res.LastInsertId()
}

// CountUserMessagesSince counts role="user" messages a user has sent since
// the given time, used by the conversation-frequency sub-score of the sync
// rate.
func (r *ChatMessageRepository) CountUserMessagesSince(userID int64, since time.Time) (int, error) {
	var n int
	err := r.db.QueryRow(`
		SELECT COUNT(*) FROM chat_messages WHERE user_id = ? AND role = ? AND created_at >= ?`,
		userID, domain.ChatRoleUser, since.UTC().Format(timeLayout)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count recent user messages for user %d: %w", userID, err)
	}
	return n, nil
}

// ListRecentByUser returns the most recent messages, newest first, used to
// build the "recent chat" sub-part of StyleContext.
func (r *ChatMessageRepository) ListRecentByUser(userID int64, limit int) ([]*domain.ChatMessage, error) {
	rows, err := r.db.Query(`
		SELECT id, user_id, role, content, message_type, intent, metadata, external_message_id, created_at
		FROM chat_messages WHERE user_id = ? ORDER BY created_at DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent chat messages for user %d: %w", userID, err)
	}
	defer rows.Close()

	var out []*domain.ChatMessage
	for rows.Next() {
		var m domain.ChatMessage
		var metadata sql.NullString
		var createdAt string
		if err := rows.Scan(&m.ID, &m.UserID, &m.Role, &m.Content, &m.MessageType, &m.Intent,
			&metadata, &m.ExternalMessageID, &createdAt); err != nil {
			return nil, fmt.Errorf("scan chat message: %w", err)
		}
		if err := unmarshalJSON(metadata, &m.Metadata); err != nil {
			return nil, fmt.Errorf("decode chat message metadata: %w", err)
		}
		m.CreatedAt, _ = time.Parse(timeLayout, createdAt)
		out = append(out, &m)
	}
	return out, rows.Err()
}
