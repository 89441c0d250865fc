// Package store implements the transactional persistence layer (C3) over
// the monitor sqlite database: one repository per entity in §3 of the data
// model, sharing a single *sql.DB and the cascade-delete/index contract
// the schema enforces.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"
)

// Store bundles every per-entity repository behind one construction point,
// mirroring the teacher's per-module repository wiring but over one database
// instead of seven.
type Store struct {
	db  *sql.DB
	log zerolog.Logger

	Users               *UserRepository
	ExchangeConnections *ExchangeConnectionRepository
	Principles          *PrincipleRepository
	BaseStreams         *BaseStreamRepository
	UserTriggers        *UserTriggerRepository
	Trades              *TradeRepository
	Signals             *SignalRepository
	Episodes            *EpisodeRepository
	PatrolLogs          *PatrolLogRepository
	ChatMessages        *ChatMessageRepository
}

// New wires every repository against the same connection. conn must already
// have foreign_keys=1 in effect (internal/database.New sets this) so that
// cascade deletes on users propagate.
func New(conn *sql.DB, log zerolog.Logger) *Store {
	log = log.With().Str("component", "store").Logger()
	return &Store{
		db:                  conn,
		log:                 log,
		Users:               &UserRepository{db: conn},
		ExchangeConnections: &ExchangeConnectionRepository{db: conn},
		Principles:          &PrincipleRepository{db: conn},
		BaseStreams:         &BaseStreamRepository{db: conn},
		UserTriggers:        &UserTriggerRepository{db: conn},
		Trades:              &TradeRepository{db: conn},
		Signals:             &SignalRepository{db: conn},
		Episodes:            &EpisodeRepository{db: conn, log: log.With().Str("repo", "episodes").Logger()},
		PatrolLogs:          &PatrolLogRepository{db: conn},
		ChatMessages:        &ChatMessageRepository{db: conn},
	}
}

// DeleteUser cascades to every child table via ON DELETE CASCADE. The call
// itself is a single statement; sqlite enforces the cascade.
func (s *Store) DeleteUser(userID int64) error {
	if _, err := s.db.Exec(`DELETE FROM users WHERE id = ?`, userID); err != nil {
		return fmt.Errorf("delete user %d: %w", userID, err)
	}
	return nil
}

func marshalJSON(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}
	return string(b), nil
}

func unmarshalJSON[T any](raw sql.NullString, out *T) error {
	if !raw.Valid || raw.String == "" {
		return nil
	}
	return json.Unmarshal([]byte(raw.String), out)
}

const timeLayout = "2006-01-02T15:04:05.999999999Z07:00"
