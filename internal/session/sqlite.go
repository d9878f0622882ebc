package session

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/h1v3-io/skycast/pkg/protocol"
)

// DefaultDSN keeps sessions in memory; nothing survives a restart.
const DefaultDSN = ":memory:"

// SQLiteStore implements Store using SQLite. Each conversation is stored as
// a JSON document keyed by chat id.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database and runs migrations.
// An empty dsn selects DefaultDSN.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	if dsn == "" {
		dsn = DefaultDSN
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("session store: open: %w", err)
	}
	// Every connection to ":memory:" is a separate database.
	db.SetMaxOpenConns(1)

	if dsn != DefaultDSN {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("session store: wal: %w", err)
		}
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS sessions (
			chat_id      TEXT PRIMARY KEY,
			conversation TEXT NOT NULL,
			turns        INTEGER NOT NULL DEFAULT 0,
			updated_at   INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_sessions_updated ON sessions(updated_at);
	`)
	if err != nil {
		return fmt.Errorf("session store: migrate: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Load(chatID string) (*protocol.Conversation, error) {
	var raw string
	err := s.db.QueryRow(`SELECT conversation FROM sessions WHERE chat_id = ?`, chatID).Scan(&raw)
	if err == sql.ErrNoRows {
		return &protocol.Conversation{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("session store: load: %w", err)
	}

	var conv protocol.Conversation
	if err := json.Unmarshal([]byte(raw), &conv); err != nil {
		return nil, fmt.Errorf("session store: decode %q: %w", chatID, err)
	}
	return &conv, nil
}

func (s *SQLiteStore) Save(chatID string, conv *protocol.Conversation) error {
	data, err := json.Marshal(conv)
	if err != nil {
		return fmt.Errorf("session store: encode: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO sessions (chat_id, conversation, turns, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(chat_id) DO UPDATE SET
			conversation=excluded.conversation, turns=excluded.turns, updated_at=excluded.updated_at
	`, chatID, string(data), len(conv.API), time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("session store: save: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Delete(chatID string) error {
	if _, err := s.db.Exec(`DELETE FROM sessions WHERE chat_id = ?`, chatID); err != nil {
		return fmt.Errorf("session store: delete: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Sweep(cutoff time.Time) (int, error) {
	res, err := s.db.Exec(`DELETE FROM sessions WHERE updated_at < ?`, cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("session store: sweep: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// Count returns the number of stored sessions.
func (s *SQLiteStore) Count() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM sessions`).Scan(&n); err != nil {
		return 0, fmt.Errorf("session store: count: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
