// Package store implements SQLite persistence for the coaching conversation
// engine: conversations, messages, insights, and per-user coaching profiles.
//
// Every read/update/delete that takes a user id performs the ownership check
// as part of the query itself; a conversation owned by another user is
// indistinguishable from a missing one.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"chesscoach/internal/logging"
	"chesscoach/internal/types"
)

// LocalStore is the sole writer to the relational store.
type LocalStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	dbPath string
}

// NewLocalStore initializes the SQLite database at the given path.
// Use ":memory:" for tests.
func NewLocalStore(path string) (*LocalStore, error) {
	timer := logging.StartTimer(logging.CategoryStore, "NewLocalStore")
	defer timer.Stop()

	logging.Store("Initializing LocalStore at path: %s", path)

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.StoreDebug("Failed to set sqlite busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.StoreDebug("Failed to set sqlite journal_mode=WAL: %v", err)
	}
	// PRAGMA synchronous=NORMAL is safe under WAL and much faster than FULL.
	if _, err := db.Exec("PRAGMA synchronous = NORMAL"); err != nil {
		logging.StoreDebug("Failed to set sqlite synchronous=NORMAL: %v", err)
	}
	// Cascade delete of messages and insights depends on this.
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	store := &LocalStore{db: db, dbPath: path}
	if err := store.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	logging.Store("LocalStore initialization complete")
	return store, nil
}

// initialize creates the required tables.
func (s *LocalStore) initialize() error {
	conversationsTable := `
	CREATE TABLE IF NOT EXISTS conversations (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		title TEXT NOT NULL DEFAULT 'New Conversation',
		metadata TEXT,
		coaching_metadata TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_conversations_user ON conversations(user_id);
	CREATE INDEX IF NOT EXISTS idx_conversations_updated ON conversations(updated_at);
	`

	// UNIQUE(conversation_id, seq) makes the per-conversation order total.
	messagesTable := `
	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
		role TEXT NOT NULL CHECK (role IN ('user', 'assistant')),
		content TEXT NOT NULL CHECK (length(content) > 0),
		seq INTEGER NOT NULL,
		metadata TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(conversation_id, seq)
	);
	CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id);
	CREATE INDEX IF NOT EXISTS idx_messages_role ON messages(role);
	`

	insightsTable := `
	CREATE TABLE IF NOT EXISTS conversation_insights (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
		insight_type TEXT NOT NULL,
		topic TEXT NOT NULL,
		summary TEXT NOT NULL,
		confidence_score REAL NOT NULL DEFAULT 0.5,
		keywords TEXT,
		relevance_tags TEXT,
		context_data TEXT,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		expires_at DATETIME,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_insights_user ON conversation_insights(user_id);
	CREATE INDEX IF NOT EXISTS idx_insights_conversation ON conversation_insights(conversation_id);
	CREATE INDEX IF NOT EXISTS idx_insights_type ON conversation_insights(insight_type);
	CREATE INDEX IF NOT EXISTS idx_insights_active ON conversation_insights(is_active);
	`

	profilesTable := `
	CREATE TABLE IF NOT EXISTS coaching_profiles (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL UNIQUE,
		skill_level TEXT NOT NULL DEFAULT 'beginner',
		estimated_rating INTEGER,
		learning_style TEXT NOT NULL DEFAULT 'mixed',
		progress_metrics TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_profiles_skill ON coaching_profiles(skill_level);
	`

	for _, table := range []string{
		conversationsTable,
		messagesTable,
		insightsTable,
		profilesTable,
	} {
		if _, err := s.db.Exec(table); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	return nil
}

// Close closes the database connection.
func (s *LocalStore) Close() error {
	logging.Store("Closing LocalStore database connection")
	return s.db.Close()
}

// GetStats returns row counts per table.
func (s *LocalStore) GetStats() (map[string]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := make(map[string]int64)
	tables := []string{"conversations", "messages", "conversation_insights", "coaching_profiles"}

	for _, table := range tables {
		var count int64
		err := s.db.QueryRow(fmt.Sprintf("SELECT COUNT(*) FROM %s", table)).Scan(&count)
		if err != nil {
			continue
		}
		stats[table] = count
	}

	return stats, nil
}

// marshalJSON serializes a metadata map for a TEXT column. Nil maps are
// stored as NULL.
func marshalJSON(m map[string]any) (any, error) {
	if m == nil {
		return nil, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// unmarshalJSON deserializes a TEXT column into a metadata map.
func unmarshalJSON(raw sql.NullString) map[string]any {
	if !raw.Valid || raw.String == "" {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(raw.String), &m); err != nil {
		logging.StoreDebug("Failed to decode metadata column: %v", err)
		return nil
	}
	return m
}

// marshalStrings serializes a string list for a TEXT column.
func marshalStrings(v []string) (any, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// unmarshalStrings deserializes a TEXT column into a string list.
func unmarshalStrings(raw sql.NullString) []string {
	if !raw.Valid || raw.String == "" {
		return nil
	}
	var v []string
	if err := json.Unmarshal([]byte(raw.String), &v); err != nil {
		return nil
	}
	return v
}

// notFound converts sql.ErrNoRows into the taxonomy error, passing other
// errors through as persistence failures.
func notFound(what string, err error) error {
	if err == sql.ErrNoRows {
		return types.NotFoundError(what)
	}
	return types.PersistenceError("query "+what, err)
}
