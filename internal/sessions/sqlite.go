package sessions

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/nexus-skills/orchestrator/pkg/models"
)

// SQLiteStore implements Store against an embedded SQLite database via the
// pure-Go modernc.org/sqlite driver. It is the single-process counterpart
// to CockroachStore: same schema and query shape, no external database
// server, self-migrating on open. Suited to local development and
// single-instance deployments; CockroachStore remains the choice for
// anything that needs more than one orchestratord process sharing state.
type SQLiteStore struct {
	db *sql.DB

	stmtCreateSession     *sql.Stmt
	stmtGetSession        *sql.Stmt
	stmtUpdateSession     *sql.Stmt
	stmtDeleteSession     *sql.Stmt
	stmtListSessions      *sql.Stmt
	stmtAppendMessage     *sql.Stmt
	stmtGetHistory        *sql.Stmt
	stmtUpsertMemoryEntry *sql.Stmt
	stmtListEntries       *sql.Stmt
	stmtDeleteMemoryEntry *sql.Stmt
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL DEFAULT '',
	model TEXT NOT NULL DEFAULT '',
	system_prompt_override TEXT NOT NULL DEFAULT '',
	temperature REAL NOT NULL DEFAULT 0,
	active INTEGER NOT NULL DEFAULT 1,
	archived INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL REFERENCES sessions (id) ON DELETE CASCADE,
	seq INTEGER NOT NULL,
	role TEXT NOT NULL,
	content TEXT NOT NULL,
	event_type TEXT NOT NULL DEFAULT '',
	skill_name TEXT NOT NULL DEFAULT '',
	extra TEXT,
	created_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_session_seq ON messages (session_id, seq);

CREATE TABLE IF NOT EXISTS memory_entries (
	session_id TEXT NOT NULL REFERENCES sessions (id) ON DELETE CASCADE,
	category TEXT NOT NULL DEFAULT '',
	key TEXT NOT NULL,
	value TEXT NOT NULL DEFAULT '',
	expires_at DATETIME,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL,
	PRIMARY KEY (session_id, key)
);
`

// NewSQLiteStore opens (creating if absent) a SQLite database at path and
// runs its schema. Use ":memory:" for an ephemeral store.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite allows only one writer at a time; a single connection avoids
	// SQLITE_BUSY errors under concurrent writers instead of papering over
	// them with a busy-timeout retry loop. It also means PRAGMA foreign_keys
	// (per-connection, off by default) only needs setting once.
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.prepareStatements(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) prepareStatements() error {
	var err error

	s.stmtCreateSession, err = s.db.Prepare(`
		INSERT INTO sessions (id, title, model, system_prompt_override, temperature, active, archived, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare create session: %w", err)
	}

	s.stmtGetSession, err = s.db.Prepare(`
		SELECT id, title, model, system_prompt_override, temperature, active, archived, created_at, updated_at
		FROM sessions WHERE id = ?
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare get session: %w", err)
	}

	s.stmtUpdateSession, err = s.db.Prepare(`
		UPDATE sessions SET title = ?, model = ?, system_prompt_override = ?, temperature = ?, active = ?, archived = ?, updated_at = ?
		WHERE id = ?
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare update session: %w", err)
	}

	s.stmtDeleteSession, err = s.db.Prepare(`DELETE FROM sessions WHERE id = ?`)
	if err != nil {
		return fmt.Errorf("failed to prepare delete session: %w", err)
	}

	s.stmtListSessions, err = s.db.Prepare(`
		SELECT id, title, model, system_prompt_override, temperature, active, archived, created_at, updated_at
		FROM sessions ORDER BY updated_at DESC LIMIT ? OFFSET ?
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare list sessions: %w", err)
	}

	s.stmtAppendMessage, err = s.db.Prepare(`
		INSERT INTO messages (id, session_id, seq, role, content, event_type, skill_name, extra, created_at)
		VALUES (?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM messages WHERE session_id = ?), ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare append message: %w", err)
	}

	s.stmtGetHistory, err = s.db.Prepare(`
		SELECT id, session_id, seq, role, content, event_type, skill_name, extra, created_at
		FROM messages WHERE session_id = ? ORDER BY seq DESC LIMIT ?
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare get history: %w", err)
	}

	s.stmtUpsertMemoryEntry, err = s.db.Prepare(`
		INSERT INTO memory_entries (session_id, category, key, value, expires_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (session_id, key) DO UPDATE SET
			category = excluded.category,
			value = excluded.value,
			expires_at = excluded.expires_at,
			updated_at = excluded.updated_at
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare upsert memory entry: %w", err)
	}

	s.stmtListEntries, err = s.db.Prepare(`
		SELECT session_id, category, key, value, expires_at, created_at, updated_at
		FROM memory_entries WHERE session_id = ? ORDER BY key
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare list memory entries: %w", err)
	}

	s.stmtDeleteMemoryEntry, err = s.db.Prepare(`DELETE FROM memory_entries WHERE session_id = ? AND key = ?`)
	if err != nil {
		return fmt.Errorf("failed to prepare delete memory entry: %w", err)
	}

	return nil
}

// Close closes the prepared statements and the underlying database.
func (s *SQLiteStore) Close() error {
	var errs []error
	for _, stmt := range []*sql.Stmt{
		s.stmtCreateSession, s.stmtGetSession, s.stmtUpdateSession, s.stmtDeleteSession,
		s.stmtListSessions, s.stmtAppendMessage, s.stmtGetHistory,
		s.stmtUpsertMemoryEntry, s.stmtListEntries, s.stmtDeleteMemoryEntry,
	} {
		if stmt == nil {
			continue
		}
		if err := stmt.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := s.db.Close(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("errors closing store: %v", errs)
	}
	return nil
}

func (s *SQLiteStore) Create(ctx context.Context, session *models.Session) error {
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	now := time.Now()
	session.CreatedAt = now
	session.UpdatedAt = now

	_, err := s.stmtCreateSession.ExecContext(ctx,
		session.ID, session.Title, session.Model, session.SystemPromptOverride,
		session.Temperature, session.Active, session.Archived,
		session.CreatedAt, session.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*models.Session, error) {
	session := &models.Session{}
	err := s.stmtGetSession.QueryRowContext(ctx, id).Scan(
		&session.ID, &session.Title, &session.Model, &session.SystemPromptOverride,
		&session.Temperature, &session.Active, &session.Archived,
		&session.CreatedAt, &session.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("session not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	count, err := s.messageCount(ctx, id)
	if err != nil {
		return nil, err
	}
	session.MessageCount = count
	return session, nil
}

func (s *SQLiteStore) messageCount(ctx context.Context, sessionID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM messages WHERE session_id = ?", sessionID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count messages: %w", err)
	}
	return count, nil
}

func (s *SQLiteStore) Update(ctx context.Context, session *models.Session) error {
	session.UpdatedAt = time.Now()

	result, err := s.stmtUpdateSession.ExecContext(ctx,
		session.Title, session.Model, session.SystemPromptOverride, session.Temperature,
		session.Active, session.Archived, session.UpdatedAt, session.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("session not found: %s", session.ID)
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	result, err := s.stmtDeleteSession.ExecContext(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("session not found: %s", id)
	}
	return nil
}

func (s *SQLiteStore) List(ctx context.Context, opts ListOptions) ([]*models.Session, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.stmtListSessions.QueryContext(ctx, limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var out []*models.Session
	for rows.Next() {
		session := &models.Session{}
		if err := rows.Scan(
			&session.ID, &session.Title, &session.Model, &session.SystemPromptOverride,
			&session.Temperature, &session.Active, &session.Archived,
			&session.CreatedAt, &session.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		out = append(out, session)
	}
	return out, rows.Err()
}

// AppendMessage adds a message to a session's history, assigning it the
// next sequence number, and bumps the session's updated_at within the same
// transaction.
func (s *SQLiteStore) AppendMessage(ctx context.Context, sessionID string, msg *models.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}

	var extraJSON []byte
	var err error
	if msg.Extra != nil {
		extraJSON, err = json.Marshal(msg.Extra)
		if err != nil {
			return fmt.Errorf("failed to marshal extra: %w", err)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback() //nolint:errcheck // rollback after commit returns ErrTxDone
	}()

	if _, err := tx.StmtContext(ctx, s.stmtAppendMessage).ExecContext(ctx,
		msg.ID, sessionID, sessionID, msg.Role, msg.Content, msg.EventType, msg.SkillName, extraJSON, msg.CreatedAt,
	); err != nil {
		return fmt.Errorf("failed to append message: %w", err)
	}
	if err := tx.QueryRowContext(ctx, "SELECT seq FROM messages WHERE id = ?", msg.ID).Scan(&msg.Seq); err != nil {
		return fmt.Errorf("failed to read assigned seq: %w", err)
	}

	if _, err := tx.ExecContext(ctx, "UPDATE sessions SET updated_at = ? WHERE id = ?", time.Now(), sessionID); err != nil {
		return fmt.Errorf("failed to update session timestamp: %w", err)
	}

	return tx.Commit()
}

func (s *SQLiteStore) GetHistory(ctx context.Context, sessionID string, limit int) ([]*models.Message, error) {
	if limit <= 0 {
		limit = -1 // SQLite treats a negative LIMIT as no limit
	}

	rows, err := s.stmtGetHistory.QueryContext(ctx, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get history: %w", err)
	}
	defer rows.Close()

	var messages []*models.Message
	for rows.Next() {
		msg := &models.Message{}
		var extraJSON []byte
		if err := rows.Scan(
			&msg.ID, &msg.SessionID, &msg.Seq, &msg.Role, &msg.Content,
			&msg.EventType, &msg.SkillName, &extraJSON, &msg.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		if len(extraJSON) > 0 && string(extraJSON) != "null" {
			var extra models.ToolResultData
			if err := json.Unmarshal(extraJSON, &extra); err != nil {
				return nil, fmt.Errorf("failed to unmarshal extra: %w", err)
			}
			msg.Extra = &extra
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating messages: %w", err)
	}

	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// DeleteMessage removes a message and, if includeFollowing is set, every
// later message in the same session (by seq), atomically.
func (s *SQLiteStore) DeleteMessage(ctx context.Context, sessionID, messageID string, includeFollowing bool) error {
	var seq int64
	err := s.db.QueryRowContext(ctx, "SELECT seq FROM messages WHERE id = ? AND session_id = ?", messageID, sessionID).Scan(&seq)
	if err == sql.ErrNoRows {
		return fmt.Errorf("message not found: %s", messageID)
	}
	if err != nil {
		return fmt.Errorf("failed to locate message: %w", err)
	}

	if includeFollowing {
		_, err = s.db.ExecContext(ctx, "DELETE FROM messages WHERE session_id = ? AND seq >= ?", sessionID, seq)
	} else {
		_, err = s.db.ExecContext(ctx, "DELETE FROM messages WHERE session_id = ? AND seq = ?", sessionID, seq)
	}
	if err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ClearMessages(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM messages WHERE session_id = ?", sessionID)
	if err != nil {
		return fmt.Errorf("failed to clear messages: %w", err)
	}
	return nil
}

func (s *SQLiteStore) UpsertMemoryEntry(ctx context.Context, entry *models.MemoryEntry) error {
	now := time.Now()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now
	}
	entry.UpdatedAt = now

	var expiresAt any
	if !entry.ExpiresAt.IsZero() {
		expiresAt = entry.ExpiresAt
	}

	_, err := s.stmtUpsertMemoryEntry.ExecContext(ctx,
		entry.SessionID, entry.Category, entry.Key, entry.Value, expiresAt, entry.CreatedAt, entry.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert memory entry: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListEntries(ctx context.Context, sessionID string) ([]*models.MemoryEntry, error) {
	rows, err := s.stmtListEntries.QueryContext(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list memory entries: %w", err)
	}
	defer rows.Close()

	var entries []*models.MemoryEntry
	for rows.Next() {
		e := &models.MemoryEntry{}
		var expiresAt sql.NullTime
		if err := rows.Scan(&e.SessionID, &e.Category, &e.Key, &e.Value, &expiresAt, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan memory entry: %w", err)
		}
		if expiresAt.Valid {
			e.ExpiresAt = expiresAt.Time
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *SQLiteStore) DeleteMemoryEntry(ctx context.Context, sessionID, key string) error {
	result, err := s.stmtDeleteMemoryEntry.ExecContext(ctx, sessionID, key)
	if err != nil {
		return fmt.Errorf("failed to delete memory entry: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("memory entry not found: %s", key)
	}
	return nil
}
