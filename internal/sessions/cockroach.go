package sessions

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/nexus-skills/orchestrator/pkg/models"
)

// CockroachStore implements the Store interface using CockroachDB.
type CockroachStore struct {
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

// DB exposes the underlying database connection for related stores.
func (s *CockroachStore) DB() *sql.DB {
	return s.db
}

// CockroachConfig holds configuration for CockroachDB connection.
type CockroachConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	ConnectTimeout  time.Duration
}

// DefaultCockroachConfig returns default configuration.
func DefaultCockroachConfig() *CockroachConfig {
	return &CockroachConfig{
		Host:            "localhost",
		Port:            26257,
		User:            "root",
		Password:        "",
		Database:        "orchestrator",
		SSLMode:         "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnMaxIdleTime: 2 * time.Minute,
		ConnectTimeout:  10 * time.Second,
	}
}

// NewCockroachStore creates a new CockroachDB store.
func NewCockroachStore(config *CockroachConfig) (*CockroachStore, error) {
	if config == nil {
		config = DefaultCockroachConfig()
	}

	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s connect_timeout=%d",
		config.Host, config.Port, config.User, config.Password,
		config.Database, config.SSLMode, int(config.ConnectTimeout.Seconds()),
	)

	return newCockroachStoreWithDSN(dsn, config)
}

// NewCockroachStoreFromDSN creates a new CockroachDB store using a raw DSN/URL.
func NewCockroachStoreFromDSN(dsn string, config *CockroachConfig) (*CockroachStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("dsn is required")
	}
	if config == nil {
		config = DefaultCockroachConfig()
	}

	return newCockroachStoreWithDSN(dsn, config)
}

func newCockroachStoreWithDSN(dsn string, config *CockroachConfig) (*CockroachStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), config.ConnectTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &CockroachStore{db: db}

	if err := store.prepareStatements(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}

	return store, nil
}

// prepareStatements prepares all SQL statements for reuse. The schema
// expected:
//
//	sessions(id, title, model, system_prompt_override, temperature,
//	         active, archived, created_at, updated_at)
//	messages(id, session_id, seq, role, content, event_type, skill_name,
//	         extra, created_at)
//	memory_entries(session_id, category, key, value, expires_at,
//	               created_at, updated_at, PRIMARY KEY (session_id, key))
func (s *CockroachStore) prepareStatements() error {
	var err error

	s.stmtCreateSession, err = s.db.Prepare(`
		INSERT INTO sessions (id, title, model, system_prompt_override, temperature, active, archived, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare create session: %w", err)
	}

	s.stmtGetSession, err = s.db.Prepare(`
		SELECT id, title, model, system_prompt_override, temperature, active, archived, created_at, updated_at
		FROM sessions WHERE id = $1
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare get session: %w", err)
	}

	s.stmtUpdateSession, err = s.db.Prepare(`
		UPDATE sessions SET title = $1, model = $2, system_prompt_override = $3, temperature = $4, active = $5, archived = $6, updated_at = $7
		WHERE id = $8
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare update session: %w", err)
	}

	s.stmtDeleteSession, err = s.db.Prepare(`
		DELETE FROM sessions WHERE id = $1
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare delete session: %w", err)
	}

	s.stmtListSessions, err = s.db.Prepare(`
		SELECT id, title, model, system_prompt_override, temperature, active, archived, created_at, updated_at
		FROM sessions
		ORDER BY updated_at DESC
		LIMIT $1 OFFSET $2
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare list sessions: %w", err)
	}

	s.stmtAppendMessage, err = s.db.Prepare(`
		INSERT INTO messages (id, session_id, seq, role, content, event_type, skill_name, extra, created_at)
		VALUES ($1, $2, (SELECT COALESCE(MAX(seq), 0) + 1 FROM messages WHERE session_id = $2), $3, $4, $5, $6, $7, $8)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare append message: %w", err)
	}

	s.stmtGetHistory, err = s.db.Prepare(`
		SELECT id, session_id, seq, role, content, event_type, skill_name, extra, created_at
		FROM messages WHERE session_id = $1
		ORDER BY seq DESC
		LIMIT $2
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare get history: %w", err)
	}

	s.stmtUpsertMemoryEntry, err = s.db.Prepare(`
		INSERT INTO memory_entries (session_id, category, key, value, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (session_id, key) DO UPDATE SET
			category = EXCLUDED.category,
			value = EXCLUDED.value,
			expires_at = EXCLUDED.expires_at,
			updated_at = EXCLUDED.updated_at
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare upsert memory entry: %w", err)
	}

	s.stmtListEntries, err = s.db.Prepare(`
		SELECT session_id, category, key, value, expires_at, created_at, updated_at
		FROM memory_entries WHERE session_id = $1
		ORDER BY key
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare list memory entries: %w", err)
	}

	s.stmtDeleteMemoryEntry, err = s.db.Prepare(`
		DELETE FROM memory_entries WHERE session_id = $1 AND key = $2
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare delete memory entry: %w", err)
	}

	return nil
}

// Close closes the database connection and prepared statements.
func (s *CockroachStore) Close() error {
	var errs []error

	stmts := []*sql.Stmt{
		s.stmtCreateSession, s.stmtGetSession, s.stmtUpdateSession, s.stmtDeleteSession,
		s.stmtListSessions, s.stmtAppendMessage, s.stmtGetHistory,
		s.stmtUpsertMemoryEntry, s.stmtListEntries, s.stmtDeleteMemoryEntry,
	}
	for _, stmt := range stmts {
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

func (s *CockroachStore) Create(ctx context.Context, session *models.Session) error {
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

func (s *CockroachStore) Get(ctx context.Context, id string) (*models.Session, error) {
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

func (s *CockroachStore) messageCount(ctx context.Context, sessionID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM messages WHERE session_id = $1", sessionID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count messages: %w", err)
	}
	return count, nil
}

func (s *CockroachStore) Update(ctx context.Context, session *models.Session) error {
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

func (s *CockroachStore) Delete(ctx context.Context, id string) error {
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

func (s *CockroachStore) List(ctx context.Context, opts ListOptions) ([]*models.Session, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.stmtListSessions.QueryContext(ctx, limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*models.Session
	for rows.Next() {
		session := &models.Session{}
		if err := rows.Scan(
			&session.ID, &session.Title, &session.Model, &session.SystemPromptOverride,
			&session.Temperature, &session.Active, &session.Archived,
			&session.CreatedAt, &session.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sessions: %w", err)
	}
	return sessions, nil
}

// AppendMessage adds a message to a session's history, assigning it the
// next sequence number, and bumps the session's updated_at within the same
// transaction.
func (s *CockroachStore) AppendMessage(ctx context.Context, sessionID string, msg *models.Message) error {
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

	_, err = tx.StmtContext(ctx, s.stmtAppendMessage).ExecContext(ctx,
		msg.ID, sessionID, msg.Role, msg.Content, msg.EventType, msg.SkillName, extraJSON, msg.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append message: %w", err)
	}
	if err := tx.QueryRowContext(ctx, "SELECT seq FROM messages WHERE id = $1", msg.ID).Scan(&msg.Seq); err != nil {
		return fmt.Errorf("failed to read assigned seq: %w", err)
	}

	if _, err := tx.ExecContext(ctx, "UPDATE sessions SET updated_at = $1 WHERE id = $2", time.Now(), sessionID); err != nil {
		return fmt.Errorf("failed to update session timestamp: %w", err)
	}

	return tx.Commit()
}

func (s *CockroachStore) GetHistory(ctx context.Context, sessionID string, limit int) ([]*models.Message, error) {
	var sqlLimit any = limit
	if limit <= 0 {
		sqlLimit = nil // LIMIT NULL means no limit
	}

	rows, err := s.stmtGetHistory.QueryContext(ctx, sessionID, sqlLimit)
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

// DeleteMessage removes a message and, if includeFollowing is set,
// every later message in the same session (by seq), atomically.
func (s *CockroachStore) DeleteMessage(ctx context.Context, sessionID, messageID string, includeFollowing bool) error {
	var seq int64
	err := s.db.QueryRowContext(ctx, "SELECT seq FROM messages WHERE id = $1 AND session_id = $2", messageID, sessionID).Scan(&seq)
	if err == sql.ErrNoRows {
		return fmt.Errorf("message not found: %s", messageID)
	}
	if err != nil {
		return fmt.Errorf("failed to locate message: %w", err)
	}

	if includeFollowing {
		_, err = s.db.ExecContext(ctx, "DELETE FROM messages WHERE session_id = $1 AND seq >= $2", sessionID, seq)
	} else {
		_, err = s.db.ExecContext(ctx, "DELETE FROM messages WHERE session_id = $1 AND seq = $2", sessionID, seq)
	}
	if err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}
	return nil
}

func (s *CockroachStore) ClearMessages(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM messages WHERE session_id = $1", sessionID)
	if err != nil {
		return fmt.Errorf("failed to clear messages: %w", err)
	}
	return nil
}

func (s *CockroachStore) UpsertMemoryEntry(ctx context.Context, entry *models.MemoryEntry) error {
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

func (s *CockroachStore) ListEntries(ctx context.Context, sessionID string) ([]*models.MemoryEntry, error) {
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
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating memory entries: %w", err)
	}
	return entries, nil
}

func (s *CockroachStore) DeleteMemoryEntry(ctx context.Context, sessionID, key string) error {
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
