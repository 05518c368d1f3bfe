package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// ErrNotFound is returned when an entity does not exist or is not owned by
// the requesting user. Cross-user access is indistinguishable from absence.
var ErrNotFound = errors.New("not found")

type SQLiteStore struct {
	db *sql.DB

	// Appends to one conversation are serialized so two concurrent turns can
	// never be assigned the same ordinal or drop each other's updated_at bump.
	mu        sync.Mutex
	convLocks map[string]*sync.Mutex
}

func NewSQLiteStore(dataSourceName string) (*SQLiteStore, error) {
	// Transactions take the write lock up front: a deferred transaction that
	// reads before its first write can hit SQLITE_BUSY_SNAPSHOT on upgrade
	// when another conversation's append commits in between. The busy timeout
	// makes concurrent writers queue instead of failing.
	if !strings.Contains(dataSourceName, "?") {
		dataSourceName += "?_txlock=immediate&_busy_timeout=5000"
	}
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err = db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// WAL keeps readers unblocked while a turn is committed.
	if _, err = db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err = db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	store := &SQLiteStore{db: db, convLocks: make(map[string]*sync.Mutex)}
	if err = store.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) initSchema() error {
	schema := `
    CREATE TABLE IF NOT EXISTS users (
        id TEXT PRIMARY KEY, -- UUID
        email TEXT UNIQUE NOT NULL,
        access_token TEXT,
        refresh_token TEXT,
        token_expiry DATETIME,
        granted_scopes TEXT,
        created_at DATETIME NOT NULL,
        updated_at DATETIME NOT NULL
    );

    CREATE TABLE IF NOT EXISTS conversations (
        id TEXT PRIMARY KEY, -- UUID
        user_id TEXT NOT NULL,
        name TEXT,
        created_at DATETIME NOT NULL,
        updated_at DATETIME NOT NULL,
        FOREIGN KEY (user_id) REFERENCES users (id)
    );

    CREATE TABLE IF NOT EXISTS messages (
        id TEXT PRIMARY KEY, -- UUID
        conversation_id TEXT NOT NULL,
        role TEXT NOT NULL CHECK (role IN ('user', 'assistant')),
        content TEXT NOT NULL,
        actions_json TEXT,
        intent_json TEXT,
        seq INTEGER NOT NULL,
        created_at DATETIME NOT NULL,
        FOREIGN KEY (conversation_id) REFERENCES conversations (id),
        UNIQUE (conversation_id, seq)
    );

    CREATE INDEX IF NOT EXISTS idx_conversations_user_updated
        ON conversations (user_id, updated_at DESC);

    CREATE INDEX IF NOT EXISTS idx_messages_conversation_seq
        ON messages (conversation_id, seq);

    CREATE TABLE IF NOT EXISTS memory_items (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        user_id TEXT NOT NULL,
        kind TEXT NOT NULL,
        ref_id TEXT NOT NULL,
        content TEXT NOT NULL,
        embedding_json TEXT,
        UNIQUE (user_id, kind, ref_id)
    );
    `
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) conversationLock(conversationID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.convLocks[conversationID]
	if !ok {
		lock = &sync.Mutex{}
		s.convLocks[conversationID] = lock
	}
	return lock
}

// User methods

func (s *SQLiteStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx,
		"SELECT id, email, access_token, refresh_token, token_expiry, granted_scopes, created_at, updated_at FROM users WHERE email = ?", email))
}

func (s *SQLiteStore) GetUserByID(ctx context.Context, id string) (*User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx,
		"SELECT id, email, access_token, refresh_token, token_expiry, granted_scopes, created_at, updated_at FROM users WHERE id = ?", id))
}

func (s *SQLiteStore) scanUser(row *sql.Row) (*User, error) {
	var user User
	var accessToken, refreshToken, scopes sql.NullString
	var expiry sql.NullTime
	err := row.Scan(&user.ID, &user.Email, &accessToken, &refreshToken, &expiry, &scopes, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	user.GoogleAccessToken = accessToken.String
	user.GoogleRefreshToken = refreshToken.String
	user.GrantedScopes = scopes.String
	if expiry.Valid {
		user.TokenExpiry = expiry.Time
	}
	return &user, nil
}

// UpsertUser creates the user row for an email if it does not exist yet and
// returns it. Repeated calls for the same email return the same user.
func (s *SQLiteStore) UpsertUser(ctx context.Context, email string) (*User, error) {
	user, err := s.GetUserByEmail(ctx, email)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	now := time.Now().UTC()
	id := uuid.NewString()
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO users (id, email, created_at, updated_at) VALUES (?, ?, ?, ?) ON CONFLICT(email) DO NOTHING",
		id, email, now, now)
	if err != nil {
		return nil, fmt.Errorf("failed to insert user: %w", err)
	}
	return s.GetUserByEmail(ctx, email)
}

// SaveGoogleTokens persists the user's OAuth tokens and granted scopes.
// Passing empty tokens clears the grant (logout).
func (s *SQLiteStore) SaveGoogleTokens(ctx context.Context, userID, accessToken, refreshToken string, expiry time.Time, scopes string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE users SET access_token = ?, refresh_token = ?, token_expiry = ?, granted_scopes = ?, updated_at = ? WHERE id = ?",
		accessToken, refreshToken, expiry, scopes, time.Now().UTC(), userID)
	if err != nil {
		return fmt.Errorf("failed to save tokens: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// Conversation methods

func (s *SQLiteStore) CreateConversation(ctx context.Context, userID string) (*Conversation, error) {
	conv := &Conversation{
		ID:        uuid.NewString(),
		UserID:    userID,
		CreatedAt: time.Now().UTC(),
	}
	conv.UpdatedAt = conv.CreatedAt

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO conversations (id, user_id, name, created_at, updated_at) VALUES (?, ?, NULL, ?, ?)",
		conv.ID, conv.UserID, conv.CreatedAt, conv.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert conversation: %w", err)
	}
	return conv, nil
}

func (s *SQLiteStore) GetConversation(ctx context.Context, conversationID, userID string) (*Conversation, error) {
	var conv Conversation
	var name sql.NullString
	err := s.db.QueryRowContext(ctx,
		"SELECT id, user_id, name, created_at, updated_at FROM conversations WHERE id = ? AND user_id = ?",
		conversationID, userID).Scan(&conv.ID, &conv.UserID, &name, &conv.CreatedAt, &conv.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	if name.Valid {
		conv.Name = &name.String
	}
	return &conv, nil
}

func (s *SQLiteStore) ListConversations(ctx context.Context, userID string) ([]Conversation, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, user_id, name, created_at, updated_at FROM conversations WHERE user_id = ? ORDER BY updated_at DESC",
		userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query conversations: %w", err)
	}
	defer rows.Close()

	var convs []Conversation
	for rows.Next() {
		var conv Conversation
		var name sql.NullString
		if err := rows.Scan(&conv.ID, &conv.UserID, &name, &conv.CreatedAt, &conv.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan conversation row: %w", err)
		}
		if name.Valid {
			conv.Name = &name.String
		}
		convs = append(convs, conv)
	}
	return convs, rows.Err()
}

// AppendTurn atomically appends the given messages to a conversation and
// bumps its updated_at timestamp. If the conversation has no name yet, it is
// derived from the first user message of this turn. Assigns message ids,
// ordinals and timestamps.
func (s *SQLiteStore) AppendTurn(ctx context.Context, conversationID, userID string, messages ...*Message) error {
	if len(messages) == 0 {
		return nil
	}

	lock := s.conversationLock(conversationID)
	lock.Lock()
	defer lock.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var name sql.NullString
	err = tx.QueryRowContext(ctx,
		"SELECT name FROM conversations WHERE id = ? AND user_id = ?", conversationID, userID).Scan(&name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to verify conversation: %w", err)
	}

	var nextSeq int64
	err = tx.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(seq), 0) + 1 FROM messages WHERE conversation_id = ?", conversationID).Scan(&nextSeq)
	if err != nil {
		return fmt.Errorf("failed to compute next ordinal: %w", err)
	}

	now := time.Now().UTC()
	for i, msg := range messages {
		msg.ID = uuid.NewString()
		msg.ConversationID = conversationID
		msg.Seq = nextSeq + int64(i)
		// Nudge timestamps so creation order survives second-resolution scans.
		msg.CreatedAt = now.Add(time.Duration(i) * time.Microsecond)

		var actionsJSON, intentJSON any
		if msg.Actions != nil {
			raw, err := json.Marshal(msg.Actions)
			if err != nil {
				return fmt.Errorf("failed to marshal actions: %w", err)
			}
			actionsJSON = string(raw)
		}
		if msg.Intent != nil {
			intentJSON = string(msg.Intent)
		}

		_, err = tx.ExecContext(ctx,
			"INSERT INTO messages (id, conversation_id, role, content, actions_json, intent_json, seq, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
			msg.ID, msg.ConversationID, msg.Role, msg.Content, actionsJSON, intentJSON, msg.Seq, msg.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert message: %w", err)
		}
	}

	if !name.Valid || name.String == "" {
		if derived := deriveName(messages); derived != "" {
			if _, err = tx.ExecContext(ctx,
				"UPDATE conversations SET name = ?, updated_at = ? WHERE id = ?", derived, now, conversationID); err != nil {
				return fmt.Errorf("failed to set conversation name: %w", err)
			}
		}
	}
	if _, err = tx.ExecContext(ctx,
		"UPDATE conversations SET updated_at = ? WHERE id = ?", now, conversationID); err != nil {
		return fmt.Errorf("failed to bump conversation timestamp: %w", err)
	}

	return tx.Commit()
}

// deriveName takes the first user message of a turn, truncated for display.
func deriveName(messages []*Message) string {
	for _, msg := range messages {
		if msg.Role != RoleUser || msg.Content == "" {
			continue
		}
		name := msg.Content
		// Truncate on a rune boundary so a multi-byte character is never split.
		if runes := []rune(name); len(runes) > 50 {
			name = string(runes[:50])
		}
		return name
	}
	return ""
}

func (s *SQLiteStore) ListMessages(ctx context.Context, conversationID, userID string) ([]Message, error) {
	if _, err := s.GetConversation(ctx, conversationID, userID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, conversation_id, role, content, actions_json, intent_json, seq, created_at FROM messages WHERE conversation_id = ? ORDER BY seq ASC",
		conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var msg Message
		var actionsJSON, intentJSON sql.NullString
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.Role, &msg.Content, &actionsJSON, &intentJSON, &msg.Seq, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		if actionsJSON.Valid && actionsJSON.String != "" {
			if err := json.Unmarshal([]byte(actionsJSON.String), &msg.Actions); err != nil {
				log.Printf("Warning: failed to unmarshal actions for message %s: %v", msg.ID, err)
			}
		}
		if intentJSON.Valid && intentJSON.String != "" {
			msg.Intent = json.RawMessage(intentJSON.String)
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// LastMessages returns up to n most recent messages in creation order, for
// classification context.
func (s *SQLiteStore) LastMessages(ctx context.Context, conversationID, userID string, n int) ([]Message, error) {
	messages, err := s.ListMessages(ctx, conversationID, userID)
	if err != nil {
		return nil, err
	}
	if len(messages) > n {
		messages = messages[len(messages)-n:]
	}
	return messages, nil
}

// DeleteConversation removes a conversation and all of its messages in a
// single transaction.
func (s *SQLiteStore) DeleteConversation(ctx context.Context, conversationID, userID string) error {
	lock := s.conversationLock(conversationID)
	lock.Lock()
	defer lock.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		"DELETE FROM conversations WHERE id = ? AND user_id = ?", conversationID, userID)
	if err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}

	if _, err = tx.ExecContext(ctx,
		"DELETE FROM messages WHERE conversation_id = ?", conversationID); err != nil {
		return fmt.Errorf("failed to delete messages: %w", err)
	}

	return tx.Commit()
}

// Memory item methods (auxiliary semantic lookups)

func (s *SQLiteStore) UpsertMemoryItem(ctx context.Context, item *MemoryItem) error {
	embeddingJSON, err := json.Marshal(item.Embedding)
	if err != nil {
		return fmt.Errorf("failed to marshal embedding: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
        INSERT INTO memory_items (user_id, kind, ref_id, content, embedding_json)
        VALUES (?, ?, ?, ?, ?)
        ON CONFLICT (user_id, kind, ref_id)
        DO UPDATE SET content = excluded.content, embedding_json = excluded.embedding_json`,
		item.UserID, item.Kind, item.RefID, item.Content, string(embeddingJSON))
	if err != nil {
		return fmt.Errorf("failed to upsert memory item: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListMemoryItems(ctx context.Context, userID string) ([]MemoryItem, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, user_id, kind, ref_id, content, embedding_json FROM memory_items WHERE user_id = ?", userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query memory items: %w", err)
	}
	defer rows.Close()

	var items []MemoryItem
	for rows.Next() {
		var item MemoryItem
		var embeddingJSON sql.NullString
		if err := rows.Scan(&item.ID, &item.UserID, &item.Kind, &item.RefID, &item.Content, &embeddingJSON); err != nil {
			return nil, fmt.Errorf("failed to scan memory item row: %w", err)
		}
		if embeddingJSON.Valid && embeddingJSON.String != "" {
			if err := json.Unmarshal([]byte(embeddingJSON.String), &item.Embedding); err != nil {
				log.Printf("Warning: failed to unmarshal embedding for memory item %d: %v", item.ID, err)
				item.Embedding = nil
			}
		}
		items = append(items, item)
	}
	return items, rows.Err()
}
