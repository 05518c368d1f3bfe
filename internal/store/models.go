package store

import (
	"encoding/json"
	"time"
)

type User struct {
	ID                 string    `json:"id"`
	Email              string    `json:"email"`
	GoogleAccessToken  string    `json:"-"` // Never expose tokens in JSON responses
	GoogleRefreshToken string    `json:"-"`
	TokenExpiry        time.Time `json:"-"`
	GrantedScopes      string    `json:"-"` // Space-separated OAuth scopes
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

type Conversation struct {
	ID        string    `json:"id"` // UUID
	UserID    string    `json:"-"`
	Name      *string   `json:"name"` // Nullable until the first user turn
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Message struct {
	ID             string          `json:"id"` // UUID
	ConversationID string          `json:"conversation_id"`
	Role           string          `json:"role"` // "user" or "assistant"
	Content        string          `json:"content"`
	Actions        []string        `json:"actions,omitempty"`
	Intent         json.RawMessage `json:"intent,omitempty"` // Resolved intent snapshot
	Seq            int64           `json:"-"`                // Per-conversation append ordinal
	CreatedAt      time.Time       `json:"created_at"`
}

// MemoryItem is one indexed workspace item (email, event, file) with its
// embedding, used for auxiliary semantic lookups.
type MemoryItem struct {
	ID        int64     `json:"id"`
	UserID    string    `json:"-"`
	Kind      string    `json:"kind"`
	RefID     string    `json:"ref_id"`
	Content   string    `json:"content"`
	Embedding []float32 `json:"-"`
}
