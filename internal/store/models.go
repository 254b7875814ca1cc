package store

import "time"

// Message roles persisted in the messages table.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// User represents a person talking to the assistant
type User struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Preferences is a user's flexible preference record (interests, goals,
// routines, timezone). At most one record exists per user once acquired
// through the reconciler.
type Preferences struct {
	ID        int64          `json:"id"`
	UserID    int64          `json:"user_id"`
	Data      map[string]any `json:"data"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Timezone returns the user's recorded IANA timezone, or "" when unset.
func (p *Preferences) Timezone() string {
	if p == nil || p.Data == nil {
		return ""
	}
	tz, _ := p.Data["timezone"].(string)
	return tz
}

// Conversation represents one chat session belonging to a user
type Conversation struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Message represents a single immutable message in a conversation
type Message struct {
	ID             int64     `json:"id"`
	ConversationID int64     `json:"conversation_id"`
	Role           string    `json:"role"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
}
