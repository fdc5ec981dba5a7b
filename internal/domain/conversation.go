package domain

import (
	"context"
	"time"
)

// Role identifies who authored a conversation message.
type Role string

const (
	RoleUser Role = "user"
	RoleBot  Role = "bot"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleBot
}

// ConversationTTL is the sliding retention window applied on every write.
const ConversationTTL = 24 * time.Hour

type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Conversation is the persisted record shape shared by every store driver.
type Conversation struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	Messages  []Message `json:"messages"`
}

// ConversationStore keeps ordered message logs keyed by conversation ID.
// Records expire ConversationTTL after their last write; expiry is the only destructor.
type ConversationStore interface {
	// Create (re)initializes an empty log for id, discarding prior messages.
	Create(ctx context.Context, id string) error

	// Append adds a message, creating the log first when absent or expired,
	// and resets the record's TTL. Appends to the same id are serialized.
	Append(ctx context.Context, id string, role Role, content string) error

	// Get returns the full log or ErrNotFound.
	Get(ctx context.Context, id string) (*Conversation, error)

	// Delete removes the record immediately. Deleting an absent id is not an error.
	Delete(ctx context.Context, id string) error

	Close() error
}
