// Package chat holds the conversation data model shared by the SDK client,
// the conversation controller, and the sidebar: conversations, messages,
// attachments, and the in-memory cache that reconciles paginated history
// with optimistic local edits.
package chat

import (
	"github.com/google/uuid"
)

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Attachment is a file attached to a message. Preview is a displayable URI
// when one is known. Attachments belong to exactly one message.
type Attachment struct {
	Preview string
	Name    string
	MIME    string
	Size    int64

	// Data holds the raw bytes for a locally picked file until it has been
	// uploaded. History-loaded attachments carry only a Preview URI.
	Data []byte
}

// Message is a single chat message. At most one message per conversation has
// IsTyping set: the in-flight assistant reply placeholder, created with an
// empty Text that the reveal fills in exactly once.
type Message struct {
	ID       string
	Role     Role
	Text     string
	Files    []Attachment
	IsTyping bool
}

// Conversation is an ordered, oldest-first list of messages under a server-
// or locally-assigned id.
type Conversation struct {
	ID       string
	Title    string
	Messages []Message
}

// NewLocalID mints a conversation id for a chat that has not been persisted
// yet. The server replaces it with a real id on create.
func NewLocalID() string {
	return "local-" + uuid.NewString()
}

// IsPersistedID reports whether id looks like a server-assigned conversation
// id (24 hex characters). History fetches are skipped for anything else,
// including freshly minted local ids.
func IsPersistedID(id string) bool {
	if len(id) != 24 {
		return false
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
