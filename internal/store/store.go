// Package store defines the snapshot persistence contract shared by the
// preference store and the session manager's conversation-id map.
package store

// Conversation is the persisted continuity state for one conversation key.
type Conversation struct {
	// ID is the opaque conversation id issued by the external agent
	// service. Empty means no active conversation.
	ID string `json:"id"`
	// AgentID is the last agent used under this key.
	AgentID string `json:"agent_id,omitempty"`
}

// Backend persists preference snapshots and conversation ids across process
// restarts. Implementations must be safe for concurrent use.
type Backend interface {
	// SavePreferences stores the opaque preference snapshot blob.
	SavePreferences(blob []byte) error
	// LoadPreferences returns the stored blob, or (nil, nil) when absent.
	LoadPreferences() ([]byte, error)

	// Conversation returns the stored state for a conversation key.
	// A key never written returns the zero Conversation.
	Conversation(key string) (Conversation, error)
	SetConversation(key string, c Conversation) error
	ClearConversation(key string) error

	Close() error
}
