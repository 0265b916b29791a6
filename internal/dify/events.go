package dify

// Streaming event names emitted by the chat-messages endpoint.
const (
	eventMessage        = "message"
	eventMessageReplace = "message_replace"
	eventMessageEnd     = "message_end"
	eventMessageFile    = "message_file"
	eventAgentMessage   = "agent_message"
	eventAgentThought   = "agent_thought"
	eventError          = "error"
	eventPing           = "ping"
)

// streamEvent is one SSE data frame. Fields are a union across event types;
// only those relevant to the named event are populated.
type streamEvent struct {
	Event          string `json:"event"`
	Answer         string `json:"answer,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
	MessageID      string `json:"message_id,omitempty"`
	TaskID         string `json:"task_id,omitempty"`

	// message_file
	ID        string `json:"id,omitempty"`
	URL       string `json:"url,omitempty"`
	Type      string `json:"type,omitempty"`
	BelongsTo string `json:"belongs_to,omitempty"`

	// agent_thought
	Thought     string `json:"thought,omitempty"`
	Observation string `json:"observation,omitempty"`
	Tool        string `json:"tool,omitempty"`
	ToolInput   string `json:"tool_input,omitempty"`
	Position    int    `json:"position,omitempty"`

	// error
	Status  int    `json:"status,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// FileEvent is a file produced by the agent during a chat exchange.
type FileEvent struct {
	ID   string
	URL  string
	Type string
}

// Thought is one reasoning step surfaced by an agent-mode application.
type Thought struct {
	Position    int
	Thought     string
	Tool        string
	ToolInput   string
	Observation string
}
