// Package protocol defines the message envelopes exchanged between the
// gateway ingress and the relay pipeline.
//
// An InboundMessage is one chat event from the outside world. The transport
// that produced it (and everything about delivery, receipts, rendering) lives
// outside this process; the envelope carries only what routing and the agent
// exchange need.
package protocol

// InboundMessage is a single inbound chat event.
type InboundMessage struct {
	// ID is the transport-level message identifier. Used only to collapse
	// duplicate delivery of the same logical event; may be empty, in which
	// case the message can never be deduplicated.
	ID string `json:"id,omitempty"`

	// Sender is the acting user's identifier.
	Sender string `json:"sender"`

	// Group is the group identifier for group chats, empty for private chats.
	Group string `json:"group,omitempty"`

	Text string `json:"text"`

	// Attachment carries a media payload seen alongside (or instead of) text.
	Attachment *Attachment `json:"attachment,omitempty"`
}

// Attachment is a raw media payload captured from an inbound message.
type Attachment struct {
	Data     []byte `json:"data"`
	Filename string `json:"filename,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
	// Kind is "image" or "file".
	Kind string `json:"kind"`
}

// ConversationKey returns the scope under which dialogue continuity is
// tracked: the group id for group chats, the sender id for private chats.
func (m *InboundMessage) ConversationKey() string {
	if m.Group != "" {
		return m.Group
	}
	return m.Sender
}

// IsGroup reports whether the message arrived in a group chat.
func (m *InboundMessage) IsGroup() bool { return m.Group != "" }

// Reply kinds for OutboundReply.
const (
	ReplyAnswer = "answer" // agent answer text
	ReplyNotice = "notice" // pipeline notice (switch confirmation, failure, reset)
)

// OutboundReply is one message the pipeline hands to the output sink.
type OutboundReply struct {
	// To is the chat the reply goes to: group id for group chats,
	// user id for private chats.
	To string `json:"to"`

	// Mentions lists user ids to @-mention in a group reply.
	Mentions []string `json:"mentions,omitempty"`

	Kind string `json:"kind"`
	Text string `json:"text"`

	// Voice asks the transport to render the text as speech.
	Voice bool `json:"voice,omitempty"`

	// Files are out-of-band files emitted by the agent during the exchange.
	Files []OutboundFile `json:"files,omitempty"`
}

// OutboundFile references a file produced by an agent.
type OutboundFile struct {
	ID   string `json:"id,omitempty"`
	URL  string `json:"url,omitempty"`
	Type string `json:"type,omitempty"` // "image", "document", ...
}
