package types

// PromptID identifies a prompt on the server.
type PromptID string

// String returns the string form of the id.
func (id PromptID) String() string { return string(id) }

// Prompt is a question addressed to one key. Response is nil until answered.
type Prompt struct {
	ID       PromptID `json:"id"`
	Message  string   `json:"message"`
	Response *string  `json:"response,omitempty"`
}

// Answered reports whether the prompt carries a response.
func (p Prompt) Answered() bool { return p.Response != nil }

// EventKind is the type tag of a push channel message.
type EventKind string

const (
	EventConnected        EventKind = "connected"
	EventNewPrompt        EventKind = "new_prompt"
	EventChallengeUpdated EventKind = "challenge_updated"
	EventPromptResponded  EventKind = "prompt_responded"
	EventHeartbeat        EventKind = "heartbeat"
)

// PushEvent is one message received on the push channel.
type PushEvent struct {
	Type    EventKind `json:"type"`
	Content string    `json:"content"`
	ID      string    `json:"id,omitempty"`
}
