package model

// Role identifies who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is one of the two allowed roles.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// Message is one entry in a thread's message log.
//
// Index is assigned by the store: 0 for the first message of a thread and
// one more than the previous maximum afterwards. Messages are never
// mutated once written.
type Message struct {
	ThreadID string `json:"threadId,omitempty"`
	Index    int    `json:"idx"`
	Role     Role   `json:"role"`
	Content  string `json:"content"`
	MediaB64 string `json:"mediaB64,omitempty"` // base64 image payload, empty when none
}
