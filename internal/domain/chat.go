package domain

// Role identifies the author of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is one of the roles a conversation may store.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// ChatMessage is the provider-agnostic chat message shape used by the memory,
// the prompt assembler and the LLM integrations.
type ChatMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}
