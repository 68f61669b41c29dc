// Package chat defines the message vocabulary shared by the memory,
// storage, and LLM layers.
package chat

import "fmt"

// Role is the closed set of speakers in a conversation. Code that
// branches on a Role must handle every constant explicitly; there is
// no default speaker.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ParseRole maps a stored role string to a Role. Unknown strings are
// rejected rather than silently coerced to a default.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleSystem, RoleUser, RoleAssistant:
		return Role(s), nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}

// Valid reports whether r is one of the defined roles.
func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	}
	return false
}

// Message is one entry in the sequence sent to an LLM.
type Message struct {
	Role    Role
	Content string
}

// System, User, and Assistant are shorthand constructors used when
// assembling message lists.
func System(content string) Message    { return Message{Role: RoleSystem, Content: content} }
func User(content string) Message      { return Message{Role: RoleUser, Content: content} }
func Assistant(content string) Message { return Message{Role: RoleAssistant, Content: content} }
