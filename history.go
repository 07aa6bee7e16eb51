package llmio

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
)

// Role identifies the author of a Message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one entry of a conversation. The Role decides which fields are meaningful:
// user messages carry Content; assistant messages carry optional Content and zero or more
// ToolCalls; tool messages carry the ToolCallID they answer and the result in Content,
// with IsError set when the call failed.
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	IsError    bool       `json:"is_error,omitempty"`
}

// UserMessage returns a user message.
func UserMessage(text string) Message {
	return Message{Role: RoleUser, Content: text}
}

// AssistantMessage returns an assistant message with optional tool calls.
func AssistantMessage(text string, calls ...ToolCall) Message {
	return Message{Role: RoleAssistant, Content: text, ToolCalls: calls}
}

// ToolResultMessage returns the answer to the tool call callID.
func ToolResultMessage(callID, content string) Message {
	return Message{Role: RoleTool, ToolCallID: callID, Content: content}
}

// ToolErrorMessage returns the answer to the failed tool call callID; content is the
// error text shown to the model.
func ToolErrorMessage(callID, content string) Message {
	return Message{Role: RoleTool, ToolCallID: callID, Content: content, IsError: true}
}

// Clone returns a copy of m that shares no memory with it.
func (m Message) Clone() Message {
	out := m
	if m.ToolCalls != nil {
		out.ToolCalls = make([]ToolCall, len(m.ToolCalls))
		for i, c := range m.ToolCalls {
			c.Args = bytes.Clone(c.Args)
			out.ToolCalls[i] = c
		}
	}
	return out
}

// Equal reports whether two messages are identical, comparing arguments byte-wise.
func (m Message) Equal(o Message) bool {
	if m.Role != o.Role || m.Content != o.Content || m.ToolCallID != o.ToolCallID || m.IsError != o.IsError {
		return false
	}
	return slices.EqualFunc(m.ToolCalls, o.ToolCalls, func(a, b ToolCall) bool {
		return a.ID == b.ID && a.ToolName == b.ToolName && bytes.Equal(a.Args, b.Args)
	})
}

// History is the append-only message log of one Speak call. It is not safe for
// concurrent mutation; the engine owns it exclusively while a call runs.
type History struct {
	msgs []Message
}

// NewHistory returns a History seeded with copies of seed.
func NewHistory(seed ...Message) *History {
	h := &History{msgs: make([]Message, 0, len(seed)+4)}
	for _, m := range seed {
		h.msgs = append(h.msgs, m.Clone())
	}
	return h
}

// Append adds a copy of m. Prior entries are never changed.
func (h *History) Append(m Message) {
	h.msgs = append(h.msgs, m.Clone())
}

// Len returns the number of messages.
func (h *History) Len() int { return len(h.msgs) }

// Last returns the newest message.
func (h *History) Last() (Message, bool) {
	if len(h.msgs) == 0 {
		return Message{}, false
	}
	return h.msgs[len(h.msgs)-1].Clone(), true
}

// Snapshot returns a deep copy of the log.
func (h *History) Snapshot() []Message {
	out := make([]Message, len(h.msgs))
	for i, m := range h.msgs {
		out[i] = m.Clone()
	}
	return out
}

// MarshalJSON encodes the log as a JSON array of messages.
func (h *History) MarshalJSON() ([]byte, error) {
	return json.Marshal(h.msgs)
}

// ValidateHistory checks the tool-call pairing rules: every tool message answers a call
// of the closest preceding assistant message, call IDs are distinct within an assistant
// message, each call is answered exactly once and in request order, and no user or assistant message starts before all pending calls are answered.
func ValidateHistory(msgs []Message) error {
	var pending []ToolCall
	for i, m := range msgs {
		switch m.Role {
		case RoleUser, RoleAssistant:
			if len(pending) > 0 {
				return fmt.Errorf("%w: message %d: call %q has no result", ErrInvalidHistory, i, pending[0].ID)
			}
			if m.Role == RoleUser && len(m.ToolCalls) > 0 {
				return fmt.Errorf("%w: message %d: user message with tool calls", ErrInvalidHistory, i)
			}
			if m.Role == RoleAssistant {
				seen := make(map[string]struct{}, len(m.ToolCalls))
				for _, c := range m.ToolCalls {
					if _, dup := seen[c.ID]; dup {
						return fmt.Errorf("%w: message %d: duplicate call id %q", ErrInvalidHistory, i, c.ID)
					}
					seen[c.ID] = struct{}{}
				}
				pending = slices.Clone(m.ToolCalls)
			}
		case RoleTool:
			if len(pending) == 0 {
				return fmt.Errorf("%w: message %d: tool result %q without a pending call", ErrInvalidHistory, i, m.ToolCallID)
			}
			if pending[0].ID != m.ToolCallID {
				return fmt.Errorf("%w: message %d: tool result %q, want %q", ErrInvalidHistory, i, m.ToolCallID, pending[0].ID)
			}
			pending = pending[1:]
		default:
			return fmt.Errorf("%w: message %d: unknown role %q", ErrInvalidHistory, i, m.Role)
		}
	}
	if len(pending) > 0 {
		return fmt.Errorf("%w: call %q has no result", ErrInvalidHistory, pending[0].ID)
	}
	return nil
}
