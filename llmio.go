package llmio

import (
	"context"
	"encoding/json"
	"strings"
	"time"
)

// Mode tells the registry how to run a tool body.
type Mode int

const (
	// ModeSync runs the tool on the caller's goroutine.
	ModeSync Mode = iota
	// ModeAsync runs the tool on its own goroutine and awaits it under the call context,
	// so a cancelled or timed-out call returns without waiting for the body.
	ModeAsync
)

func (m Mode) String() string {
	if m == ModeAsync {
		return "async"
	}
	return "sync"
}

// Tool is the contract for a model-callable function.
// It is provider-agnostic (no knowledge of OpenAI, Anthropic, etc.).
type Tool interface {
	Name() string
	Description() string
	// Parameters returns the model-visible JSON Schema of the arguments.
	// Caller-context parameters are never part of it.
	Parameters() map[string]any
	// Execute validates argsJSON, runs the tool and returns the model-visible result text.
	// caller is the value passed to Speak with WithCallerContext (nil when absent).
	Execute(ctx context.Context, argsJSON []byte, caller any) (string, error)
}

// ToolMetadata is implemented by tools created with NewTool, NewContextTool and NewDynamicTool.
// Registry uses Timeout() to override its default timeout and Mode() to pick the dispatch path.
type ToolMetadata interface {
	Timeout() time.Duration
	Mode() Mode
	Params() []Param
}

// Param describes one declared tool parameter. Context parameters carry the caller
// context and are hidden from the model.
type Param struct {
	Name     string
	Type     string
	Required bool
	Context  bool
}

// Definition is the resolved, immutable description of a registered tool.
type Definition struct {
	Name        string
	Description string
	Params      []Param
	Mode        Mode
	Tool        Tool
}

// ContextParam returns the caller-context parameter, if the tool declares one.
func (d Definition) ContextParam() (Param, bool) {
	for _, p := range d.Params {
		if p.Context {
			return p, true
		}
	}
	return Param{}, false
}

// ToolSchema is the model-visible description of a tool.
type ToolSchema struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// ToolCall is a single execution request (as produced by the model).
type ToolCall struct {
	ID       string          `json:"id"`
	ToolName string          `json:"name"`
	Args     json.RawMessage `json:"arguments"` // JSON payload of arguments
}

// Result is the outcome of one tool call. Content is always the text sent back to the
// model: the tool output on success, the error description on failure.
type Result struct {
	CallID   string
	ToolName string
	Content  string
	Err      error
}

// AssistantTurn is one decoded model reply.
type AssistantTurn struct {
	Content   string
	ToolCalls []ToolCall
}

// CompletionRequest is what the engine hands to a Completer on every round.
type CompletionRequest struct {
	Instruction string
	Messages    []Message
	Tools       []ToolSchema
}

// Completer is the boundary to a chat-completion provider. Implementations decode the
// provider reply into an AssistantTurn and report provider failures as *ProviderError.
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (AssistantTurn, error)
}

// CompleterFunc adapts a function to Completer.
type CompleterFunc func(ctx context.Context, req CompletionRequest) (AssistantTurn, error)

func (f CompleterFunc) Complete(ctx context.Context, req CompletionRequest) (AssistantTurn, error) {
	return f(ctx, req)
}

// SpeakResult is returned by Agent.Speak.
type SpeakResult struct {
	// Messages holds the assistant text fragments of this call, in turn order.
	Messages []string
	// History is a snapshot of the whole conversation, seed included.
	History []Message
	// Turns counts the model calls made.
	Turns int
}

// Text joins the assistant fragments with newlines.
func (r *SpeakResult) Text() string {
	if r == nil {
		return ""
	}
	return strings.Join(r.Messages, "\n")
}
