// Package langchain adapts any github.com/tmc/langchaingo llms.Model (OpenAI, Azure
// OpenAI, Ollama and the other langchaingo backends) to llmio.Completer.
package langchain

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/tmc/langchaingo/llms"

	"github.com/skosovsky/llmio"
)

// ErrEmptyResponse is reported when the model returns no choices.
var ErrEmptyResponse = errors.New("empty response from model")

// Completer sends llmio conversations through a langchaingo model.
type Completer struct {
	model    llms.Model
	name     string
	opts     []llms.CallOption
	strictFn bool
}

// Option configures a Completer.
type Option func(*Completer)

// WithProviderName sets the name reported in ProviderError.Provider (default "langchaingo").
func WithProviderName(name string) Option {
	return func(c *Completer) {
		c.name = name
	}
}

// WithCallOptions adds langchaingo call options (model, temperature, max tokens, ...) to every request.
func WithCallOptions(opts ...llms.CallOption) Option {
	return func(c *Completer) {
		c.opts = append(c.opts, opts...)
	}
}

// WithStrictFunctions marks every function definition as strict.
func WithStrictFunctions() Option {
	return func(c *Completer) {
		c.strictFn = true
	}
}

// New returns a Completer backed by model.
func New(model llms.Model, opts ...Option) *Completer {
	c := &Completer{model: model, name: "langchaingo"}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Complete implements llmio.Completer.
func (c *Completer) Complete(ctx context.Context, req llmio.CompletionRequest) (llmio.AssistantTurn, error) {
	messages := Messages(req.Instruction, req.Messages)
	opts := make([]llms.CallOption, 0, len(c.opts)+1)
	opts = append(opts, c.opts...)
	if len(req.Tools) > 0 {
		opts = append(opts, llms.WithTools(c.tools(req.Tools)))
	}

	resp, err := c.model.GenerateContent(ctx, messages, opts...)
	if err != nil {
		return llmio.AssistantTurn{}, c.providerError(err)
	}
	if resp == nil || len(resp.Choices) == 0 || resp.Choices[0] == nil {
		return llmio.AssistantTurn{}, &llmio.ProviderError{Provider: c.name, Err: ErrEmptyResponse}
	}
	choice := resp.Choices[0]
	turn := llmio.AssistantTurn{Content: choice.Content}
	for _, tc := range choice.ToolCalls {
		if tc.FunctionCall == nil {
			continue
		}
		args := json.RawMessage(tc.FunctionCall.Arguments)
		if len(args) == 0 {
			args = json.RawMessage("{}")
		}
		turn.ToolCalls = append(turn.ToolCalls, llmio.ToolCall{
			ID:       tc.ID,
			ToolName: tc.FunctionCall.Name,
			Args:     args,
		})
	}
	return turn, nil
}

func (c *Completer) tools(schemas []llmio.ToolSchema) []llms.Tool {
	out := make([]llms.Tool, 0, len(schemas))
	for _, s := range schemas {
		out = append(out, llms.Tool{
			Type: "function",
			Function: &llms.FunctionDefinition{
				Name:        s.Name,
				Description: s.Description,
				Parameters:  s.Parameters,
				Strict:      c.strictFn,
			},
		})
	}
	return out
}

// Messages converts an llmio conversation to langchaingo message content. The instruction,
// when set, becomes a leading system message.
func Messages(instruction string, msgs []llmio.Message) []llms.MessageContent {
	out := make([]llms.MessageContent, 0, len(msgs)+1)
	if instruction != "" {
		out = append(out, llms.TextParts(llms.ChatMessageTypeSystem, instruction))
	}
	names := make(map[string]string)
	for _, m := range msgs {
		switch m.Role {
		case llmio.RoleUser:
			out = append(out, llms.TextParts(llms.ChatMessageTypeHuman, m.Content))
		case llmio.RoleAssistant:
			var parts []llms.ContentPart
			if m.Content != "" {
				parts = append(parts, llms.TextPart(m.Content))
			}
			for _, tc := range m.ToolCalls {
				names[tc.ID] = tc.ToolName
				parts = append(parts, llms.ToolCall{
					ID:   tc.ID,
					Type: "function",
					FunctionCall: &llms.FunctionCall{
						Name:      tc.ToolName,
						Arguments: string(tc.Args),
					},
				})
			}
			if len(parts) == 0 {
				parts = append(parts, llms.TextPart(""))
			}
			out = append(out, llms.MessageContent{Role: llms.ChatMessageTypeAI, Parts: parts})
		case llmio.RoleTool:
			out = append(out, llms.MessageContent{
				Role: llms.ChatMessageTypeTool,
				Parts: []llms.ContentPart{llms.ToolCallResponse{
					ToolCallID: m.ToolCallID,
					Name:       names[m.ToolCallID],
					Content:    m.Content,
				}},
			})
		}
	}
	return out
}

// providerError maps langchaingo's standardized error codes to a retryable ProviderError.
func (c *Completer) providerError(err error) error {
	pe := &llmio.ProviderError{Provider: c.name, Err: err}
	var le *llms.Error
	if errors.As(err, &le) {
		if le.Provider != "" {
			pe.Provider = le.Provider
		}
		switch le.Code {
		case llms.ErrCodeRateLimit, llms.ErrCodeTimeout, llms.ErrCodeProviderUnavailable:
			pe.Retryable = true
		}
	}
	return pe
}

var _ llmio.Completer = (*Completer)(nil)
