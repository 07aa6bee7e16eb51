// Package anthropic adapts the Anthropic Messages API (github.com/anthropics/anthropic-sdk-go)
// to llmio.Completer.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"

	"github.com/skosovsky/llmio"
)

// DefaultModel is used when no model is configured.
const DefaultModel = sdk.ModelClaudeSonnet4_5

// DefaultMaxTokens bounds every reply unless WithMaxTokens says otherwise.
const DefaultMaxTokens = 1024

const providerName = "anthropic"

// Completer sends llmio conversations to the Messages API.
type Completer struct {
	client    *sdk.Client
	model     sdk.Model
	maxTokens int64
}

// Option configures a Completer.
type Option func(*Completer)

// WithModel sets the model (default DefaultModel).
func WithModel(m string) Option {
	return func(c *Completer) {
		if m != "" {
			c.model = sdk.Model(m)
		}
	}
}

// WithMaxTokens sets the reply token bound (default DefaultMaxTokens).
func WithMaxTokens(n int64) Option {
	return func(c *Completer) {
		if n > 0 {
			c.maxTokens = n
		}
	}
}

// New returns a Completer using client.
func New(client *sdk.Client, opts ...Option) *Completer {
	c := &Completer{client: client, model: DefaultModel, maxTokens: DefaultMaxTokens}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Complete implements llmio.Completer.
func (c *Completer) Complete(ctx context.Context, req llmio.CompletionRequest) (llmio.AssistantTurn, error) {
	params := sdk.MessageNewParams{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		Messages:  Messages(req.Messages),
	}
	if req.Instruction != "" {
		params.System = []sdk.TextBlockParam{{Text: req.Instruction}}
	}
	if len(req.Tools) > 0 {
		params.Tools = Tools(req.Tools)
	}

	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return llmio.AssistantTurn{}, providerError(err)
	}
	var (
		turn  llmio.AssistantTurn
		texts []string
	)
	for _, block := range msg.Content {
		switch v := block.AsAny().(type) {
		case sdk.TextBlock:
			if v.Text != "" {
				texts = append(texts, v.Text)
			}
		case sdk.ToolUseBlock:
			args := v.Input
			if len(args) == 0 {
				args = json.RawMessage("{}")
			}
			turn.ToolCalls = append(turn.ToolCalls, llmio.ToolCall{ID: v.ID, ToolName: v.Name, Args: args})
		}
	}
	turn.Content = strings.Join(texts, "\n")
	return turn, nil
}

// Tools converts model-visible schemas to Messages API tool definitions.
func Tools(schemas []llmio.ToolSchema) []sdk.ToolUnionParam {
	out := make([]sdk.ToolUnionParam, 0, len(schemas))
	for _, s := range schemas {
		input := sdk.ToolInputSchemaParam{ExtraFields: map[string]any{}}
		for k, v := range s.Parameters {
			switch k {
			case "type":
			case "properties":
				input.Properties = v
			case "required":
				input.Required = stringList(v)
			default:
				input.ExtraFields[k] = v
			}
		}
		if input.Properties == nil {
			input.Properties = map[string]any{}
		}
		tool := &sdk.ToolParam{Name: s.Name, InputSchema: input}
		if s.Description != "" {
			tool.Description = sdk.String(s.Description)
		}
		out = append(out, sdk.ToolUnionParam{OfTool: tool})
	}
	return out
}

// Messages converts an llmio conversation to Messages API messages. Consecutive tool
// results are sent together in one user message, as the API requires.
func Messages(msgs []llmio.Message) []sdk.MessageParam {
	out := make([]sdk.MessageParam, 0, len(msgs))
	var results []sdk.ContentBlockParamUnion
	flush := func() {
		if len(results) > 0 {
			out = append(out, sdk.NewUserMessage(results...))
			results = nil
		}
	}
	for _, m := range msgs {
		switch m.Role {
		case llmio.RoleTool:
			results = append(results, sdk.NewToolResultBlock(m.ToolCallID, m.Content, m.IsError))
		case llmio.RoleUser:
			flush()
			out = append(out, sdk.NewUserMessage(sdk.NewTextBlock(m.Content)))
		case llmio.RoleAssistant:
			flush()
			var blocks []sdk.ContentBlockParamUnion
			if m.Content != "" {
				blocks = append(blocks, sdk.NewTextBlock(m.Content))
			}
			for _, tc := range m.ToolCalls {
				var input any = map[string]any{}
				if len(tc.Args) > 0 {
					input = tc.Args
				}
				blocks = append(blocks, sdk.NewToolUseBlock(tc.ID, input, tc.ToolName))
			}
			if len(blocks) == 0 {
				blocks = append(blocks, sdk.NewTextBlock(" "))
			}
			out = append(out, sdk.NewAssistantMessage(blocks...))
		}
	}
	flush()
	return out
}

// providerError marks rate limits, timeouts and server errors as retryable.
func providerError(err error) error {
	pe := &llmio.ProviderError{Provider: providerName, Err: err}
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		pe.StatusCode = apiErr.StatusCode
		pe.Retryable = apiErr.StatusCode == http.StatusTooManyRequests ||
			apiErr.StatusCode == http.StatusRequestTimeout ||
			apiErr.StatusCode >= http.StatusInternalServerError
	}
	return pe
}

func stringList(v any) []string {
	switch x := v.(type) {
	case []string:
		return x
	case []any:
		out := make([]string, 0, len(x))
		for _, s := range x {
			if str, ok := s.(string); ok {
				out = append(out, str)
			}
		}
		return out
	}
	return nil
}

var _ llmio.Completer = (*Completer)(nil)
