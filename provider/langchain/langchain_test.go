package langchain

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
	"go.uber.org/goleak"

	"github.com/skosovsky/llmio"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeModel records the request and replies with resp or err.
type fakeModel struct {
	resp     *llms.ContentResponse
	err      error
	messages []llms.MessageContent
	opts     llms.CallOptions
}

func (f *fakeModel) GenerateContent(_ context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	f.messages = messages
	for _, opt := range options {
		opt(&f.opts)
	}
	return f.resp, f.err
}

func (f *fakeModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, f, prompt, options...)
}

func TestComplete_DecodesToolCalls(t *testing.T) {
	m := &fakeModel{resp: &llms.ContentResponse{Choices: []*llms.ContentChoice{{
		Content: "let me add",
		ToolCalls: []llms.ToolCall{
			{ID: "c1", Type: "function", FunctionCall: &llms.FunctionCall{Name: "add", Arguments: `{"a":1,"b":1}`}},
			{ID: "c2", Type: "function", FunctionCall: &llms.FunctionCall{Name: "ping"}},
		},
	}}}}
	c := New(m, WithCallOptions(llms.WithModel("gpt-4o"), llms.WithMaxTokens(64)))

	turn, err := c.Complete(context.Background(), llmio.CompletionRequest{
		Instruction: "You are a calculator.",
		Messages:    []llmio.Message{llmio.UserMessage("1+1?")},
		Tools: []llmio.ToolSchema{{
			Name:        "add",
			Description: "Add two numbers",
			Parameters:  map[string]any{"type": "object"},
		}},
	})
	require.NoError(t, err)
	assert.Equal(t, "let me add", turn.Content)
	require.Len(t, turn.ToolCalls, 2)
	assert.Equal(t, "c1", turn.ToolCalls[0].ID)
	assert.Equal(t, "add", turn.ToolCalls[0].ToolName)
	assert.JSONEq(t, `{"a":1,"b":1}`, string(turn.ToolCalls[0].Args))
	assert.JSONEq(t, `{}`, string(turn.ToolCalls[1].Args))

	assert.Equal(t, "gpt-4o", m.opts.Model)
	assert.Equal(t, 64, m.opts.MaxTokens)
	require.Len(t, m.opts.Tools, 1)
	assert.Equal(t, "function", m.opts.Tools[0].Type)
	assert.Equal(t, "add", m.opts.Tools[0].Function.Name)
	assert.False(t, m.opts.Tools[0].Function.Strict)

	require.Len(t, m.messages, 2)
	assert.Equal(t, llms.ChatMessageTypeSystem, m.messages[0].Role)
	assert.Equal(t, llms.ChatMessageTypeHuman, m.messages[1].Role)
}

func TestComplete_NoToolsNoOption(t *testing.T) {
	m := &fakeModel{resp: &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: "hi"}}}}
	turn, err := New(m, WithStrictFunctions()).Complete(context.Background(), llmio.CompletionRequest{
		Messages: []llmio.Message{llmio.UserMessage("hello")},
	})
	require.NoError(t, err)
	assert.Equal(t, "hi", turn.Content)
	assert.Empty(t, turn.ToolCalls)
	assert.Empty(t, m.opts.Tools)
	require.Len(t, m.messages, 1)
}

func TestComplete_EmptyResponse(t *testing.T) {
	m := &fakeModel{resp: &llms.ContentResponse{}}
	_, err := New(m, WithProviderName("openai")).Complete(context.Background(), llmio.CompletionRequest{})
	require.ErrorIs(t, err, ErrEmptyResponse)
	var pe *llmio.ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "openai", pe.Provider)
	assert.False(t, pe.Retryable)
}

func TestComplete_ErrorMapping(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
		provider  string
	}{
		{"rate limit", &llms.Error{Code: llms.ErrCodeRateLimit, Provider: "openai"}, true, "openai"},
		{"unavailable", &llms.Error{Code: llms.ErrCodeProviderUnavailable}, true, "langchaingo"},
		{"timeout", &llms.Error{Code: llms.ErrCodeTimeout}, true, "langchaingo"},
		{"auth", &llms.Error{Code: llms.ErrCodeAuthentication, Provider: "openai"}, false, "openai"},
		{"plain", errors.New("connection refused"), false, "langchaingo"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &fakeModel{err: tt.err}
			_, err := New(m).Complete(context.Background(), llmio.CompletionRequest{})
			require.Error(t, err)
			var pe *llmio.ProviderError
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, tt.retryable, pe.Retryable)
			assert.Equal(t, tt.retryable, llmio.IsRetryable(err))
			assert.Equal(t, tt.provider, pe.Provider)
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestMessages_ToolRoundTrip(t *testing.T) {
	msgs := []llmio.Message{
		llmio.UserMessage("1+1 and 2*3"),
		llmio.AssistantMessage("",
			llmio.ToolCall{ID: "a", ToolName: "add", Args: []byte(`{"a":1,"b":1}`)},
			llmio.ToolCall{ID: "m", ToolName: "multiply", Args: []byte(`{"a":2,"b":3}`)},
		),
		llmio.ToolResultMessage("a", "2"),
		llmio.ToolResultMessage("m", "6"),
		llmio.AssistantMessage("2 and 6"),
	}
	out := Messages("", msgs)
	require.Len(t, out, 5)

	assert.Equal(t, llms.ChatMessageTypeAI, out[1].Role)
	require.Len(t, out[1].Parts, 2)
	call, ok := out[1].Parts[0].(llms.ToolCall)
	require.True(t, ok)
	assert.Equal(t, "a", call.ID)
	assert.Equal(t, "add", call.FunctionCall.Name)
	assert.JSONEq(t, `{"a":1,"b":1}`, call.FunctionCall.Arguments)

	assert.Equal(t, llms.ChatMessageTypeTool, out[3].Role)
	resp, ok := out[3].Parts[0].(llms.ToolCallResponse)
	require.True(t, ok)
	assert.Equal(t, "m", resp.ToolCallID)
	assert.Equal(t, "multiply", resp.Name)
	assert.Equal(t, "6", resp.Content)

	text, ok := out[4].Parts[0].(llms.TextContent)
	require.True(t, ok)
	assert.Equal(t, "2 and 6", text.Text)
}
