// Package testutil provides test helpers for llmio: a configurable MockTool, a scripted
// Completer and a registry preset for tests.
package testutil

import (
	"context"
	"time"

	"github.com/skosovsky/llmio"
)

// MockTool is a configurable Tool implementation for tests.
type MockTool struct {
	NameVal    string
	DescVal    string
	ParamsVal  map[string]any
	ModeVal    llmio.Mode
	TimeoutVal time.Duration
	ExecuteFn  func(ctx context.Context, args []byte, caller any) (string, error)
}

// Name returns the tool name.
func (m *MockTool) Name() string {
	if m.NameVal != "" {
		return m.NameVal
	}
	return "mock"
}

// Description returns the tool description.
func (m *MockTool) Description() string {
	return m.DescVal
}

// Parameters returns the parameters schema (or an empty object schema).
func (m *MockTool) Parameters() map[string]any {
	if m.ParamsVal != nil {
		return m.ParamsVal
	}
	return map[string]any{"type": "object", "properties": map[string]any{}}
}

// Execute runs ExecuteFn if set, otherwise returns an empty result.
func (m *MockTool) Execute(ctx context.Context, args []byte, caller any) (string, error) {
	if m.ExecuteFn != nil {
		return m.ExecuteFn(ctx, args, caller)
	}
	return "", nil
}

func (m *MockTool) Timeout() time.Duration { return m.TimeoutVal }
func (m *MockTool) Mode() llmio.Mode       { return m.ModeVal }
func (m *MockTool) Params() []llmio.Param  { return nil }

var (
	_ llmio.Tool         = (*MockTool)(nil)
	_ llmio.ToolMetadata = (*MockTool)(nil)
)
