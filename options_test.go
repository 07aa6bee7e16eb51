package llmio

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"
)

func TestWithStrict(t *testing.T) {
	type Args struct {
		X int `json:"x"`
		Y int `json:"y,omitempty"`
	}
	tool, err := NewTool("strict_tool", "desc", func(_ context.Context, a Args) (int, error) {
		return a.X, nil
	}, WithStrict())
	require.NoError(t, err)
	out, err := tool.Execute(context.Background(), []byte(`{"x":1,"y":0}`), nil)
	require.NoError(t, err)
	assert.Equal(t, "1", out)

	_, err = tool.Execute(context.Background(), []byte(`{"x":1,"y":0,"extra":2}`), nil)
	require.ErrorIs(t, err, ErrValidation)

	_, err = tool.Execute(context.Background(), []byte(`{"x":1}`), nil)
	require.ErrorIs(t, err, ErrValidation, "strict mode makes every property required")
}

func TestToolOptions_Defaults(t *testing.T) {
	o := newToolOptions(nil)
	assert.Equal(t, DefaultContextParam, o.contextParam)
	assert.Equal(t, ModeSync, o.mode)
	assert.False(t, o.strict)
	assert.Zero(t, o.timeout)

	o = newToolOptions([]ToolOption{WithStrict(), WithTimeout(time.Millisecond), WithAsync(), WithContextParam("ctx")})
	assert.True(t, o.strict)
	assert.Equal(t, time.Millisecond, o.timeout)
	assert.Equal(t, ModeAsync, o.mode)
	assert.Equal(t, "ctx", o.contextParam)
}

func TestRegistryOptions(t *testing.T) {
	reg := NewRegistry()
	assert.Equal(t, 30*time.Second, reg.opts.timeout)
	assert.Equal(t, 10, reg.opts.maxConcurrency)
	assert.True(t, reg.opts.recoverPanics)
	assert.NotNil(t, reg.sem)

	reg = NewRegistry(
		WithDefaultTimeout(0),
		WithMaxConcurrency(0),
		WithRecoverPanics(false),
		WithRegistryTracerProvider(noop.NewTracerProvider()),
	)
	assert.Zero(t, reg.opts.timeout)
	assert.Nil(t, reg.sem)
	assert.False(t, reg.opts.recoverPanics)
	assert.NotNil(t, reg.opts.tracerProvider)
}

func TestAgentOptions(t *testing.T) {
	reg := NewRegistry()
	logger := slog.Default()
	a := NewAgent(nil,
		WithInstruction("be brief"),
		WithMaxTurns(3),
		WithParallelToolCalls(),
		WithRegistry(reg),
		WithLogger(logger),
		WithTracerProvider(noop.NewTracerProvider()),
	)
	assert.Equal(t, "be brief", a.opts.instruction)
	assert.Equal(t, 3, a.opts.maxTurns)
	assert.True(t, a.opts.parallelTools)
	assert.Same(t, reg, a.Registry())
	assert.Same(t, logger, a.logger)

	a = NewAgent(nil)
	assert.NotNil(t, a.Registry())
	assert.Zero(t, a.opts.maxTurns)
	assert.False(t, a.opts.parallelTools)
}

func TestSpeakOptions(t *testing.T) {
	var o speakOptions
	seed := []Message{UserMessage("hi")}
	caller := &userContext{UserID: 7}
	for _, opt := range []SpeakOption{WithHistory(seed), WithCallerContext(caller)} {
		opt(&o)
	}
	assert.Equal(t, seed, o.history)
	assert.Same(t, caller, o.caller)
}
