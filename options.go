package llmio

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// DefaultContextParam is the name under which a context tool declares its caller-context parameter.
const DefaultContextParam = "_context"

// toolOptions hold optional tool settings.
type toolOptions struct {
	strict       bool
	timeout      time.Duration
	mode         Mode
	contextParam string
}

// ToolOption configures a tool (e.g. WithStrict, WithTimeout, WithAsync).
type ToolOption func(*toolOptions)

// WithStrict sets strict mode for schema: additionalProperties: false for all objects,
// and all properties become required. Use for OpenAI Structured Outputs compatibility.
func WithStrict() ToolOption {
	return func(o *toolOptions) {
		o.strict = true
	}
}

// WithTimeout sets a per-tool timeout; it overrides the registry default.
func WithTimeout(d time.Duration) ToolOption {
	return func(o *toolOptions) {
		o.timeout = d
	}
}

// WithAsync marks the tool as asynchronous: the registry runs it on its own goroutine
// and stops waiting as soon as the call context is done.
func WithAsync() ToolOption {
	return func(o *toolOptions) {
		o.mode = ModeAsync
	}
}

// WithContextParam names the caller-context parameter of a context tool (default "_context").
func WithContextParam(name string) ToolOption {
	return func(o *toolOptions) {
		o.contextParam = name
	}
}

func newToolOptions(opts []ToolOption) toolOptions {
	o := toolOptions{contextParam: DefaultContextParam}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// RegistryOption configures a Registry.
type RegistryOption func(*registryOptions)

type registryOptions struct {
	timeout        time.Duration
	maxConcurrency int
	recoverPanics  bool
	onBefore       func(context.Context, ToolCall)
	onAfter        func(context.Context, ToolCall, Result, time.Duration)
	tracerProvider trace.TracerProvider
}

// WithDefaultTimeout sets the default execution timeout for tools. Zero disables it.
func WithDefaultTimeout(d time.Duration) RegistryOption {
	return func(o *registryOptions) {
		o.timeout = d
	}
}

// WithMaxConcurrency limits concurrent tool executions (semaphore).
// Pass 0 or negative to disable the semaphore (unlimited concurrency).
func WithMaxConcurrency(n int) RegistryOption {
	return func(o *registryOptions) {
		o.maxConcurrency = n
	}
}

// WithRecoverPanics enables panic recovery in Invoke (the panic becomes a ToolExecutionError).
func WithRecoverPanics(enable bool) RegistryOption {
	return func(o *registryOptions) {
		o.recoverPanics = enable
	}
}

// WithOnBeforeExecute sets a hook called before each tool execution.
func WithOnBeforeExecute(fn func(context.Context, ToolCall)) RegistryOption {
	return func(o *registryOptions) {
		o.onBefore = fn
	}
}

// WithOnAfterExecute sets a hook called after each tool execution, unknown tools included.
func WithOnAfterExecute(fn func(context.Context, ToolCall, Result, time.Duration)) RegistryOption {
	return func(o *registryOptions) {
		o.onAfter = fn
	}
}

// WithRegistryTracerProvider sets the tracer provider for "llmio.tool" spans (default: the global one).
func WithRegistryTracerProvider(tp trace.TracerProvider) RegistryOption {
	return func(o *registryOptions) {
		o.tracerProvider = tp
	}
}

// AgentOption configures an Agent.
type AgentOption func(*agentOptions)

type agentOptions struct {
	instruction    string
	maxTurns       int
	parallelTools  bool
	registry       *Registry
	logger         *slog.Logger
	tracerProvider trace.TracerProvider
}

// WithInstruction sets the system instruction sent with every completion request.
func WithInstruction(instruction string) AgentOption {
	return func(o *agentOptions) {
		o.instruction = instruction
	}
}

// WithMaxTurns bounds the number of model calls per Speak. Zero (the default) means unlimited.
// When the bound is hit Speak returns the partial result and ErrMaxTurns.
func WithMaxTurns(n int) AgentOption {
	return func(o *agentOptions) {
		o.maxTurns = n
	}
}

// WithParallelToolCalls runs the calls of one assistant turn concurrently. Results are
// still appended in request order. The default is sequential execution.
func WithParallelToolCalls() AgentOption {
	return func(o *agentOptions) {
		o.parallelTools = true
	}
}

// WithRegistry makes the agent use an existing registry instead of creating its own.
func WithRegistry(r *Registry) AgentOption {
	return func(o *agentOptions) {
		o.registry = r
	}
}

// WithLogger sets the logger used by the turn engine (default slog.Default()).
func WithLogger(l *slog.Logger) AgentOption {
	return func(o *agentOptions) {
		o.logger = l
	}
}

// WithTracerProvider sets the OpenTelemetry tracer provider (default: the global one).
func WithTracerProvider(tp trace.TracerProvider) AgentOption {
	return func(o *agentOptions) {
		o.tracerProvider = tp
	}
}

// SpeakOption configures a single Speak call.
type SpeakOption func(*speakOptions)

type speakOptions struct {
	history []Message
	caller  any
}

// WithHistory seeds the call with a previous SpeakResult.History to continue a conversation.
func WithHistory(history []Message) SpeakOption {
	return func(o *speakOptions) {
		o.history = history
	}
}

// WithCallerContext passes a value to every context tool invoked during the call.
// The value is shared by reference, never serialized and never sent to the model.
func WithCallerContext(v any) SpeakOption {
	return func(o *speakOptions) {
		o.caller = v
	}
}
