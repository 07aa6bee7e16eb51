package llmio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// MessageHandler is notified with every assistant text fragment as it is produced.
// Its errors are logged and otherwise ignored.
type MessageHandler func(ctx context.Context, text string) error

// Agent drives conversations between a Completer and the tools of its Registry.
// An Agent is safe for concurrent Speak calls; each call owns its own History.
type Agent struct {
	completer Completer
	registry  *Registry
	opts      agentOptions
	tracer    trace.Tracer
	logger    *slog.Logger

	mu       sync.RWMutex
	handlers []MessageHandler
}

// NewAgent creates an Agent that asks c for completions.
func NewAgent(c Completer, opts ...AgentOption) *Agent {
	var o agentOptions
	for _, opt := range opts {
		opt(&o)
	}
	tp := o.tracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}
	reg := o.registry
	if reg == nil {
		reg = NewRegistry(WithRegistryTracerProvider(tp))
	}
	return &Agent{
		completer: c,
		registry:  reg,
		opts:      o,
		tracer:    tp.Tracer(instrumentationName),
		logger:    logger,
	}
}

// Register adds tools to the agent's registry. It stops at the first error, which is a
// *SchemaError or *DuplicateToolError.
func (a *Agent) Register(tools ...Tool) error {
	for _, t := range tools {
		if err := a.registry.Register(t); err != nil {
			return err
		}
	}
	return nil
}

// Registry returns the registry the agent dispatches tool calls to.
func (a *Agent) Registry() *Registry { return a.registry }

// OnMessage registers a handler for assistant text fragments. Handlers run in
// registration order on the Speak goroutine.
func (a *Agent) OnMessage(fn MessageHandler) {
	if fn == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.handlers = append(a.handlers, fn)
}

// Speak sends text to the model and keeps executing the tool calls it requests until it
// answers without any. Tool failures are reported to the model as tool results; only
// provider failures, an invalid seed history, cancellation and ErrMaxTurns end the call
// early. If the first model call fails Speak returns (nil, err); later failures return
// the partial result alongside the error.
func (a *Agent) Speak(ctx context.Context, text string, opts ...SpeakOption) (res *SpeakResult, err error) {
	var so speakOptions
	for _, opt := range opts {
		opt(&so)
	}
	ctx, span := a.tracer.Start(ctx, "llmio.speak", trace.WithAttributes(
		attribute.Int("llmio.history.seed", len(so.history)),
	))
	defer func() {
		if res != nil {
			span.SetAttributes(attribute.Int("llmio.turns", res.Turns))
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if err := ValidateHistory(so.history); err != nil {
		return nil, err
	}
	s := &speakState{history: NewHistory(so.history...), tools: a.registry.Schemas()}
	s.history.Append(UserMessage(text))

	for {
		if a.opts.maxTurns > 0 && s.turns >= a.opts.maxTurns {
			a.logger.WarnContext(ctx, "turn limit reached", "max_turns", a.opts.maxTurns)
			return s.result(), fmt.Errorf("%w (%d)", ErrMaxTurns, a.opts.maxTurns)
		}
		if err := ctx.Err(); err != nil {
			return s.partial(), err
		}

		turn, err := a.complete(ctx, s)
		if err != nil {
			a.logger.ErrorContext(ctx, "completion failed", "turn", s.turns+1, "error", err)
			return s.partial(), err
		}
		s.turns++
		turn.ToolCalls = assignCallIDs(turn.ToolCalls)
		s.history.Append(AssistantMessage(turn.Content, turn.ToolCalls...))
		if turn.Content != "" {
			s.fragments = append(s.fragments, turn.Content)
			a.notify(ctx, turn.Content)
		}
		if len(turn.ToolCalls) == 0 {
			return s.result(), nil
		}

		if err := ctx.Err(); err != nil {
			for _, call := range turn.ToolCalls {
				s.history.Append(ToolErrorMessage(call.ID, ErrorText(cancelledError(call.ToolName, err))))
			}
			return s.result(), err
		}
		a.logger.DebugContext(ctx, "executing tool calls", "turn", s.turns, "calls", len(turn.ToolCalls))
		results := a.registry.InvokeBatch(ctx, turn.ToolCalls, so.caller, a.opts.parallelTools)
		for _, r := range results {
			if r.Err != nil {
				a.logger.WarnContext(ctx, "tool call failed", "tool", r.ToolName, "call_id", r.CallID, "error", r.Err)
				s.history.Append(ToolErrorMessage(r.CallID, r.Content))
				continue
			}
			s.history.Append(ToolResultMessage(r.CallID, r.Content))
		}
	}
}

// assignCallIDs returns a copy of calls in which every call has an ID unique within the
// turn. Missing and repeated IDs are replaced with "call_<uuid>".
func assignCallIDs(calls []ToolCall) []ToolCall {
	if len(calls) == 0 {
		return calls
	}
	out := slices.Clone(calls)
	seen := make(map[string]struct{}, len(out))
	for i := range out {
		if _, dup := seen[out[i].ID]; out[i].ID == "" || dup {
			out[i].ID = "call_" + uuid.NewString()
		}
		seen[out[i].ID] = struct{}{}
	}
	return out
}

// complete runs one model call. Errors that are not already a *ProviderError are wrapped in one.
func (a *Agent) complete(ctx context.Context, s *speakState) (AssistantTurn, error) {
	ctx, span := a.tracer.Start(ctx, "llmio.complete", trace.WithAttributes(
		attribute.Int("llmio.turn", s.turns+1),
		attribute.Int("llmio.history.len", s.history.Len()),
	))
	defer span.End()

	turn, err := a.completer.Complete(ctx, CompletionRequest{
		Instruction: a.opts.instruction,
		Messages:    s.history.Snapshot(),
		Tools:       s.tools,
	})
	if err != nil {
		var pe *ProviderError
		if !errors.As(err, &pe) {
			err = &ProviderError{Err: err}
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return AssistantTurn{}, err
	}
	span.SetAttributes(attribute.Int("llmio.tool_calls", len(turn.ToolCalls)))
	return turn, nil
}

// notify delivers a fragment to the OnMessage handlers, containing their failures.
func (a *Agent) notify(ctx context.Context, text string) {
	a.mu.RLock()
	handlers := a.handlers
	a.mu.RUnlock()
	for _, h := range handlers {
		if err := safeHandle(ctx, h, text); err != nil {
			a.logger.WarnContext(ctx, "message handler failed", "error", err)
		}
	}
}

func safeHandle(ctx context.Context, h MessageHandler, text string) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = &panicError{p: p}
		}
	}()
	return h(ctx, text)
}

// speakState is the engine state owned by one Speak call.
type speakState struct {
	history   *History
	tools     []ToolSchema
	fragments []string
	turns     int
}

func (s *speakState) result() *SpeakResult {
	return &SpeakResult{
		Messages: append([]string(nil), s.fragments...),
		History:  s.history.Snapshot(),
		Turns:    s.turns,
	}
}

// partial is the result returned with an error: nil while no model turn has been appended.
func (s *speakState) partial() *SpeakResult {
	if s.turns == 0 {
		return nil
	}
	return s.result()
}
