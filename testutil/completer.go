package testutil

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/skosovsky/llmio"
)

// ErrScriptExhausted is returned by ScriptedCompleter when more turns are requested than scripted.
var ErrScriptExhausted = errors.New("testutil: completion script exhausted")

// Step is one scripted model reply: either Turn or Err.
type Step struct {
	Turn llmio.AssistantTurn
	Err  error
	// Delay is waited (under the request context) before replying.
	Delay time.Duration
}

// Text returns a step answering with plain text.
func Text(s string) Step {
	return Step{Turn: llmio.AssistantTurn{Content: s}}
}

// Calls returns a step requesting the given tool calls, with optional text.
func Calls(text string, calls ...llmio.ToolCall) Step {
	return Step{Turn: llmio.AssistantTurn{Content: text, ToolCalls: calls}}
}

// Fail returns a step failing with err.
func Fail(err error) Step {
	return Step{Err: err}
}

// Call builds a ToolCall with args encoded as JSON. It panics if args cannot be encoded.
func Call(id, name string, args any) llmio.ToolCall {
	b, err := json.Marshal(args)
	if err != nil {
		panic(err)
	}
	return llmio.ToolCall{ID: id, ToolName: name, Args: b}
}

// ScriptedCompleter replays Steps in order and records every request it receives.
// It is safe for concurrent use.
type ScriptedCompleter struct {
	mu       sync.Mutex
	steps    []Step
	requests []llmio.CompletionRequest
}

// NewScriptedCompleter returns a Completer replaying steps.
func NewScriptedCompleter(steps ...Step) *ScriptedCompleter {
	return &ScriptedCompleter{steps: steps}
}

// Push appends more steps to the script.
func (s *ScriptedCompleter) Push(steps ...Step) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steps = append(s.steps, steps...)
}

// Complete implements llmio.Completer.
func (s *ScriptedCompleter) Complete(ctx context.Context, req llmio.CompletionRequest) (llmio.AssistantTurn, error) {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	if len(s.steps) == 0 {
		s.mu.Unlock()
		return llmio.AssistantTurn{}, ErrScriptExhausted
	}
	step := s.steps[0]
	s.steps = s.steps[1:]
	s.mu.Unlock()

	if step.Delay > 0 {
		t := time.NewTimer(step.Delay)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return llmio.AssistantTurn{}, ctx.Err()
		}
	}
	if step.Err != nil {
		return llmio.AssistantTurn{}, step.Err
	}
	return step.Turn, nil
}

// Requests returns the requests received so far.
func (s *ScriptedCompleter) Requests() []llmio.CompletionRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]llmio.CompletionRequest, len(s.requests))
	copy(out, s.requests)
	return out
}

// Remaining returns the number of steps not yet replayed.
func (s *ScriptedCompleter) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.steps)
}

var _ llmio.Completer = (*ScriptedCompleter)(nil)
