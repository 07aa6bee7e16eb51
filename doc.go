// Package llmio orchestrates a conversation between an application and a
// chat-completion model that may call Go functions registered as tools.
//
// # Overview
//
// The model answers with text, with tool calls, or with both. Agent.Speak keeps
// calling the model until it answers without tool calls:
//
//	user text → Completer → assistant turn → Registry.Invoke (per call) → tool results → Completer → ...
//
// Every step is appended to an append-only History that is returned to the caller
// in SpeakResult and may seed a later Speak call to continue the conversation.
//
// # Key concepts
//
//   - Single Source of Truth: the argument struct of a tool drives both the JSON Schema
//     shown to the model and the validation of the arguments the model sends back.
//   - Containment: unknown tools, invalid arguments, tool errors, panics and timeouts
//     become tool-result text for the model. Only provider and registration failures
//     are returned to the caller.
//   - Ordering: one tool result per requested call, appended in request order, even
//     when calls run in parallel (WithParallelToolCalls).
//   - Caller context: NewContextTool receives a value passed with WithCallerContext.
//     It never appears in the schema and is never sent to the model.
//
// # Example
//
//	type AddArgs struct {
//	    A float64 `json:"a"`
//	    B float64 `json:"b"`
//	}
//	add, err := llmio.NewTool("add", "Add two numbers", func(_ context.Context, a AddArgs) (float64, error) {
//	    return a.A + a.B, nil
//	})
//	if err != nil { ... }
//	agent := llmio.NewAgent(completer, llmio.WithInstruction("You are a calculator."))
//	if err := agent.Register(add); err != nil { ... }
//	res, err := agent.Speak(ctx, "How much is 1 + 1?")
//	res, err = agent.Speak(ctx, "And times two?", llmio.WithHistory(res.History))
package llmio
