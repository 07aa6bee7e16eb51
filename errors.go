package llmio

import (
	"errors"
	"fmt"
)

// Sentinel errors for llmio. Use errors.Is to check.
var (
	ErrToolNotFound   = errors.New("tool not found")
	ErrDuplicateTool  = errors.New("tool already registered")
	ErrSchema         = errors.New("unsupported tool schema")
	ErrValidation     = errors.New("validation failed")
	ErrTimeout        = errors.New("tool execution timeout")
	ErrCancelled      = errors.New("tool call cancelled")
	ErrShutdown       = errors.New("registry is shutting down")
	ErrMaxTurns       = errors.New("maximum number of turns reached")
	ErrInvalidHistory = errors.New("invalid conversation history")
)

// SchemaError reports a tool whose parameters cannot be described to the model.
// Returned at construction or registration time.
type SchemaError struct {
	Tool string
	Err  error
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("tool %q: %v: %v", e.Tool, ErrSchema, e.Err)
}

func (e *SchemaError) Unwrap() []error { return []error{ErrSchema, e.Err} }

// DuplicateToolError is returned by Register when the name is already taken.
type DuplicateToolError struct {
	Name string
}

func (e *DuplicateToolError) Error() string {
	return fmt.Sprintf("tool %q: %v", e.Name, ErrDuplicateTool)
}

func (e *DuplicateToolError) Unwrap() error { return ErrDuplicateTool }

// UnknownToolError is produced when the model calls a tool that is not registered.
type UnknownToolError struct {
	Name string
}

func (e *UnknownToolError) Error() string {
	return fmt.Sprintf("unknown tool %q", e.Name)
}

func (e *UnknownToolError) Unwrap() error { return ErrToolNotFound }

// ClientError is an error that should be sent back to the model for self-correction
// (e.g. invalid JSON, schema validation failure, bad enum value). Tool bodies may return
// one to have Reason forwarded verbatim.
// Err optionally wraps a sentinel (e.g. ErrValidation) for errors.Is/errors.As.
type ClientError struct {
	Reason string
	Err    error
}

func (e *ClientError) Error() string {
	return fmt.Sprintf("invalid tool input: %s", e.Reason)
}

func (e *ClientError) Unwrap() error { return e.Err }

// ArgumentValidationError reports arguments that do not match the tool schema.
type ArgumentValidationError struct {
	Tool   string
	Reason string
}

func (e *ArgumentValidationError) Error() string {
	return fmt.Sprintf("invalid arguments for tool %q: %s", e.Tool, e.Reason)
}

func (e *ArgumentValidationError) Unwrap() error { return ErrValidation }

// ToolExecutionError wraps a failure of the tool body: a returned error, a panic
// or a timeout.
type ToolExecutionError struct {
	Tool string
	Err  error
}

func (e *ToolExecutionError) Error() string {
	return fmt.Sprintf("tool %q failed: %v", e.Tool, e.Err)
}

func (e *ToolExecutionError) Unwrap() error { return e.Err }

// ProviderError is a failure at the completion-provider boundary. It ends the current
// Speak call. Retryable is set by adapters for rate limits and transient server errors.
type ProviderError struct {
	Provider   string
	StatusCode int
	Retryable  bool
	Err        error
}

func (e *ProviderError) Error() string {
	switch {
	case e.Provider != "" && e.StatusCode != 0:
		return fmt.Sprintf("provider %s: status %d: %v", e.Provider, e.StatusCode, e.Err)
	case e.Provider != "":
		return fmt.Sprintf("provider %s: %v", e.Provider, e.Err)
	default:
		return fmt.Sprintf("provider: %v", e.Err)
	}
}

func (e *ProviderError) Unwrap() error { return e.Err }

// IsClientError returns true if err is or wraps a ClientError.
func IsClientError(err error) bool {
	var ce *ClientError
	return errors.As(err, &ce)
}

// IsProviderError returns true if err is or wraps a ProviderError.
func IsProviderError(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe)
}

// IsRetryable reports whether err is a ProviderError marked retryable.
func IsRetryable(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Retryable
}

// ErrorText renders a contained error as the content of a tool-result message.
func ErrorText(err error) string {
	if err == nil {
		return ""
	}
	var ce *ClientError
	if errors.As(err, &ce) {
		return "error: " + ce.Reason
	}
	return "error: " + err.Error()
}

// wrapJSONParseError returns a ClientError for JSON unmarshal failures.
// Used by Extractor.ParseAndValidate and NewDynamicTool so parse errors are consistent.
func wrapJSONParseError(err error) error {
	return &ClientError{Reason: "json parse error: " + err.Error(), Err: ErrValidation}
}
