package llmio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"reflect"
	"slices"
	"time"
)

// tool is the internal implementation of Tool built by NewTool, NewContextTool, or NewDynamicTool.
type tool struct {
	name        string
	description string
	schema      map[string]any
	params      []Param
	execute     func(ctx context.Context, argsJSON []byte, caller any) (string, error)
	opts        toolOptions
}

// NewTool builds a Tool from a typed function. The schema shown to the model is derived
// once from T; Execute validates the arguments against it, calls fn and renders the result
// (strings verbatim, anything else as JSON).
// Returns a *SchemaError if T cannot be described as a JSON object.
func NewTool[T any, R any](
	name, description string,
	fn func(ctx context.Context, args T) (R, error),
	opts ...ToolOption,
) (Tool, error) {
	o := newToolOptions(opts)
	ext, err := NewExtractor[T](o.strict)
	if err != nil {
		return nil, &SchemaError{Tool: name, Err: err}
	}
	execute := func(ctx context.Context, argsJSON []byte, _ any) (string, error) {
		args, err := ext.ParseAndValidate(argsJSON)
		if err != nil {
			return "", argumentError(name, err)
		}
		res, err := fn(ctx, args)
		if err != nil {
			return "", wrapHandlerError(name, err)
		}
		return renderResult(name, res)
	}
	return &tool{
		name:        name,
		description: description,
		schema:      ext.Schema(),
		params:      ext.Params(),
		execute:     execute,
		opts:        o,
	}, nil
}

// NewContextTool builds a Tool whose function also receives the caller context passed to
// Speak with WithCallerContext. The context is declared as a parameter flagged Context
// (named by WithContextParam) and is never part of the model-visible schema.
// When Speak is called without a caller context, fn receives the zero value of C.
func NewContextTool[C any, T any, R any](
	name, description string,
	fn func(ctx context.Context, caller C, args T) (R, error),
	opts ...ToolOption,
) (Tool, error) {
	o := newToolOptions(opts)
	if o.contextParam == "" {
		return nil, &SchemaError{Tool: name, Err: errors.New("context parameter name must not be empty")}
	}
	ext, err := NewExtractor[T](o.strict)
	if err != nil {
		return nil, &SchemaError{Tool: name, Err: err}
	}
	params := ext.Params()
	for _, p := range params {
		if p.Name == o.contextParam {
			return nil, &SchemaError{Tool: name, Err: fmt.Errorf("parameter %q collides with the context parameter", p.Name)}
		}
	}
	params = append(params, Param{
		Name:    o.contextParam,
		Type:    reflect.TypeFor[C]().String(),
		Context: true,
	})
	execute := func(ctx context.Context, argsJSON []byte, caller any) (string, error) {
		args, err := ext.ParseAndValidate(argsJSON)
		if err != nil {
			return "", argumentError(name, err)
		}
		c, err := callerAs[C](name, caller)
		if err != nil {
			return "", err
		}
		res, err := fn(ctx, c, args)
		if err != nil {
			return "", wrapHandlerError(name, err)
		}
		return renderResult(name, res)
	}
	return &tool{
		name:        name,
		description: description,
		schema:      ext.Schema(),
		params:      params,
		execute:     execute,
		opts:        o,
	}, nil
}

// NewDynamicTool creates a Tool from a raw JSON Schema map and a function that receives
// the validated JSON. Useful when the schema is only known at runtime.
// schemaMap is copied before WithStrict or any other change is applied.
func NewDynamicTool(
	name, description string,
	schemaMap map[string]any,
	fn func(ctx context.Context, argsJSON []byte) (string, error),
	opts ...ToolOption,
) (Tool, error) {
	o := newToolOptions(opts)
	if schemaMap == nil {
		return nil, &SchemaError{Tool: name, Err: errors.New("dynamic schema map must not be nil")}
	}
	if fn == nil {
		return nil, &SchemaError{Tool: name, Err: errors.New("dynamic tool handler must not be nil")}
	}
	schemaCopy, err := reshape[map[string]any](schemaMap)
	if err != nil {
		return nil, &SchemaError{Tool: name, Err: fmt.Errorf("copy schema map: %w", err)}
	}
	if t, ok := schemaCopy["type"]; ok && t != "object" {
		return nil, &SchemaError{Tool: name, Err: fmt.Errorf("arguments must be an object, got %v", t)}
	}
	schemaCopy["type"] = "object"
	compiled, err := finishSchema(schemaCopy, o.strict)
	if err != nil {
		return nil, &SchemaError{Tool: name, Err: fmt.Errorf("compile dynamic schema: %w", err)}
	}
	execute := func(ctx context.Context, argsJSON []byte, _ any) (string, error) {
		if len(argsJSON) == 0 {
			argsJSON = []byte("{}")
		}
		var v any
		if err := json.Unmarshal(argsJSON, &v); err != nil {
			return "", argumentError(name, wrapJSONParseError(err))
		}
		if err := validateInstance(compiled, v); err != nil {
			return "", argumentError(name, err)
		}
		out, err := fn(ctx, argsJSON)
		if err != nil {
			return "", wrapHandlerError(name, err)
		}
		return out, nil
	}
	return &tool{
		name:        name,
		description: description,
		schema:      schemaCopy,
		params:      paramsFromMap(schemaCopy),
		execute:     execute,
		opts:        o,
	}, nil
}

func (t *tool) Name() string        { return t.name }
func (t *tool) Description() string { return t.description }

// Parameters returns a shallow copy of the JSON Schema (top-level keys only).
// Nested maps (e.g. under "properties") are shared; callers must not mutate them.
func (t *tool) Parameters() map[string]any { return maps.Clone(t.schema) }

func (t *tool) Execute(ctx context.Context, argsJSON []byte, caller any) (string, error) {
	return t.execute(ctx, argsJSON, caller)
}

func (t *tool) Timeout() time.Duration { return t.opts.timeout }
func (t *tool) Mode() Mode             { return t.opts.mode }
func (t *tool) Params() []Param        { return slices.Clone(t.params) }

// callerAs converts the caller context to the type a context tool declared.
func callerAs[C any](name string, caller any) (C, error) {
	var zero C
	if caller == nil {
		return zero, nil
	}
	c, ok := caller.(C)
	if !ok {
		return zero, &ToolExecutionError{
			Tool: name,
			Err:  fmt.Errorf("caller context of type %T is not a %s", caller, reflect.TypeFor[C]()),
		}
	}
	return c, nil
}

// renderResult turns a tool return value into the text of its tool-result message.
func renderResult(name string, v any) (string, error) {
	switch x := v.(type) {
	case string:
		return x, nil
	case json.RawMessage:
		return string(x), nil
	case []byte:
		return string(x), nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", &ToolExecutionError{Tool: name, Err: fmt.Errorf("encode result: %w", err)}
	}
	return string(b), nil
}

// argumentError converts a parse/validation ClientError into an ArgumentValidationError.
func argumentError(name string, err error) error {
	var ce *ClientError
	if errors.As(err, &ce) {
		return &ArgumentValidationError{Tool: name, Reason: ce.Reason}
	}
	return &ArgumentValidationError{Tool: name, Reason: err.Error()}
}

// wrapHandlerError passes through errors that are already classified; wraps other errors
// as ToolExecutionError.
func wrapHandlerError(name string, err error) error {
	if err == nil {
		return nil
	}
	var (
		te *ToolExecutionError
		ae *ArgumentValidationError
		ue *UnknownToolError
	)
	if IsClientError(err) || errors.As(err, &te) || errors.As(err, &ae) || errors.As(err, &ue) {
		return err
	}
	return &ToolExecutionError{Tool: name, Err: err}
}

var (
	_ Tool         = (*tool)(nil)
	_ ToolMetadata = (*tool)(nil)
)
