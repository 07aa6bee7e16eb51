package llmio

import (
	"encoding/json"
	"maps"
	"reflect"
	"slices"

	"github.com/google/jsonschema-go/jsonschema"
)

// Validatable is implemented by argument types with rules the schema cannot express.
// Validate runs after the arguments passed schema validation and were decoded; a returned
// *ClientError is forwarded as is, any other error becomes the Reason of one.
type Validatable interface {
	Validate() error
}

// Extractor decodes and validates tool arguments of type T against the schema derived
// from T. NewTool and NewContextTool use one internally; custom Tool implementations can
// use it directly.
type Extractor[T any] struct {
	schemaMap map[string]any
	resolved  *jsonschema.Resolved
	params    []Param
}

// NewExtractor derives the schema of T. With strict set every object is closed and every
// property required.
func NewExtractor[T any](strict bool) (*Extractor[T], error) {
	g, err := generateSchema[T](strict)
	if err != nil {
		return nil, err
	}
	return &Extractor[T]{schemaMap: g.schemaMap, resolved: g.resolved, params: g.params}, nil
}

// Schema returns the model-visible schema. Only the top level is copied.
func (e *Extractor[T]) Schema() map[string]any { return maps.Clone(e.schemaMap) }

// Params returns the declared parameters in field order.
func (e *Extractor[T]) Params() []Param { return slices.Clone(e.params) }

// ParseAndValidate checks argsJSON against the schema, decodes it into T and runs
// Validatable. Every failure is a *ClientError wrapping ErrValidation, worded for the
// model. Empty input counts as {}.
func (e *Extractor[T]) ParseAndValidate(argsJSON []byte) (T, error) {
	var args T
	if len(argsJSON) == 0 {
		argsJSON = []byte("{}")
	}
	var instance any
	if err := json.Unmarshal(argsJSON, &instance); err != nil {
		return args, wrapJSONParseError(err)
	}
	if err := validateInstance(e.resolved, instance); err != nil {
		return args, err
	}
	if err := json.Unmarshal(argsJSON, &args); err != nil {
		return args, wrapJSONParseError(err)
	}
	if err := validateArgs(&args); err != nil {
		var zero T
		return zero, err
	}
	return args, nil
}

// validateArgs calls Validate on *p when T implements Validatable, otherwise on p, so
// value and pointer receivers both work and Validate runs at most once.
func validateArgs[T any](p *T) error {
	var err error
	switch v := any(*p).(type) {
	case nil:
		return nil
	case Validatable:
		if rv := reflect.ValueOf(v); rv.Kind() == reflect.Pointer && rv.IsNil() {
			return nil
		}
		err = v.Validate()
	default:
		if pv, ok := any(p).(Validatable); ok {
			err = pv.Validate()
		}
	}
	if err == nil || IsClientError(err) {
		return err
	}
	return &ClientError{Reason: err.Error(), Err: ErrValidation}
}

// validateInstance reports a schema violation of instance as a ClientError.
func validateInstance(r *jsonschema.Resolved, instance any) error {
	if err := r.Validate(instance); err != nil {
		return &ClientError{Reason: err.Error(), Err: ErrValidation}
	}
	return nil
}
