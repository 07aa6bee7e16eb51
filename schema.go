package llmio

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"reflect"
	"slices"
	"strings"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"
)

// typeRegistry maps Go types to the schema used wherever they appear in tool arguments.
type typeRegistry struct {
	mu      sync.RWMutex
	schemas map[reflect.Type]*jsonschema.Schema
}

func (r *typeRegistry) set(t reflect.Type, s *jsonschema.Schema) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.schemas[t] = s
}

// snapshot returns deep copies, safe to hand to jsonschema.ForOptions.
func (r *typeRegistry) snapshot() map[reflect.Type]*jsonschema.Schema {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[reflect.Type]*jsonschema.Schema, len(r.schemas))
	for t, s := range r.schemas {
		out[t] = s.CloneSchemas()
	}
	return out
}

var customTypes = &typeRegistry{schemas: make(map[reflect.Type]*jsonschema.Schema)}

// RegisterType makes every field of the type of sample render as {"type": jsonType, "format": format}
// in tool schemas, e.g. RegisterType(uuid.UUID{}, "string", "uuid"). Pointer fields use the same
// mapping. It panics on a nil sample or an empty jsonType.
// Register types during startup, before the tools using them are built.
func RegisterType(sample any, jsonType, format string) {
	if sample == nil {
		panic("llmio: RegisterType sample must not be nil")
	}
	if jsonType == "" {
		panic("llmio: RegisterType jsonType must not be empty")
	}
	customTypes.set(reflect.TypeOf(sample), &jsonschema.Schema{Type: jsonType, Format: format})
}

var errNilSchema = errors.New("schema reflection returned nil")

// generated is what a tool keeps from its argument type: the schema shown to the model,
// the validator compiled from that same schema and the declared parameters.
type generated struct {
	schemaMap map[string]any
	resolved  *jsonschema.Resolved
	params    []Param
}

// generateSchema reflects T, which must be a struct or a map keyed by strings.
func generateSchema[T any](strict bool) (*generated, error) {
	typ := reflect.TypeFor[T]()
	if !isObjectType(typ) {
		return nil, fmt.Errorf("arguments must be an object, got %s", typ)
	}
	s, err := jsonschema.For[T](&jsonschema.ForOptions{TypeSchemas: customTypes.snapshot()})
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, errNilSchema
	}
	schemaMap, err := reshape[map[string]any](s)
	if err != nil {
		return nil, err
	}
	// A pointer T renders as ["null","object"]; arguments are always an object.
	schemaMap["type"] = "object"
	if props, ok := schemaMap["properties"].(map[string]any); ok {
		applyFieldTags(props, typ)
	}
	resolved, err := finishSchema(schemaMap, strict)
	if err != nil {
		return nil, err
	}
	params := paramsFromSchema(s)
	if strict {
		for i := range params {
			params[i].Required = true
		}
	}
	return &generated{schemaMap: schemaMap, resolved: resolved, params: params}, nil
}

func isObjectType(t reflect.Type) bool {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	switch t.Kind() {
	case reflect.Struct:
		return true
	case reflect.Map:
		return t.Key().Kind() == reflect.String
	default:
		return false
	}
}

// finishSchema applies strict mode, drops ids and compiles schemaMap in place.
func finishSchema(schemaMap map[string]any, strict bool) (*jsonschema.Resolved, error) {
	if strict {
		applyStrictMode(schemaMap)
	}
	eachNode(schemaMap, func(n map[string]any) {
		delete(n, "id")
		delete(n, "$id")
	})
	compiled, err := reshape[jsonschema.Schema](schemaMap)
	if err != nil {
		return nil, err
	}
	return compiled.Resolve(nil)
}

// applyStrictMode closes every object (additionalProperties: false) and requires all of
// its properties.
func applyStrictMode(schemaMap map[string]any) {
	eachNode(schemaMap, func(n map[string]any) {
		props, ok := n["properties"].(map[string]any)
		if !ok {
			return
		}
		n["additionalProperties"] = false
		if len(props) == 0 {
			return
		}
		var required []any
		for _, name := range slices.Sorted(maps.Keys(props)) {
			required = append(required, name)
		}
		n["required"] = required
	})
}

// Keywords whose values hold subschemas. Property names are data, never nodes.
var (
	subschemaKeywords = []string{
		"items", "additionalItems", "additionalProperties", "unevaluatedItems",
		"unevaluatedProperties", "propertyNames", "contains", "not", "if", "then", "else",
	}
	subschemaListKeywords = []string{"allOf", "anyOf", "oneOf", "prefixItems", "items"}
	subschemaMapKeywords  = []string{"properties", "patternProperties", "$defs", "definitions", "dependentSchemas"}
)

// eachNode calls fn for every schema node of the tree, root first. It follows schema
// keywords only, so a properties map is never passed to fn itself.
func eachNode(root map[string]any, fn func(map[string]any)) {
	stack := []map[string]any{root}
	push := func(v any) {
		if m, ok := v.(map[string]any); ok && m != nil {
			stack = append(stack, m)
		}
	}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if n == nil {
			continue
		}
		fn(n)
		for _, k := range subschemaKeywords {
			push(n[k])
		}
		for _, k := range subschemaListKeywords {
			list, _ := n[k].([]any)
			for _, item := range list {
				push(item)
			}
		}
		for _, k := range subschemaMapKeywords {
			byName, _ := n[k].(map[string]any)
			for _, name := range slices.Sorted(maps.Keys(byName)) {
				push(byName[name])
			}
		}
	}
}

// applyFieldTags copies the description:"..." and enum:"a,b" struct tags of typ onto the
// matching root properties.
func applyFieldTags(props map[string]any, typ reflect.Type) {
	for typ.Kind() == reflect.Pointer {
		typ = typ.Elem()
	}
	if typ.Kind() != reflect.Struct {
		return
	}
	for _, f := range reflect.VisibleFields(typ) {
		if !f.IsExported() || f.Anonymous {
			continue
		}
		prop, ok := props[jsonFieldName(f)].(map[string]any)
		if !ok {
			continue
		}
		if desc := f.Tag.Get("description"); desc != "" {
			prop["description"] = desc
		}
		if enum := f.Tag.Get("enum"); enum != "" {
			var values []any
			for v := range strings.SplitSeq(enum, ",") {
				values = append(values, strings.TrimSpace(v))
			}
			prop["enum"] = values
		}
	}
}

func jsonFieldName(f reflect.StructField) string {
	name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
	switch name {
	case "-":
		return ""
	case "":
		return f.Name
	default:
		return name
	}
}

// paramsFromSchema lists the root properties in field order.
func paramsFromSchema(s *jsonschema.Schema) []Param {
	names := s.PropertyOrder
	if len(names) == 0 {
		names = slices.Sorted(maps.Keys(s.Properties))
	}
	params := make([]Param, 0, len(names))
	for _, name := range names {
		prop, ok := s.Properties[name]
		if !ok {
			continue
		}
		params = append(params, Param{
			Name:     name,
			Type:     schemaTypeName(prop),
			Required: slices.Contains(s.Required, name),
		})
	}
	return params
}

// paramsFromMap lists the root properties of a raw schema, sorted by name.
func paramsFromMap(schemaMap map[string]any) []Param {
	props, _ := schemaMap["properties"].(map[string]any)
	required := map[string]bool{}
	switch req := schemaMap["required"].(type) {
	case []any:
		for _, r := range req {
			if name, ok := r.(string); ok {
				required[name] = true
			}
		}
	case []string:
		for _, name := range req {
			required[name] = true
		}
	}
	params := make([]Param, 0, len(props))
	for _, name := range slices.Sorted(maps.Keys(props)) {
		p := Param{Name: name, Required: required[name]}
		if prop, ok := props[name].(map[string]any); ok {
			p.Type, _ = prop["type"].(string)
		}
		params = append(params, p)
	}
	return params
}

func schemaTypeName(s *jsonschema.Schema) string {
	if s == nil {
		return ""
	}
	if s.Type != "" {
		return s.Type
	}
	for _, t := range s.Types {
		if t != "null" {
			return t
		}
	}
	return ""
}

// reshape converts a JSON-compatible value into T through its JSON encoding.
// It also serves as a deep copy of schema maps.
func reshape[T any](v any) (T, error) {
	var out T
	data, err := json.Marshal(v)
	if err != nil {
		return out, err
	}
	err = json.Unmarshal(data, &out)
	return out, err
}
