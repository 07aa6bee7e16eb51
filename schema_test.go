package llmio

import (
	"encoding/json"
	"maps"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// withCleanTypeRegistry restores the custom type registry when t ends.
// Tests using it must not run in parallel.
func withCleanTypeRegistry(t *testing.T) {
	t.Helper()
	customTypes.mu.Lock()
	saved := maps.Clone(customTypes.schemas)
	customTypes.mu.Unlock()
	t.Cleanup(func() {
		customTypes.mu.Lock()
		customTypes.schemas = saved
		customTypes.mu.Unlock()
	})
}

func property(t *testing.T, schemaMap map[string]any, name string) map[string]any {
	t.Helper()
	props, ok := schemaMap["properties"].(map[string]any)
	require.True(t, ok, "schema has no properties: %v", schemaMap)
	prop, ok := props[name].(map[string]any)
	require.True(t, ok, "property %q missing", name)
	return prop
}

type forecastArgs struct {
	City  string `json:"city" jsonschema:"City name"`
	Days  int    `json:"days,omitempty" description:"Forecast length in days"`
	Unit  string `json:"unit" enum:"celsius, fahrenheit"`
	Debug bool   `json:"-"`
}

func TestGenerateSchema_Forecast(t *testing.T) {
	g, err := generateSchema[forecastArgs](false)
	require.NoError(t, err)
	require.NotNil(t, g.resolved)

	assert.Equal(t, "object", g.schemaMap["type"])
	assert.Equal(t, "City name", property(t, g.schemaMap, "city")["description"])
	assert.Equal(t, "Forecast length in days", property(t, g.schemaMap, "days")["description"])
	assert.Equal(t, []any{"celsius", "fahrenheit"}, property(t, g.schemaMap, "unit")["enum"])
	assert.NotContains(t, g.schemaMap["properties"], "Debug")

	assert.Equal(t, []Param{
		{Name: "city", Type: "string", Required: true},
		{Name: "days", Type: "integer"},
		{Name: "unit", Type: "string", Required: true},
	}, g.params)
}

func TestGenerateSchema_Validates(t *testing.T) {
	g, err := generateSchema[forecastArgs](false)
	require.NoError(t, err)
	tests := []struct {
		name  string
		input string
		ok    bool
	}{
		{"valid", `{"city":"Oslo","unit":"celsius"}`, true},
		{"with optional", `{"city":"Oslo","unit":"celsius","days":3}`, true},
		{"bad enum", `{"city":"Oslo","unit":"kelvin"}`, false},
		{"wrong type", `{"city":1,"unit":"celsius"}`, false},
		{"missing required", `{"unit":"celsius"}`, false},
		{"extra property", `{"city":"Oslo","unit":"celsius","x":1}`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var instance any
			require.NoError(t, json.Unmarshal([]byte(tt.input), &instance))
			err := g.resolved.Validate(instance)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestGenerateSchema_RejectsNonObjects(t *testing.T) {
	_, err := generateSchema[int](false)
	require.Error(t, err)
	_, err = generateSchema[[]string](false)
	require.Error(t, err)
	_, err = generateSchema[map[int]string](false)
	require.Error(t, err)

	_, err = generateSchema[map[string]any](false)
	require.NoError(t, err)
	g, err := generateSchema[*forecastArgs](false)
	require.NoError(t, err)
	assert.Equal(t, "object", g.schemaMap["type"], "a pointer argument type is still an object")
}

func TestGenerateSchema_StrictClosesEveryObject(t *testing.T) {
	type Address struct {
		Street string `json:"street"`
		Zip    string `json:"zip,omitempty"`
	}
	type Order struct {
		ID      string  `json:"id"`
		Note    string  `json:"note,omitempty"`
		Address Address `json:"address"`
	}
	g, err := generateSchema[Order](true)
	require.NoError(t, err)

	objects := 0
	eachNode(g.schemaMap, func(n map[string]any) {
		props, ok := n["properties"].(map[string]any)
		if !ok {
			return
		}
		objects++
		assert.Equal(t, false, n["additionalProperties"])
		assert.ElementsMatch(t, slices.Collect(maps.Keys(props)), n["required"])
	})
	assert.Equal(t, 2, objects)
	assert.Equal(t, []any{"address", "id", "note"}, g.schemaMap["required"])
	assert.Equal(t, "string", property(t, g.schemaMap, "id")["type"])
	for _, p := range g.params {
		assert.True(t, p.Required, p.Name)
	}
	assert.NoError(t, g.resolved.Validate(map[string]any{
		"id":      "42",
		"note":    "",
		"address": map[string]any{"street": "Main", "zip": "1"},
	}))
}

func TestGenerateSchema_NestedTypesAreInlined(t *testing.T) {
	type Leaf struct {
		A string `json:"a"`
	}
	type Root struct {
		L     Leaf   `json:"l"`
		Items []Leaf `json:"items"`
	}
	g, err := generateSchema[Root](false)
	require.NoError(t, err)
	assert.NotContains(t, g.schemaMap, "$defs")
	eachNode(g.schemaMap, func(n map[string]any) {
		assert.NotContains(t, n, "$ref")
		assert.NotContains(t, n, "$id")
	})
}

func TestEachNode_FollowsSchemaKeywordsOnly(t *testing.T) {
	m := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"properties": map[string]any{"type": "string"},
			"list": map[string]any{
				"type":  "array",
				"items": map[string]any{"type": "integer"},
			},
		},
		"$defs": map[string]any{"d": map[string]any{"type": "boolean"}},
		"anyOf": []any{map[string]any{"type": "null"}},
		"enum":  []any{map[string]any{"type": "not a schema"}},
		"default": map[string]any{"type": "not a schema"},
	}
	var types []any
	eachNode(m, func(n map[string]any) { types = append(types, n["type"]) })
	assert.ElementsMatch(t, []any{"object", "string", "array", "integer", "boolean", "null"}, types)
}

func TestApplyStrictMode(t *testing.T) {
	m := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"b": map[string]any{
				"type":       "object",
				"properties": map[string]any{"c": map[string]any{"type": "integer"}},
			},
			"a": map[string]any{"type": "string"},
		},
	}
	applyStrictMode(m)
	assert.Equal(t, false, m["additionalProperties"])
	assert.Equal(t, []any{"a", "b"}, m["required"])
	nested := m["properties"].(map[string]any)["b"].(map[string]any)
	assert.Equal(t, false, nested["additionalProperties"])
	assert.Equal(t, []any{"c"}, nested["required"])
}

func TestFinishSchema_DropsIDs(t *testing.T) {
	m := map[string]any{
		"$id":  "https://example.com/args",
		"type": "object",
		"properties": map[string]any{
			"x":  map[string]any{"id": "x", "type": "integer"},
			"id": map[string]any{"type": "string"},
			"items": map[string]any{
				"type":  "array",
				"items": map[string]any{"$id": "item", "type": "string"},
			},
		},
		"required": []any{"id"},
	}
	r, err := finishSchema(m, true)
	require.NoError(t, err)
	assert.NotContains(t, m, "$id")
	assert.NotContains(t, property(t, m, "x"), "id")
	assert.NotContains(t, property(t, m, "items")["items"], "$id")
	assert.Equal(t, "string", property(t, m, "id")["type"], "a property named id is kept")
	assert.Equal(t, []any{"id", "items", "x"}, m["required"])
	assert.NoError(t, r.Validate(map[string]any{"x": 1.0, "id": "a", "items": []any{"b"}}))
}

func TestParamsFromMap(t *testing.T) {
	params := paramsFromMap(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"b": map[string]any{"type": "integer"},
			"a": map[string]any{"type": "string"},
		},
		"required": []any{"b"},
	})
	assert.Equal(t, []Param{
		{Name: "a", Type: "string"},
		{Name: "b", Type: "integer", Required: true},
	}, params)
	assert.Equal(t, []Param{{Name: "q", Required: true}}, paramsFromMap(map[string]any{
		"properties": map[string]any{"q": true},
		"required":   []string{"q"},
	}))
	assert.Empty(t, paramsFromMap(map[string]any{}))
}

func TestReshape_DeepCopies(t *testing.T) {
	src := map[string]any{"properties": map[string]any{"x": map[string]any{"type": "integer"}}}
	cp, err := reshape[map[string]any](src)
	require.NoError(t, err)
	property(t, cp, "x")["type"] = "string"
	assert.Equal(t, "integer", property(t, src, "x")["type"])

	_, err = reshape[map[string]any](map[string]any{"f": func() {}})
	require.Error(t, err)
}

type money struct{}

func TestRegisterType(t *testing.T) {
	withCleanTypeRegistry(t)
	RegisterType(money{}, "number", "decimal")
	type Args struct {
		Price    money  `json:"price"`
		Discount *money `json:"discount,omitempty"`
	}
	g, err := generateSchema[Args](false)
	require.NoError(t, err)

	price := property(t, g.schemaMap, "price")
	assert.Equal(t, "number", price["type"])
	assert.Equal(t, "decimal", price["format"])

	// pointer fields may render "type" as a string or as ["null", "number"]
	discount := property(t, g.schemaMap, "discount")
	switch typ := discount["type"].(type) {
	case string:
		assert.Equal(t, "number", typ)
	case []any:
		assert.Contains(t, typ, "number")
	default:
		t.Fatalf("unexpected type %v", discount["type"])
	}
	assert.Equal(t, "decimal", discount["format"])
}

func TestRegisterType_InvalidArgs_Panic(t *testing.T) {
	withCleanTypeRegistry(t)
	assert.Panics(t, func() { RegisterType(nil, "string", "uuid") })
	assert.Panics(t, func() { RegisterType(money{}, "", "uuid") })
}

func FuzzValidate(f *testing.F) {
	g, err := generateSchema[forecastArgs](false)
	if err != nil {
		f.Skip("generateSchema failed")
	}
	f.Add([]byte(`{"city":"Oslo","unit":"celsius"}`))
	f.Add([]byte(`{}`))
	f.Add([]byte(`{"days":"y"}`))
	f.Fuzz(func(_ *testing.T, data []byte) {
		var instance any
		_ = json.Unmarshal(data, &instance)
		_ = g.resolved.Validate(instance)
	})
}
