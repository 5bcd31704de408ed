package validation

import "testing"

func mustValidator(t *testing.T, schema map[string]any) *Validator {
	t.Helper()
	v, err := New(schema)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return v
}

func TestRequiredAndTypeChecks(t *testing.T) {
	schema := map[string]any{
		"type":     "object",
		"required": []any{"name", "age"},
		"properties": map[string]any{
			"name": map[string]any{"type": "string"},
			"age":  map[string]any{"type": "integer", "minimum": float64(0)},
		},
	}
	v := mustValidator(t, schema)

	ok := v.Validate(map[string]any{"name": "a", "age": float64(5)})
	if !ok.OK() {
		t.Fatalf("expected valid instance, got errors: %v", ok.Errors)
	}

	bad := v.Validate(map[string]any{"age": float64(-1)})
	if bad.OK() {
		t.Fatalf("expected missing-required and out-of-range errors")
	}
	if len(bad.Errors) < 2 {
		t.Fatalf("expected at least 2 errors, got %v", bad.Errors)
	}
}

func TestAdditionalPropertiesFalseRejectsExtras(t *testing.T) {
	schema := map[string]any{
		"type":                 "object",
		"properties":           map[string]any{"a": map[string]any{"type": "string"}},
		"additionalProperties": false,
	}
	v := mustValidator(t, schema)
	r := v.Validate(map[string]any{"a": "x", "b": "y"})
	if r.OK() {
		t.Fatalf("expected additional property rejection")
	}
}

func TestRefResolvesLocalDefinitions(t *testing.T) {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"child": map[string]any{"$ref": "#/definitions/Named"},
		},
		"definitions": map[string]any{
			"Named": map[string]any{
				"type":     "object",
				"required": []any{"name"},
				"properties": map[string]any{
					"name": map[string]any{"type": "string"},
				},
			},
		},
	}
	v := mustValidator(t, schema)
	ok := v.Validate(map[string]any{"child": map[string]any{"name": "x"}})
	if !ok.OK() {
		t.Fatalf("expected valid, got %v", ok.Errors)
	}
	bad := v.Validate(map[string]any{"child": map[string]any{}})
	if bad.OK() {
		t.Fatalf("expected missing required field inside $ref target to fail")
	}
}

func TestOneOfExactlyOneMatch(t *testing.T) {
	schema := map[string]any{
		"oneOf": []any{
			map[string]any{"type": "string"},
			map[string]any{"type": "number"},
		},
	}
	v := mustValidator(t, schema)
	if !v.Validate("x").OK() {
		t.Fatalf("expected string to satisfy exactly one branch")
	}
	if v.Validate(true).OK() {
		t.Fatalf("expected boolean to satisfy no branch")
	}
}
