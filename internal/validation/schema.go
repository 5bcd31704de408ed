// Package validation implements the recursive JSON-Schema Draft-07
// subset validator used by the registry validator (spec.md §4.2),
// generalized from the teacher's internal/validation/schema_validator.go
// map-walking style to an arbitrary stored manifest.
package validation

import (
	"fmt"
	"strconv"
)

// MaxRecursionDepth bounds schema recursion, spec.md §4.2 ("Recursion
// depth is capped (>= 64) to bound stack use").
const MaxRecursionDepth = 64

// Error is one validation failure, with a JSON-Pointer-like path for
// diagnostics.
type Error struct {
	Path    string
	Message string
}

func (e Error) Error() string { return fmt.Sprintf("%s: %s", e.Path, e.Message) }

// Report aggregates every failure found during one Validate call.
type Report struct {
	Errors []Error
}

func (r *Report) add(path, msg string) {
	r.Errors = append(r.Errors, Error{Path: path, Message: msg})
}

func (r *Report) OK() bool { return len(r.Errors) == 0 }

// Validator validates instances against a stored Draft-07 subset schema.
// Definitions ($defs/definitions) referenced via $ref are resolved within
// the same schema document only (no remote $ref resolution), matching the
// teacher's embedded-schema-only scope.
type Validator struct {
	schema map[string]any
	defs   map[string]map[string]any
}

// New builds a Validator for the given schema document (already parsed
// into a map[string]any by encoding/json).
func New(schema map[string]any) (*Validator, error) {
	v := &Validator{schema: schema, defs: map[string]map[string]any{}}
	for _, key := range []string{"definitions", "$defs"} {
		if raw, ok := schema[key]; ok {
			defs, ok := raw.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("validation: %q must be an object", key)
			}
			for name, d := range defs {
				dm, ok := d.(map[string]any)
				if !ok {
					return nil, fmt.Errorf("validation: definition %q must be an object", name)
				}
				v.defs[name] = dm
			}
		}
	}
	return v, nil
}

// Validate checks instance against the schema, returning a Report with
// every failure found (not just the first).
func (v *Validator) Validate(instance any) *Report {
	r := &Report{}
	v.validateNode(v.schema, instance, "$", 0, r)
	return r
}

func (v *Validator) validateNode(schema map[string]any, instance any, path string, depth int, r *Report) {
	if depth > MaxRecursionDepth {
		r.add(path, "schema recursion depth exceeded")
		return
	}
	if ref, ok := schema["$ref"].(string); ok {
		name := refName(ref)
		def, ok := v.defs[name]
		if !ok {
			r.add(path, fmt.Sprintf("unresolved $ref %q", ref))
			return
		}
		v.validateNode(def, instance, path, depth+1, r)
		return
	}

	v.validateType(schema, instance, path, r)
	v.validateEnum(schema, instance, path, r)
	v.validateNumericBounds(schema, instance, path, r)
	v.validateStringBounds(schema, instance, path, r)
	v.validateObject(schema, instance, path, depth, r)
	v.validateArray(schema, instance, path, depth, r)
	v.validateComposites(schema, instance, path, depth, r)
}

func refName(ref string) string {
	// Accept only local fragment refs, e.g. "#/definitions/Foo" or
	// "#/$defs/Foo"; anything else resolves to "" (unresolved above).
	const defsPrefix = "#/definitions/"
	const newDefsPrefix = "#/$defs/"
	if len(ref) > len(defsPrefix) && ref[:len(defsPrefix)] == defsPrefix {
		return ref[len(defsPrefix):]
	}
	if len(ref) > len(newDefsPrefix) && ref[:len(newDefsPrefix)] == newDefsPrefix {
		return ref[len(newDefsPrefix):]
	}
	return ""
}

func jsonTypeName(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case float64:
		if f, ok := v.(float64); ok && f == float64(int64(f)) {
			return "integer"
		}
		return "number"
	case string:
		return "string"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		return "unknown"
	}
}

func (v *Validator) validateType(schema map[string]any, instance any, path string, r *Report) {
	raw, ok := schema["type"]
	if !ok {
		return
	}
	actual := jsonTypeName(instance)
	check := func(want string) bool {
		if want == "number" && actual == "integer" {
			return true // integers satisfy a "number" type constraint
		}
		return want == actual
	}
	switch t := raw.(type) {
	case string:
		if !check(t) {
			r.add(path, fmt.Sprintf("expected type %q, got %q", t, actual))
		}
	case []any:
		for _, want := range t {
			if s, ok := want.(string); ok && check(s) {
				return
			}
		}
		r.add(path, fmt.Sprintf("type %q not among allowed types", actual))
	}
}

func (v *Validator) validateEnum(schema map[string]any, instance any, path string, r *Report) {
	raw, ok := schema["enum"].([]any)
	if !ok {
		return
	}
	for _, allowed := range raw {
		if deepEqual(allowed, instance) {
			return
		}
	}
	r.add(path, "value not among enum")
}

func deepEqual(a, b any) bool {
	switch av := a.(type) {
	case map[string]any:
		bv, ok := b.(map[string]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, v1 := range av {
			v2, ok := bv[k]
			if !ok || !deepEqual(v1, v2) {
				return false
			}
		}
		return true
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !deepEqual(av[i], bv[i]) {
				return false
			}
		}
		return true
	default:
		return a == b
	}
}

func asFloat(v any) (float64, bool) {
	f, ok := v.(float64)
	return f, ok
}

func (v *Validator) validateNumericBounds(schema map[string]any, instance any, path string, r *Report) {
	n, ok := asFloat(instance)
	if !ok {
		return
	}
	if min, ok := asFloat(schema["minimum"]); ok && n < min {
		r.add(path, fmt.Sprintf("value %v below minimum %v", n, min))
	}
	if max, ok := asFloat(schema["maximum"]); ok && n > max {
		r.add(path, fmt.Sprintf("value %v above maximum %v", n, max))
	}
	if emin, ok := asFloat(schema["exclusiveMinimum"]); ok && n <= emin {
		r.add(path, fmt.Sprintf("value %v not above exclusiveMinimum %v", n, emin))
	}
	if emax, ok := asFloat(schema["exclusiveMaximum"]); ok && n >= emax {
		r.add(path, fmt.Sprintf("value %v not below exclusiveMaximum %v", n, emax))
	}
}

func (v *Validator) validateStringBounds(schema map[string]any, instance any, path string, r *Report) {
	s, ok := instance.(string)
	if !ok {
		return
	}
	length := len([]rune(s))
	if minLen, ok := asFloat(schema["minLength"]); ok && length < int(minLen) {
		r.add(path, fmt.Sprintf("string shorter than minLength %v", minLen))
	}
	if maxLen, ok := asFloat(schema["maxLength"]); ok && length > int(maxLen) {
		r.add(path, fmt.Sprintf("string longer than maxLength %v", maxLen))
	}
	if format, ok := schema["format"].(string); ok {
		if !validFormat(format, s) {
			r.add(path, fmt.Sprintf("value does not satisfy format %q", format))
		}
	}
}

// validFormat recognizes a few Draft-07 format names but only requires a
// non-empty string for them; their syntax is not checked. Any unrecognized
// format name is accepted.
func validFormat(format, s string) bool {
	switch format {
	case "date-time", "date", "email", "uri", "uuid", "ipv4", "ipv6":
		return len(s) > 0
	default:
		return true
	}
}

func (v *Validator) validateObject(schema map[string]any, instance any, path string, depth int, r *Report) {
	obj, ok := instance.(map[string]any)
	if !ok {
		return
	}

	if required, ok := schema["required"].([]any); ok {
		for _, reqRaw := range required {
			req, ok := reqRaw.(string)
			if !ok {
				continue
			}
			if _, present := obj[req]; !present {
				r.add(path, fmt.Sprintf("missing required property %q", req))
			}
		}
	}

	props, _ := schema["properties"].(map[string]any)
	for key, val := range obj {
		if props != nil {
			if propSchema, ok := props[key].(map[string]any); ok {
				v.validateNode(propSchema, val, path+"."+key, depth+1, r)
				continue
			}
		}
		if addl, ok := schema["additionalProperties"]; ok {
			switch a := addl.(type) {
			case bool:
				if !a {
					r.add(path, fmt.Sprintf("additional property %q not allowed", key))
				}
			case map[string]any:
				v.validateNode(a, val, path+"."+key, depth+1, r)
			}
		}
	}
}

func (v *Validator) validateArray(schema map[string]any, instance any, path string, depth int, r *Report) {
	arr, ok := instance.([]any)
	if !ok {
		return
	}
	itemSchema, ok := schema["items"].(map[string]any)
	if !ok {
		return
	}
	for i, item := range arr {
		v.validateNode(itemSchema, item, fmt.Sprintf("%s[%s]", path, strconv.Itoa(i)), depth+1, r)
	}
}

func (v *Validator) validateComposites(schema map[string]any, instance any, path string, depth int, r *Report) {
	for _, key := range []string{"allOf", "oneOf", "anyOf"} {
		raw, ok := schema[key].([]any)
		if !ok {
			continue
		}
		switch key {
		case "allOf":
			for _, sub := range raw {
				if subSchema, ok := sub.(map[string]any); ok {
					v.validateNode(subSchema, instance, path, depth+1, r)
				}
			}
		case "oneOf", "anyOf":
			matches := 0
			for _, sub := range raw {
				subSchema, ok := sub.(map[string]any)
				if !ok {
					continue
				}
				sub := &Report{}
				v.validateNode(subSchema, instance, path, depth+1, sub)
				if sub.OK() {
					matches++
				}
			}
			if matches == 0 {
				r.add(path, fmt.Sprintf("value satisfies none of %s", key))
			} else if key == "oneOf" && matches > 1 {
				r.add(path, "value satisfies more than one oneOf branch")
			}
		}
	}
}
