// Package schema implements the declarative structured-output validator
// (C1): object shape, required keys, enum membership, numeric ranges, and
// nested object / array-of-object recursion. It never panics and never
// returns anything other than a structured error list.
package schema

import "fmt"

// Schema declares the shape one stage output payload must satisfy.
type Schema struct {
	Required []string
	Enums    map[string][]string
	Ranges   map[string][2]float64
	Nested   map[string]Schema
	ArrayOf  map[string]Schema
}

// FieldError is a structured validation failure descriptor.
type FieldError struct {
	Path   string
	Rule   string
	Detail string
}

func (e FieldError) String() string {
	return fmt.Sprintf("%s: %s (%s)", e.Path, e.Rule, e.Detail)
}

// Validate checks payload against schema, returning every violation found.
// It never throws; a malformed payload simply produces FieldErrors.
func Validate(payload map[string]any, s Schema) (bool, []FieldError) {
	errs := validateAt("", payload, s)
	return len(errs) == 0, errs
}

func validateAt(prefix string, payload map[string]any, s Schema) []FieldError {
	var errs []FieldError
	path := func(name string) string {
		if prefix == "" {
			return name
		}
		return prefix + "." + name
	}

	for _, req := range s.Required {
		if _, ok := payload[req]; !ok {
			errs = append(errs, FieldError{Path: path(req), Rule: "required", Detail: "missing required field"})
		}
	}

	for field, allowed := range s.Enums {
		v, ok := payload[field]
		if !ok {
			continue
		}
		str, ok := v.(string)
		if !ok {
			errs = append(errs, FieldError{Path: path(field), Rule: "enum", Detail: "value is not a string"})
			continue
		}
		if !contains(allowed, str) {
			errs = append(errs, FieldError{Path: path(field), Rule: "enum", Detail: fmt.Sprintf("%q not in %v", str, allowed)})
		}
	}

	for field, bounds := range s.Ranges {
		v, ok := payload[field]
		if !ok {
			continue
		}
		num, ok := asFloat(v)
		if !ok {
			errs = append(errs, FieldError{Path: path(field), Rule: "range", Detail: "value is not numeric"})
			continue
		}
		if num < bounds[0] || num > bounds[1] {
			errs = append(errs, FieldError{Path: path(field), Rule: "range", Detail: fmt.Sprintf("%v outside [%v,%v]", num, bounds[0], bounds[1])})
		}
	}

	for field, nested := range s.Nested {
		v, ok := payload[field]
		if !ok {
			continue
		}
		obj, ok := v.(map[string]any)
		if !ok {
			errs = append(errs, FieldError{Path: path(field), Rule: "type", Detail: "expected object"})
			continue
		}
		errs = append(errs, validateAt(path(field), obj, nested)...)
	}

	for field, elemSchema := range s.ArrayOf {
		v, ok := payload[field]
		if !ok {
			continue
		}
		arr, ok := v.([]any)
		if !ok {
			errs = append(errs, FieldError{Path: path(field), Rule: "type", Detail: "expected array"})
			continue
		}
		for i, el := range arr {
			obj, ok := el.(map[string]any)
			if !ok {
				errs = append(errs, FieldError{Path: fmt.Sprintf("%s[%d]", path(field), i), Rule: "type", Detail: "expected object element"})
				continue
			}
			errs = append(errs, validateAt(fmt.Sprintf("%s[%d]", path(field), i), obj, elemSchema)...)
		}
	}

	return errs
}

// Repairable reports whether errs is non-empty and every error in it is
// a missing required field (Rule "required") that the caller can fill
// with a default: repair never fabricates evidence. Enum and range
// violations are not repairable.
func Repairable(errs []FieldError) bool {
	for _, e := range errs {
		if e.Rule != "required" {
			return false
		}
	}
	return len(errs) > 0
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
