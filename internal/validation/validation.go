// Package validation collects field-level violations for request payloads.
package validation

import "strings"

// Violations maps a field name to a violation code.
type Violations map[string]string

func (v Violations) Empty() bool { return len(v) == 0 }

func Required(field, value string, v Violations) {
	if strings.TrimSpace(value) == "" {
		v[field] = "required"
	}
}

// RequiredID flags a missing (zero) identifier.
func RequiredID(field string, id uint, v Violations) {
	if id == 0 {
		v[field] = "required"
	}
}

func PositiveInt(field string, val int, v Violations) {
	if val <= 0 {
		v[field] = "must_be_positive"
	}
}

// NonEmpty flags an empty list.
func NonEmpty[T any](field string, vals []T, v Violations) {
	if len(vals) == 0 {
		v[field] = "required"
	}
}

// OneOf flags a value not present in allowed.
func OneOf[T comparable](field string, val T, allowed []T, v Violations) {
	for _, a := range allowed {
		if a == val {
			return
		}
	}
	v[field] = "invalid_value"
}
