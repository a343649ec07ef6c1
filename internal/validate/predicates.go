package validate

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"unicode/utf8"
)

// Predicate checks one field. It returns the failure message and true when
// the value is invalid.
//
// present reports whether the field exists in obj at all; value is nil when it
// does not. obj is the whole object under validation, for cross-field checks.
type Predicate interface {
	Check(value any, present bool, name string, obj map[string]any) (string, bool)
}

// PredicateFunc adapts a function to [Predicate].
type PredicateFunc func(value any, present bool, name string, obj map[string]any) (string, bool)

// Check calls f.
func (f PredicateFunc) Check(value any, present bool, name string, obj map[string]any) (string, bool) {
	return f(value, present, name, obj)
}

func ok() (string, bool) { return "", false }

func fail(format string, args ...any) (string, bool) {
	return fmt.Sprintf(format, args...), true
}

// Required fails when the field is absent or null.
var Required Predicate = PredicateFunc(func(value any, present bool, name string, _ map[string]any) (string, bool) {
	if !present || value == nil {
		return fail("%s is required", name)
	}

	return ok()
})

// String fails unless the value is a string.
var String Predicate = PredicateFunc(func(value any, _ bool, name string, _ map[string]any) (string, bool) {
	if _, isString := value.(string); !isString {
		return fail("%s should be a string", name)
	}

	return ok()
})

// Number fails unless the value is a number.
var Number Predicate = PredicateFunc(func(value any, _ bool, name string, _ map[string]any) (string, bool) {
	if _, isNumber := toFloat(value); !isNumber {
		return fail("%s should be a number", name)
	}

	return ok()
})

// Bool fails unless the value is a boolean.
var Bool Predicate = PredicateFunc(func(value any, _ bool, name string, _ map[string]any) (string, bool) {
	if _, isBool := value.(bool); !isBool {
		return fail("%s should be a boolean", name)
	}

	return ok()
})

// Integer fails unless the value is a whole number.
var Integer Predicate = PredicateFunc(func(value any, _ bool, name string, _ map[string]any) (string, bool) {
	f, isNumber := toFloat(value)
	if !isNumber || math.Trunc(f) != f || math.IsInf(f, 0) {
		return fail("%s should be integer", name)
	}

	return ok()
})

// Gte fails unless the value is a number >= lowest.
func Gte(lowest float64) Predicate {
	return PredicateFunc(func(value any, _ bool, name string, _ map[string]any) (string, bool) {
		f, isNumber := toFloat(value)
		if !isNumber || f < lowest {
			return fail("%s should be greater or equal to %s", name, formatNumber(lowest))
		}

		return ok()
	})
}

// Lte fails unless the value is a number <= highest.
func Lte(highest float64) Predicate {
	return PredicateFunc(func(value any, _ bool, name string, _ map[string]any) (string, bool) {
		f, isNumber := toFloat(value)
		if !isNumber || f > highest {
			return fail("%s should be less or equal to %s", name, formatNumber(highest))
		}

		return ok()
	})
}

// Length fails unless the value's length is exactly n. Strings count
// characters, arrays count elements.
func Length(n int) Predicate {
	return PredicateFunc(func(value any, _ bool, name string, _ map[string]any) (string, bool) {
		l, hasLength := lengthOf(value)
		if !hasLength || l != n {
			return fail("%s should have length %d", name, n)
		}

		return ok()
	})
}

// MinLength fails when the value is shorter than n.
func MinLength(n int) Predicate {
	return PredicateFunc(func(value any, _ bool, name string, _ map[string]any) (string, bool) {
		l, hasLength := lengthOf(value)
		if !hasLength || l < n {
			return fail("%s is too short", name)
		}

		return ok()
	})
}

// MaxLength fails when the value is longer than n.
func MaxLength(n int) Predicate {
	return PredicateFunc(func(value any, _ bool, name string, _ map[string]any) (string, bool) {
		l, hasLength := lengthOf(value)
		if !hasLength || l > n {
			return fail("%s is too long", name)
		}

		return ok()
	})
}

// Matches fails unless the value is a string matching pattern. message
// builds the failure message from the field name.
func Matches(pattern *regexp.Regexp, message func(name string) string) Predicate {
	return PredicateFunc(func(value any, _ bool, name string, _ map[string]any) (string, bool) {
		s, isString := value.(string)
		if !isString || !pattern.MatchString(s) {
			return message(name), true
		}

		return ok()
	})
}

var emailPattern = regexp.MustCompile(`^[a-zA-Z0-9.!#$%&'*+/=?^_` + "`" + `{|}~-]+@[a-zA-Z0-9-]+(?:\.[a-zA-Z0-9-]+)*$`)

// Email fails unless the value looks like an email address.
var Email = Matches(emailPattern, func(name string) string { return name + " is invalid email" })

// Optional runs preds only when the field is present. The first failure wins.
func Optional(preds ...Predicate) Predicate {
	return PredicateFunc(func(value any, present bool, name string, obj map[string]any) (string, bool) {
		if !present {
			return ok()
		}

		for _, p := range preds {
			msg, failed := p.Check(value, present, name, obj)
			if failed {
				return msg, true
			}
		}

		return ok()
	})
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, !math.IsNaN(v)
	case float32:
		return float64(v), !math.IsNaN(float64(v))
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case int32:
		return float64(v), true
	default:
		return 0, false
	}
}

func lengthOf(value any) (int, bool) {
	switch v := value.(type) {
	case string:
		return utf8.RuneCountInString(v), true
	case []any:
		return len(v), true
	case []string:
		return len(v), true
	default:
		return 0, false
	}
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
