package validator

import (
	"errors"
	"fmt"
	"strings"
)

type Numeric interface {
	~int | ~int8 | ~int16 | ~int32 | ~int64 |
		~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64 |
		~float32 | ~float64
}

// ValidationError is a single failed rule. Key is a stable machine-readable
// identifier clients can render a message from.
type ValidationError struct {
	Field   string
	Message string
	Key     string
}

// ValidationErrors collects every failed rule of one Apply call.
type ValidationErrors []ValidationError

func (ve ValidationErrors) Error() string {
	if len(ve) == 0 {
		return "validation failed"
	}
	parts := make([]string, 0, len(ve))
	for _, err := range ve {
		parts = append(parts, fmt.Sprintf("%s: %s", err.Field, err.Message))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (ve ValidationErrors) Has(field string) bool {
	for _, err := range ve {
		if err.Field == field {
			return true
		}
	}
	return false
}

// Details groups messages by field, the shape used in JSON error bodies.
func (ve ValidationErrors) Details() map[string][]string {
	out := make(map[string][]string, len(ve))
	for _, err := range ve {
		out[err.Field] = append(out[err.Field], err.Message)
	}
	return out
}

// Rule represents a single validation rule.
type Rule struct {
	Check func() bool
	Error ValidationError
}

// Apply runs every rule and returns ValidationErrors if any failed.
func Apply(rules ...Rule) error {
	var errs ValidationErrors
	for _, rule := range rules {
		if !rule.Check() {
			errs = append(errs, rule.Error)
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return errs
}

// When returns rule if cond holds and an always-passing rule otherwise.
func When(cond bool, rule Rule) Rule {
	if cond {
		return rule
	}
	return Rule{Check: func() bool { return true }}
}

// ExtractValidationErrors returns the ValidationErrors wrapped in err, if any.
func ExtractValidationErrors(err error) ValidationErrors {
	var ve ValidationErrors
	if errors.As(err, &ve) {
		return ve
	}
	return nil
}

func IsValidationError(err error) bool {
	var ve ValidationErrors
	return errors.As(err, &ve)
}
