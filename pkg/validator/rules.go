package validator

import (
	"fmt"
	"net/mail"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	phoneRegex = regexp.MustCompile(`^\+?[1-9]\d{6,14}$`)
	codeRegex  = regexp.MustCompile(`^[A-Za-z0-9_-]{3,64}$`)
)

func rule(field, key, msg string, check func() bool) Rule {
	return Rule{Check: check, Error: ValidationError{Field: field, Message: msg, Key: key}}
}

// Required validates that a string is not empty after trimming whitespace.
func Required(field, value string) Rule {
	return rule(field, "validation.required", "field is required", func() bool {
		return strings.TrimSpace(value) != ""
	})
}

func MaxLen(field, value string, max int) Rule {
	return rule(field, "validation.max_length", fmt.Sprintf("must be at most %d characters long", max), func() bool {
		return len(value) <= max
	})
}

// ValidEmail accepts a bare RFC 5322 address whose domain has at least one dot.
func ValidEmail(field, value string) Rule {
	return rule(field, "validation.email", "must be a valid email address", func() bool {
		addr, err := mail.ParseAddress(strings.TrimSpace(value))
		if err != nil || addr.Address != strings.TrimSpace(value) {
			return false
		}
		at := strings.LastIndexByte(addr.Address, '@')
		if at <= 0 {
			return false
		}
		domain := addr.Address[at+1:]
		if !strings.Contains(domain, ".") {
			return false
		}
		for part := range strings.SplitSeq(domain, ".") {
			if part == "" {
				return false
			}
		}
		return true
	})
}

// ValidPhone validates an international phone number. Spaces and dashes are ignored.
func ValidPhone(field, value string) Rule {
	return rule(field, "validation.phone", "must be a valid phone number in international format", func() bool {
		cleaned := strings.NewReplacer(" ", "", "-", "").Replace(value)
		return phoneRegex.MatchString(cleaned)
	})
}

func RequiredUUID(field string, value uuid.UUID) Rule {
	return rule(field, "validation.required", "UUID is required", func() bool {
		return value != uuid.Nil
	})
}

// OneOf validates that value is one of options.
func OneOf[T comparable](field string, value T, options []T) Rule {
	return rule(field, "validation.one_of", fmt.Sprintf("must be one of %v", options), func() bool {
		return slices.Contains(options, value)
	})
}

func MinNum[T Numeric](field string, value, min T) Rule {
	return rule(field, "validation.min", fmt.Sprintf("must be at least %v", min), func() bool {
		return value >= min
	})
}

func MaxNum[T Numeric](field string, value, max T) Rule {
	return rule(field, "validation.max", fmt.Sprintf("must be at most %v", max), func() bool {
		return value <= max
	})
}

// DecimalRange validates min <= value <= max.
func DecimalRange(field string, value, min, max decimal.Decimal) Rule {
	return rule(field, "validation.range", fmt.Sprintf("must be between %s and %s", min, max), func() bool {
		return value.GreaterThanOrEqual(min) && value.LessThanOrEqual(max)
	})
}

func PositiveDecimal(field string, value decimal.Decimal) Rule {
	return rule(field, "validation.positive", "must be greater than zero", func() bool {
		return value.IsPositive()
	})
}

// DateOrder validates that from is not after until. Nil bounds always pass.
func DateOrder(field string, from, until *time.Time) Rule {
	return rule(field, "validation.date_order", "start must not be after end", func() bool {
		return from == nil || until == nil || !from.After(*until)
	})
}

// ValidCode validates a promotion code: 3-64 letters, digits, '-' or '_'.
func ValidCode(field, value string) Rule {
	return rule(field, "validation.code", "must be 3-64 letters, digits, dashes or underscores", func() bool {
		return codeRegex.MatchString(strings.TrimSpace(value))
	})
}
