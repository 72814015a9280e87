// Package validation provides request validation helpers for the risk API.
package validation

import (
	"errors"
	"net/http"
	"regexp"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

// MaxRequestSize is the maximum request body size (1MB)
const MaxRequestSize = 1 << 20

// MaxStringLength is the maximum length for free-text fields
const MaxStringLength = 10000

var (
	countryRegex = regexp.MustCompile(`^[A-Za-z]{2}$`)
	ruleIDRegex  = regexp.MustCompile(`^[a-z0-9][a-z0-9_\-]{0,63}$`)
	orderIDRegex = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_\-:.]{0,127}$`)
)

var (
	registerOnce sync.Once
	registerErr  error
)

// Register installs the custom tags (iso_country, rule_id, order_id) on
// gin's binding validator. Safe to call more than once.
func Register() error {
	registerOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			registerErr = errors.New("validation: gin validator engine is not validator/v10")
			return
		}
		registerErr = RegisterOn(v)
	})
	return registerErr
}

// RegisterOn installs the custom tags on v.
func RegisterOn(v *validator.Validate) error {
	tags := map[string]validator.Func{
		"iso_country": func(fl validator.FieldLevel) bool { return IsValidCountry(fl.Field().String()) },
		"rule_id":     func(fl validator.FieldLevel) bool { return IsValidRuleID(fl.Field().String()) },
		"order_id":    func(fl validator.FieldLevel) bool { return IsValidOrderID(fl.Field().String()) },
	}
	for tag, fn := range tags {
		if err := v.RegisterValidation(tag, fn); err != nil {
			return err
		}
	}
	return nil
}

// RequestSizeMiddleware limits request body size
func RequestSizeMiddleware(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}

// IsValidCountry reports whether s looks like an ISO 3166-1 alpha-2 code.
// Comparison elsewhere is case-insensitive, so either case is accepted.
func IsValidCountry(s string) bool {
	return countryRegex.MatchString(s)
}

// IsValidRuleID reports whether s is a lowercase rule identifier.
func IsValidRuleID(s string) bool {
	return ruleIDRegex.MatchString(s)
}

// IsValidOrderID reports whether s is usable as an order key.
func IsValidOrderID(s string) bool {
	return orderIDRegex.MatchString(s)
}

// SanitizeString trims whitespace, strips null bytes, and limits length.
func SanitizeString(s string, maxLen int) string {
	s = strings.TrimSpace(s)
	if len(s) > maxLen {
		s = s[:maxLen]
	}
	return strings.ReplaceAll(s, "\x00", "")
}

// ValidationError represents a validation error
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "validation failed"
	}
	return e[0].Field + ": " + e[0].Message
}

// FromError converts a bind/validate error into field errors. Errors that
// are not validator errors yield a single "body" entry.
func FromError(err error) ValidationErrors {
	var ves validator.ValidationErrors
	if !errors.As(err, &ves) {
		return ValidationErrors{{Field: "body", Message: err.Error()}}
	}
	out := make(ValidationErrors, 0, len(ves))
	for _, fe := range ves {
		out = append(out, ValidationError{Field: fe.Namespace(), Message: message(fe)})
	}
	return out
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "iso_country":
		return "must be a two-letter country code"
	case "rule_id":
		return "must be lowercase letters, digits, '_' or '-'"
	case "order_id":
		return "must be a valid order id"
	case "oneof":
		return "must be one of: " + fe.Param()
	case "min", "gte":
		return "must be at least " + fe.Param()
	case "max", "lte":
		return "must be at most " + fe.Param()
	default:
		return "failed " + fe.Tag() + " validation"
	}
}

// Validate runs validators and returns the failures.
func Validate(validators ...func() *ValidationError) ValidationErrors {
	var errs ValidationErrors
	for _, v := range validators {
		if err := v(); err != nil {
			errs = append(errs, *err)
		}
	}
	return errs
}

// Required checks if a field is non-empty
func Required(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if strings.TrimSpace(value) == "" {
			return &ValidationError{Field: field, Message: "is required"}
		}
		return nil
	}
}

// MaxLength checks if a field exceeds max length
func MaxLength(field, value string, max int) func() *ValidationError {
	return func() *ValidationError {
		if len(value) > max {
			return &ValidationError{Field: field, Message: "exceeds maximum length"}
		}
		return nil
	}
}

// OrderIDParamMiddleware rejects malformed :orderId URL params early.
func OrderIDParamMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if id := c.Param("orderId"); id != "" && !IsValidOrderID(id) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_order_id",
				"message": "orderId must be 1-128 characters of letters, digits, '_', '-', ':' or '.'",
			})
			return
		}
		c.Next()
	}
}
