// Package validation provides input validation and sanitizing helpers for the wallet API.
package validation

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
)

// MaxRequestSize is the maximum request body size (1MB)
const MaxRequestSize = 1 << 20 // 1MB

// MaxStringLength is the maximum length for free-text fields such as notes
const MaxStringLength = 1000

// MaxDestinationLength bounds withdrawal destination addresses.
const MaxDestinationLength = 256

var (
	// phoneRegex accepts an optional leading + followed by 9 to 15 digits
	phoneRegex = regexp.MustCompile(`^\+?[0-9]{9,15}$`)
	// localKenyanRegex matches 07XXXXXXXX / 01XXXXXXXX numbers
	localKenyanRegex = regexp.MustCompile(`^0[17][0-9]{8}$`)
)

// RequestSizeMiddleware limits request body size
func RequestSizeMiddleware(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}

// SanitizeString trims whitespace, strips null bytes and limits length
func SanitizeString(s string, maxLen int) string {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, "\x00", "")
	if len(s) > maxLen {
		s = s[:maxLen]
	}
	return s
}

// NormalizePhone strips spaces and dashes and rewrites local Kenyan numbers
// (07..., 01...) to international form (2547..., 2541...). The leading + is
// dropped. Returns ("", false) if the result is not a plausible MSISDN.
func NormalizePhone(phone string) (string, bool) {
	p := strings.NewReplacer(" ", "", "-", "", "(", "", ")", "").Replace(strings.TrimSpace(phone))
	if p == "" {
		return "", false
	}
	if localKenyanRegex.MatchString(p) {
		p = "254" + p[1:]
	}
	if !phoneRegex.MatchString(p) {
		return "", false
	}
	return strings.TrimPrefix(p, "+"), true
}

// Withdrawal payout methods.
const (
	MethodMpesa  = "mpesa"
	MethodPayPal = "paypal"
	MethodBank   = "bank"
	MethodCrypto = "crypto"
)

// NormalizeMethod lower-cases and checks a withdrawal method.
func NormalizeMethod(method string) (string, bool) {
	m := strings.ToLower(strings.TrimSpace(method))
	switch m {
	case MethodMpesa, MethodPayPal, MethodBank, MethodCrypto:
		return m, true
	}
	return "", false
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

// Validate runs validators and collects failures
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

// ValidPhone checks that a field normalizes to a phone number
func ValidPhone(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if value == "" {
			return nil // Use Required for required fields
		}
		if _, ok := NormalizePhone(value); !ok {
			return &ValidationError{Field: field, Message: "must be a phone number such as 2547XXXXXXXX"}
		}
		return nil
	}
}

// ValidMethod checks that a field is a supported withdrawal method
func ValidMethod(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if _, ok := NormalizeMethod(value); !ok {
			return &ValidationError{Field: field, Message: "must be one of mpesa, paypal, bank, crypto"}
		}
		return nil
	}
}
