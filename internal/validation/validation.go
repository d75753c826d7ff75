// Package validation provides input validation for the Rivora API.
package validation

import (
	"errors"
	"math"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"github.com/rivora/rivora/internal/behavior"
	"github.com/rivora/rivora/internal/stellar"
)

// MaxRequestSize is the maximum request body size (1MB)
const MaxRequestSize = 1 << 20 // 1MB

// MaxStringLength is the maximum length for string fields
const MaxStringLength = 10000

// MaxBatchSize is the most addresses a batch request may carry.
const MaxBatchSize = 50

var ErrInvalidAddress = errors.New("validation: invalid Stellar address")

// RequestSizeMiddleware limits request body size
func RequestSizeMiddleware(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}

// IsValidStellarAddress checks the G... shape and the strkey checksum.
func IsValidStellarAddress(addr string) bool {
	return stellar.ValidAccount(addr)
}

// CheckAddress returns ErrInvalidAddress for anything that is not a valid
// account address.
func CheckAddress(addr string) error {
	if !IsValidStellarAddress(addr) {
		return ErrInvalidAddress
	}
	return nil
}

// SanitizeString removes dangerous characters and limits length
func SanitizeString(s string, maxLen int) string {
	s = strings.TrimSpace(s)
	if len(s) > maxLen {
		s = s[:maxLen]
	}
	s = strings.ReplaceAll(s, "\x00", "")
	return s
}

// SanitizeAddress trims whitespace. Stellar addresses are case-sensitive
// base32, so case is preserved.
func SanitizeAddress(addr string) string {
	return strings.TrimSpace(addr)
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

// Validate validates a request and returns errors
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

// ValidAddress checks if a field is a valid Stellar account address
func ValidAddress(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if value == "" {
			return nil // Use Required for required fields
		}
		if !IsValidStellarAddress(value) {
			return &ValidationError{Field: field, Message: "must be a valid Stellar address (G...)"}
		}
		return nil
	}
}

// ValidScore checks that a score is a finite number in [0,100].
func ValidScore(field string, value float64) func() *ValidationError {
	return func() *ValidationError {
		if math.IsNaN(value) || value < 0 || value > 100 {
			return &ValidationError{Field: field, Message: "must be between 0 and 100"}
		}
		return nil
	}
}

// ValidUserType checks the value names a known user type.
func ValidUserType(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if _, err := behavior.ParseUserType(value); err != nil {
			return &ValidationError{Field: field, Message: "must be one of trader, explorer, optimizer, passive"}
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

// AddressParamMiddleware validates the :address URL parameter on routes that use it.
// Apply to route groups that include :address params to reject malformed addresses early.
func AddressParamMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		addr := c.Param("address")
		if addr != "" && !IsValidStellarAddress(addr) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"success": false,
				"error":   "invalid_address",
				"message": "address must be a valid Stellar address (G + 55 base32 chars)",
			})
			return
		}
		c.Next()
	}
}

// RegisterStellarTags adds the stellar_address and user_type binding tags to
// gin's validator. Call it once at startup.
func RegisterStellarTags() error {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return errors.New("validation: gin binding engine is not validator/v10")
	}
	if err := v.RegisterValidation("stellar_address", func(fl validator.FieldLevel) bool {
		return IsValidStellarAddress(fl.Field().String())
	}); err != nil {
		return err
	}
	return v.RegisterValidation("user_type", func(fl validator.FieldLevel) bool {
		_, err := behavior.ParseUserType(fl.Field().String())
		return err == nil
	})
}

// FieldErrors flattens validator/v10 binding errors into ValidationErrors.
// Other errors become a single "body" entry.
func FieldErrors(err error) ValidationErrors {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return ValidationErrors{{Field: "body", Message: err.Error()}}
	}
	out := make(ValidationErrors, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, ValidationError{Field: lowerFirst(fe.Field()), Message: tagMessage(fe)})
	}
	return out
}

func tagMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "stellar_address":
		return "must be a valid Stellar address (G...)"
	case "user_type":
		return "must be one of trader, explorer, optimizer, passive"
	case "min", "gte":
		return "must be at least " + fe.Param()
	case "max", "lte":
		return "must be at most " + fe.Param()
	default:
		return "failed " + fe.Tag() + " validation"
	}
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}
