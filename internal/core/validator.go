package core

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"batchexports/internal/types"
)

// ValidationError describes one rejected field.
type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Validator wraps go-playground/validator with the export-specific tags
// is_timezone and export_interval.
type Validator struct {
	validate *validator.Validate
}

// NewValidator creates a Validator with the custom tags registered. Field
// names in errors use the json tag.
func NewValidator() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("is_timezone", validateTimezone)
	_ = v.RegisterValidation("export_interval", validateInterval)
	return &Validator{validate: v}
}

func validateTimezone(fl validator.FieldLevel) bool {
	tz := fl.Field().String()
	if tz == "" {
		return true
	}
	_, err := time.LoadLocation(tz)
	return err == nil
}

func validateInterval(fl validator.FieldLevel) bool {
	s := fl.Field().String()
	if s == "" {
		return true
	}
	_, err := types.ParseInterval(s)
	return err == nil
}

// ValidateStruct returns nil when s passes, or a validation AppError listing
// every rejected field under details.fields.
func (v *Validator) ValidateStruct(s any) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to validate request", err)
	}

	fields := make([]ValidationError, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, ValidationError{
			Field:   fe.Field(),
			Code:    fe.Tag(),
			Message: fieldMessage(fe),
		})
	}
	code := types.ErrCodeValidationInvalidInput
	switch fields[0].Code {
	case "required":
		code = types.ErrCodeValidationMissingField
	case "is_timezone":
		code = types.ErrCodeValidationInvalidTimezone
	case "export_interval":
		code = types.ErrCodeValidationInvalidInterval
	}
	return types.NewAppErrorWithDetails(code, fields[0].Message, nil, map[string]any{"fields": fields})
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "is_timezone":
		return fmt.Sprintf("Invalid timezone %v", fe.Value())
	case "export_interval":
		return fmt.Sprintf("Invalid interval %v", fe.Value())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", fe.Field(), fe.Param())
	case "min", "gte":
		return fmt.Sprintf("%s must be at least %s", fe.Field(), fe.Param())
	case "max", "lte":
		return fmt.Sprintf("%s must be at most %s", fe.Field(), fe.Param())
	default:
		return fmt.Sprintf("%s failed %s validation", fe.Field(), fe.Tag())
	}
}
