package core

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"streamvault/internal/types"
)

// Validator wraps go-playground/validator for request DTO validation.
type Validator struct {
	validate *validator.Validate
}

// NewValidator creates a Validator configured to report JSON field names in
// validation errors rather than Go struct field names.
func NewValidator() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &Validator{validate: v}
}

// ValidateStruct validates the given struct against its validate tags.
// On failure it returns a *types.AppError with per-field details suitable
// for direct use with core.Error.
func (v *Validator) ValidateStruct(s interface{}) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}

	if invalid, ok := err.(*validator.InvalidValidationError); ok {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "validation could not be performed", invalid)
	}

	details := make(map[string]any)
	for _, fe := range err.(validator.ValidationErrors) {
		details[fe.Field()] = fmt.Sprintf("failed rule %q", fe.Tag())
	}

	return &types.AppError{
		Code:    types.ErrCodeValidationFailed,
		Message: "request validation failed",
		Err:     err,
		Details: details,
	}
}
