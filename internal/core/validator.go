package core

import (
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"evalmap/internal/colormap"
	"evalmap/internal/stretch"
	"evalmap/internal/timefilter"
	"evalmap/internal/types"
)

// ValidationError describes one failed field rule.
type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ValidationResult collects blocking errors and non-blocking warnings.
type ValidationResult struct {
	Errors   []ValidationError `json:"errors,omitempty"`
	Warnings []string          `json:"warnings,omitempty"`
}

// IsValid reports whether no blocking errors were found. Warnings do not
// affect validity.
func (r ValidationResult) IsValid() bool {
	return len(r.Errors) == 0
}

// Validator wraps go-playground/validator with the domain tags used by the
// request DTOs:
//
//	colormap         a palette name known to the colormap package ("_r" allowed)
//	timefilter_mode  a time-filter output mode (MXX or NUMBER, empty means MXX)
//	panel_mode       "single" or "multi"
//	stretch_bound    a value the stretch override parser accepts as finite
//
// Field names in errors come from the json tag.
type Validator struct {
	validate *validator.Validate
	logger   *slog.Logger
}

// NewValidator builds a Validator with the domain tags registered.
func NewValidator(logger *slog.Logger) *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())

	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		if name == "" {
			return fld.Name
		}
		return name
	})

	mustRegister(v, "colormap", func(fl validator.FieldLevel) bool {
		return colormap.Known(fl.Field().String())
	})
	mustRegister(v, "timefilter_mode", func(fl validator.FieldLevel) bool {
		_, ok := timefilter.ParseMode(fl.Field().String())
		return ok
	})
	mustRegister(v, "panel_mode", func(fl validator.FieldLevel) bool {
		switch fl.Field().String() {
		case "single", "multi":
			return true
		}
		return false
	})
	mustRegister(v, "stretch_bound", func(fl validator.FieldLevel) bool {
		_, ok := stretch.ParseBound(fl.Field().String())
		return ok
	})

	return &Validator{validate: v, logger: logger}
}

func mustRegister(v *validator.Validate, tag string, fn validator.Func) {
	if err := v.RegisterValidation(tag, fn); err != nil {
		panic(fmt.Sprintf("registering validation %q: %v", tag, err))
	}
}

// ValidateStruct validates s and returns nil or an AppError whose details hold
// the individual failures under "validation_errors". The AppError code is
// the code of the first failure.
func (v *Validator) ValidateStruct(s any) error {
	result := v.collect(s)
	if result.IsValid() {
		return nil
	}
	return v.toAppError(result)
}

// ValidateStructWithWarnings is ValidateStruct plus a set of warnings computed
// by the caller. Warnings appear in the result even when validation passes.
func (v *Validator) ValidateStructWithWarnings(s any, warnings []string) (ValidationResult, error) {
	result := v.collect(s)
	result.Warnings = append(result.Warnings, warnings...)
	if result.IsValid() {
		return result, nil
	}
	return result, v.toAppError(result)
}

func (v *Validator) collect(s any) ValidationResult {
	err := v.validate.Struct(s)
	if err == nil {
		return ValidationResult{}
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		// InvalidValidationError: a programming error, not bad input.
		if v.logger != nil {
			v.logger.Error("struct validation misuse", "error", err)
		}
		return ValidationResult{Errors: []ValidationError{{
			Field:   "",
			Code:    string(types.ErrCodeValidationInvalidValue),
			Message: "request could not be validated",
		}}}
	}

	result := ValidationResult{Errors: make([]ValidationError, 0, len(fieldErrs))}
	for _, fe := range fieldErrs {
		result.Errors = append(result.Errors, ValidationError{
			Field:   fe.Field(),
			Code:    string(tagToErrorCode(fe.Tag())),
			Message: messageFor(fe),
		})
	}
	return result
}

func (v *Validator) toAppError(result ValidationResult) *types.AppError {
	first := result.Errors[0]
	msg := first.Message
	if len(result.Errors) > 1 {
		msg = fmt.Sprintf("%s (and %d more)", first.Message, len(result.Errors)-1)
	}
	return types.NewAppErrorWithDetails(types.ErrorCode(first.Code), msg, nil, map[string]any{
		"validation_errors": result.Errors,
	})
}

// tagToErrorCode maps a failed validator tag to the client-facing code.
func tagToErrorCode(tag string) types.ErrorCode {
	switch tag {
	case "required", "required_if", "required_with", "required_without":
		return types.ErrCodeValidationMissingField
	case "colormap":
		return types.ErrCodeValidationUnknownColormap
	case "timefilter_mode":
		return types.ErrCodeValidationInvalidMode
	case "panel_mode":
		return types.ErrCodeValidationInvalidPanel
	case "stretch_bound", "numeric", "number", "gt", "gte", "lt", "lte", "min", "max":
		return types.ErrCodeValidationInvalidNumber
	default:
		return types.ErrCodeValidationInvalidValue
	}
}

func messageFor(fe validator.FieldError) string {
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "colormap":
		return fmt.Sprintf("%s: unknown colormap %q", field, fe.Value())
	case "timefilter_mode":
		return fmt.Sprintf("%s: unknown output mode %q", field, fe.Value())
	case "panel_mode":
		return fmt.Sprintf("%s must be single or multi", field)
	case "stretch_bound":
		return fmt.Sprintf("%s must be a finite number", field)
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", field, fe.Param())
	case "min", "gte":
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "max", "lte":
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", field, fe.Param())
	case "lt":
		return fmt.Sprintf("%s must be less than %s", field, fe.Param())
	case "dive":
		return field + " has an invalid element"
	default:
		return fmt.Sprintf("%s failed %s validation", field, fe.Tag())
	}
}
