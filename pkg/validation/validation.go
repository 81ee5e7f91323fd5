// Package validation runs struct tag validation and turns failures into
// CodeValidation domain errors with snake_case field names.
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	dErrors "bruteguard/pkg/domain-errors"
	s "bruteguard/pkg/string"
)

var defaultValidator = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(fieldName)
	_ = v.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})
	return v
}

// fieldName prefers the json name and falls back to the snake_cased Go name.
func fieldName(f reflect.StructField) string {
	name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
	if name == "" || name == "-" {
		return s.ToSnakeCase(f.Name)
	}
	return name
}

// messages maps a validator tag to a format taking the field and the param.
var messages = map[string]string{
	"required": "%s is required",
	"notblank": "%s must not be blank",
	"ip":       "%s must be a valid ip address",
	"gt":       "%s must be greater than %s",
	"gte":      "%s must be at least %s",
	"min":      "%s must be at least %s",
	"max":      "%s must be at most %s",
	"oneof":    "%s must be one of [%s]",
}

// Validate checks v against its struct tags. Every failing field is reported.
func Validate(v any) error {
	if err := defaultValidator.Struct(v); err != nil {
		return dErrors.New(dErrors.CodeValidation, ErrorMessage(err))
	}
	return nil
}

// ErrorMessage renders validator failures as "field must ..." clauses joined
// by "; ".
func ErrorMessage(err error) string {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return "invalid request body"
	}

	parts := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		parts = append(parts, fieldMessage(fe))
	}
	return strings.Join(parts, "; ")
}

func fieldMessage(fe validator.FieldError) string {
	field := fe.Field()
	format, ok := messages[fe.ActualTag()]
	if !ok {
		return field + " is invalid"
	}
	if strings.Count(format, "%s") == 2 {
		return fmt.Sprintf(format, field, fe.Param())
	}
	return fmt.Sprintf(format, field)
}
