package models

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// validate is shared: it caches struct metadata across calls.
var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// Field paths use the wire names, e.g. "history[0].role".
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return strings.ToLower(f.Name)
		}
		return name
	})
	return v
}

// check runs the validate tags on s and reports the first failure as a
// *FieldError.
func check(s any) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}
	fe := verrs[0]
	field := fe.Namespace()
	if _, rest, ok := strings.Cut(field, "."); ok {
		field = rest
	}
	return fieldError(field, reason(fe))
}

func reason(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "required"
	case "required_with":
		return "required with " + strings.ToLower(fe.Param())
	case "required_without":
		return "required when " + strings.ToLower(fe.Param()) + " is empty"
	case "oneof":
		return "must be one of " + strings.Join(strings.Fields(fe.Param()), ", ")
	case "gte":
		return "must be at least " + fe.Param()
	case "min":
		if fe.Param() == "1" {
			return "must not be empty"
		}
		return "must have at least " + fe.Param() + " elements"
	}
	return fmt.Sprintf("failed %s validation", fe.Tag())
}
