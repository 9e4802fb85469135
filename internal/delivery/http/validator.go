package http

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/FilipeAphrody/sentinel-session/internal/domain"
)

// RequestValidator plugs go-playground/validator into echo. Failures are
// reported as BadRequest using the json field names.
type RequestValidator struct {
	validate *validator.Validate
}

func NewRequestValidator() *RequestValidator {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &RequestValidator{validate: v}
}

func (rv *RequestValidator) Validate(i interface{}) error {
	err := rv.validate.Struct(i)
	if err == nil {
		return nil
	}

	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) || len(validationErrors) == 0 {
		return domain.BadRequest("invalid request", err)
	}

	first := validationErrors[0]
	field, param := first.Field(), first.Param()
	switch first.Tag() {
	case "required":
		return domain.BadRequest(fmt.Sprintf("field '%s' is required", field), err)
	case "email":
		return domain.BadRequest(fmt.Sprintf("field '%s' must be a valid email address", field), err)
	case "min":
		return domain.BadRequest(fmt.Sprintf("field '%s' must be at least %s characters long", field, param), err)
	case "max":
		return domain.BadRequest(fmt.Sprintf("field '%s' must be at most %s characters long", field, param), err)
	case "len":
		return domain.BadRequest(fmt.Sprintf("field '%s' must be exactly %s characters long", field, param), err)
	case "numeric":
		return domain.BadRequest(fmt.Sprintf("field '%s' must contain only digits", field), err)
	case "oneof":
		return domain.BadRequest(fmt.Sprintf("field '%s' must be one of [%s]", field, param), err)
	default:
		return domain.BadRequest(fmt.Sprintf("field '%s' validation failed on tag '%s'", field, first.Tag()), err)
	}
}
