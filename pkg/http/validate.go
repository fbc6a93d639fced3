package http

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
)

var validate *validator.Validate

func init() {
	validate = validator.New()
	// report the wire name so a 400 names the field the client actually sent
	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		for _, tag := range []string{"json", "query"} {
			name := strings.SplitN(f.Tag.Get(tag), ",", 2)[0]
			if name != "" && name != "-" {
				return name
			}
		}
		return f.Name
	})
}

// ReadAndValidateRequest binds, applies defaults, and validates req. It returns nil or a
// []ValidationError with one entry per offending field.
func ReadAndValidateRequest(c echo.Context, req interface{}) []ValidationError {
	if err := c.Bind(req); err != nil {
		return validationErrors(err)
	}
	if err := defaults.Set(req); err != nil {
		return validationErrors(err)
	}
	if err := validate.StructCtx(c.Request().Context(), req); err != nil {
		return validationErrors(err)
	}
	return nil
}

func validationErrors(err error) []ValidationError {
	var ves validator.ValidationErrors
	if errors.As(err, &ves) {
		out := make([]ValidationError, 0, len(ves))
		for _, e := range ves {
			out = append(out, ValidationError{
				Code:    "ERR_" + strings.ToUpper(e.Tag()),
				Field:   e.Field(),
				Message: errorMessage(e),
				Params:  errorParams(e),
			})
		}
		return out
	}

	var he *echo.HTTPError
	if errors.As(err, &he) {
		return []ValidationError{{Code: "ERR_BIND", Message: fmt.Sprintf("%v", he.Message)}}
	}
	return []ValidationError{{Code: "ERR_UNKNOWN", Message: err.Error()}}
}

func errorMessage(fe validator.FieldError) string {
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "required_if":
		return fmt.Sprintf("%s is required when %s", field, strings.Replace(fe.Param(), " ", " is ", 1))
	case "hexadecimal":
		return fmt.Sprintf("%s must be hex encoded", field)
	case "base64":
		return fmt.Sprintf("%s must be base64 encoded", field)
	case "jwt":
		return fmt.Sprintf("%s must be a signed token", field)
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, strings.ReplaceAll(fe.Param(), " ", ", "))
	case "gte":
		return fmt.Sprintf("%s must be greater than or equal to %s", field, fe.Param())
	case "lte":
		return fmt.Sprintf("%s must be less than or equal to %s", field, fe.Param())
	default:
		return fmt.Sprintf("%s failed validation: %s", field, fe.Tag())
	}
}

func errorParams(fe validator.FieldError) map[string]interface{} {
	switch fe.Tag() {
	case "gte":
		return map[string]interface{}{"min": fe.Param()}
	case "lte":
		return map[string]interface{}{"max": fe.Param()}
	case "oneof":
		return map[string]interface{}{"options": strings.Split(fe.Param(), " ")}
	case "required_if":
		return map[string]interface{}{"condition": fe.Param()}
	}
	return nil
}
