package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/go-playground/validator/v10"
)

var requestValidator = validator.New(validator.WithRequiredStructEnabled())

// errEmptyBody is returned when the body holds no JSON value at all.
var errEmptyBody = errors.New("invalid JSON body")

func decodeAndValidate(body io.Reader, dst any) error {
	decoder := json.NewDecoder(body)
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return fmt.Errorf("invalid JSON body")
	}

	if err := decoder.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return fmt.Errorf("invalid JSON body")
	}

	return validateStruct(dst)
}

func validateStruct(dst any) error {
	err := requestValidator.Struct(dst)
	if err == nil {
		return nil
	}

	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) && len(validationErrors) > 0 {
		first := validationErrors[0]
		field := lowerFirst(first.Field())
		switch first.Tag() {
		case "required":
			return fmt.Errorf("%s is required", field)
		case "email":
			return fmt.Errorf("invalid email format")
		case "min":
			return fmt.Errorf("%s must be at least %s characters", field, first.Param())
		case "max":
			return fmt.Errorf("%s must be at most %s", field, first.Param())
		case "oneof":
			return fmt.Errorf("%s must be one of: %s", field, first.Param())
		case "url", "http_url":
			return fmt.Errorf("%s must be a valid URL", field)
		case "hexcolor":
			return fmt.Errorf("%s must be a hex color", field)
		case "gtefield":
			return fmt.Errorf("%s must not be before %s", field, lowerFirst(first.Param()))
		default:
			return fmt.Errorf("invalid %s", field)
		}
	}

	return fmt.Errorf("invalid request payload")
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}
