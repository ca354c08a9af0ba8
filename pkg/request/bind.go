// Package request decodes and validates JSON request bodies and path
// parameters. Every failure wraps apperr.ErrInvalidInput.
package request

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/dmehra2102/scrap-pickup/pkg/apperr"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Bind decodes the body into dst and runs its validate tags. An empty body is
// accepted when optional is true.
func Bind(r *http.Request, dst any, optional bool) error {
	if err := render.DecodeJSON(r.Body, dst); err != nil {
		if !(optional && errors.Is(err, io.EOF)) {
			return fmt.Errorf("%w: malformed JSON body", apperr.ErrInvalidInput)
		}
	}
	return Validate(dst)
}

func Validate(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", apperr.ErrInvalidInput, err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, describe(fe))
	}
	return fmt.Errorf("%w: %s", apperr.ErrInvalidInput, strings.Join(msgs, "; "))
}

func describe(fe validator.FieldError) string {
	field := fe.Namespace()
	if i := strings.Index(field, "."); i >= 0 {
		field = field[i+1:]
	}
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "min", "max", "gte", "lte":
		return fmt.Sprintf("%s must be %s %s", field, fe.Tag(), fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", field, fe.Param())
	default:
		return fmt.Sprintf("%s failed %s", field, fe.Tag())
	}
}

// UUIDParam reads a chi path parameter as a UUID.
func UUIDParam(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %s is not a valid id", apperr.ErrInvalidInput, name)
	}
	return id, nil
}
