package validators

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	pkgerrors "github.com/angelmondragon/resale-ledger/pkg/errors"
)

const (
	// MaxBodyBytes caps request bodies; ledger payloads are a few hundred bytes.
	MaxBodyBytes = 1 << 20

	maxConditionLen = 64
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		if name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]; name != "" && name != "-" {
			return name
		}
		return f.Name
	})
	_ = v.RegisterValidation("condition", func(fl validator.FieldLevel) bool {
		value := strings.TrimSpace(fl.Field().String())
		return value != "" && len(value) <= maxConditionLen
	})
	return v
}

// DecodeJSONBody reads exactly one JSON object from r into dest and runs the
// struct's validate tags. Unknown fields and trailing data are rejected.
func DecodeJSONBody(r *http.Request, dest any) error {
	body := http.MaxBytesReader(nil, r.Body, MaxBodyBytes)
	defer func() {
		_, _ = io.Copy(io.Discard, body)
	}()

	decoder := json.NewDecoder(body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return decodeError(err)
	}
	if err := decoder.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return pkgerrors.Invalid("request body must contain a single JSON object", nil)
	}
	if err := validate.Struct(dest); err != nil {
		return formatValidationErrors(err)
	}
	return nil
}

func decodeError(err error) error {
	var (
		syntaxErr *json.SyntaxError
		typeErr   *json.UnmarshalTypeError
		sizeErr   *http.MaxBytesError
	)
	switch {
	case errors.Is(err, io.EOF):
		return pkgerrors.Invalid("request body is empty", nil)
	case errors.As(err, &sizeErr):
		return pkgerrors.Invalid("request body too large", map[string]any{"limit_bytes": sizeErr.Limit})
	case errors.As(err, &syntaxErr), errors.Is(err, io.ErrUnexpectedEOF):
		return wrapDecode(err, "malformed JSON body", nil)
	case errors.As(err, &typeErr):
		field := typeErr.Field
		if field == "" {
			field = "body"
		}
		return wrapDecode(err, "invalid request body", map[string]any{field: "must be " + article(typeErr.Type.Kind())})
	case strings.HasPrefix(err.Error(), "json: unknown field "):
		field := strings.Trim(strings.TrimPrefix(err.Error(), "json: unknown field "), `"`)
		return wrapDecode(err, "invalid request body", map[string]any{field: "is not allowed"})
	}
	return wrapDecode(err, "invalid request body", map[string]any{"error": err.Error()})
}

func wrapDecode(err error, message string, details map[string]any) error {
	wrapped := pkgerrors.Wrap(pkgerrors.CodeValidation, err, message).WithReason(pkgerrors.ReasonInvalidInput)
	if len(details) > 0 {
		wrapped = wrapped.WithDetails(details)
	}
	return wrapped
}

func article(kind reflect.Kind) string {
	switch kind {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return "an integer"
	case reflect.Float32, reflect.Float64:
		return "a number"
	case reflect.Bool:
		return "a boolean"
	case reflect.String:
		return "a string"
	case reflect.Slice, reflect.Array:
		return "an array"
	}
	return "an object"
}

func formatValidationErrors(err error) error {
	var errs validator.ValidationErrors
	if !errors.As(err, &errs) {
		return wrapDecode(err, "validation failed", nil)
	}
	details := make(map[string]any, len(errs))
	for _, fieldErr := range errs {
		details[fieldErr.Field()] = validationMessage(fieldErr)
	}
	return pkgerrors.Invalid("validation failed", details)
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min", "gte":
		return "must be at least " + fe.Param()
	case "max", "lte":
		return "must be at most " + fe.Param()
	case "gt":
		return "must be greater than " + fe.Param()
	case "uuid":
		return "must be a valid uuid"
	case "oneof":
		return fmt.Sprintf("must be one of [%s]", fe.Param())
	case "condition":
		return fmt.Sprintf("must be a non-blank label of at most %d characters", maxConditionLen)
	}
	return "is invalid"
}
