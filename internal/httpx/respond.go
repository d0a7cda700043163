package httpx

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	apperrors "github.com/ariefcatur/go-storefront-orders/internal/errors"
	"github.com/ariefcatur/go-storefront-orders/internal/logger"
	"github.com/go-playground/validator/v10"
)

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type errorEnvelope struct {
	Error apiError `json:"error"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps typed errors to their public form. Causes are logged, never
// returned to the client.
func writeError(ctx context.Context, logg *logger.Logger, w http.ResponseWriter, err error) {
	status, body := publicError(ctx, logg, err)
	writeJSON(w, status, errorEnvelope{Error: body})
}

func publicError(ctx context.Context, logg *logger.Logger, err error) (int, apiError) {
	if err == nil {
		err = stdErrors.New("unknown error")
	}
	typed := apperrors.As(err)
	if typed == nil {
		typed = apperrors.Wrap(apperrors.CodeInternal, err, "unexpected error")
	}
	meta := apperrors.MetadataFor(typed.Code())

	msg := meta.PublicMessage
	switch typed.Code() {
	case apperrors.CodeValidation, apperrors.CodeNotFound, apperrors.CodeStateConflict, apperrors.CodeUnauthorized:
		if m := typed.Message(); m != "" {
			msg = m
		}
	}
	body := apiError{Code: string(typed.Code()), Message: msg}
	if meta.DetailsAllowed {
		body.Details = typed.Details()
	}

	logCtx := logg.WithField(ctx, "error_code", string(typed.Code()))
	if meta.HTTPStatus >= http.StatusInternalServerError {
		logg.Error(logCtx, "request.error", err)
	} else {
		logg.Info(logg.WithField(logCtx, "error", err.Error()), "request.rejected")
	}
	return meta.HTTPStatus, body
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		tag := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if tag == "" || tag == "-" {
			return f.Name
		}
		return tag
	})
	return v
}

func decodeJSON(r *http.Request, dst any) error {
	defer func() { _, _ = io.Copy(io.Discard, r.Body) }()
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(dst); err != nil {
		return apperrors.Wrap(apperrors.CodeValidation, err, "invalid request body")
	}
	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if stdErrors.As(err, &verrs) {
			details := map[string]string{}
			for _, fe := range verrs {
				details[fe.Namespace()] = validationMessage(fe)
			}
			return apperrors.New(apperrors.CodeValidation, "validation failed").WithDetails(details)
		}
		return apperrors.Wrap(apperrors.CodeValidation, err, "validation failed")
	}
	return nil
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", fe.Param())
	}
	return "is invalid"
}
