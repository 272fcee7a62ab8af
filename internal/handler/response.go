package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"attendance-service/internal/service"
	"attendance-service/internal/util"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 20

// Response represents a standard API response
type Response struct {
	Success bool                   `json:"success"`
	Data    interface{}            `json:"data,omitempty"`
	Error   string                 `json:"error,omitempty"`
	Code    string                 `json:"code,omitempty"`
	Message string                 `json:"message,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// successResponse creates a successful response
func successResponse(data interface{}, message string) Response {
	return Response{
		Success: true,
		Data:    data,
		Message: message,
	}
}

// errorResponse creates an error response from a business error
func errorResponse(e *service.Error) Response {
	return Response{
		Success: false,
		Error:   e.Message,
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
	}
}

// respondWithJSON sends a JSON response
func respondWithJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		util.Error("Failed to encode JSON response", util.ErrorField(err))
	}
}

// respondWithError maps err to a status code and envelope. Anything that is
// not a *service.Error is logged in full and reported as INTERNAL_ERROR.
func respondWithError(w http.ResponseWriter, r *http.Request, logger *zap.Logger, err error) {
	e, ok := service.AsError(err)
	if !ok {
		logger.Error("Unhandled error",
			util.ErrorField(err),
			util.String("method", r.Method),
			util.String("path", r.URL.Path),
			util.String("request_id", middleware.GetReqID(r.Context())))
		e = service.ErrInternal
	}

	status := getStatusCode(e.Kind)
	if status < http.StatusInternalServerError {
		logger.Debug("HTTP error response",
			util.String("code", e.Code),
			util.Int("status_code", status),
			util.String("path", r.URL.Path))
	}
	respondWithJSON(w, status, errorResponse(e))
}

// getStatusCode determines the HTTP status for an error kind
func getStatusCode(kind service.Kind) int {
	switch kind {
	case service.KindValidation, service.KindBusinessRule:
		return http.StatusBadRequest
	case service.KindAuthentication:
		return http.StatusUnauthorized
	case service.KindAuthorization:
		return http.StatusForbidden
	case service.KindNotFound:
		return http.StatusNotFound
	case service.KindConflict:
		return http.StatusConflict
	case service.KindRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decodeJSON reads a JSON body into dst and runs struct validation on it.
// An empty body decodes as {} so optional-body endpoints work.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return service.ErrValidation.Withf("Invalid request body")
	}
	return validateStruct(dst)
}

func validateStruct(v interface{}) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return service.ErrValidation.Withf("Invalid request body")
	}

	fields := make(map[string]interface{}, len(verrs))
	for _, fe := range verrs {
		fields[fieldPath(fe.Namespace())] = describe(fe)
	}
	return service.ErrValidation.Withf("Request validation failed").With(map[string]interface{}{
		"fields": fields,
	})
}

// fieldPath drops the struct name prefix validator puts on namespaces.
func fieldPath(ns string) string {
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return ns
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "min", "gte":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max", "lte":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of: %s", fe.Param())
	case "latitude":
		return "must be a latitude between -90 and 90"
	case "longitude":
		return "must be a longitude between -180 and 180"
	case "e164":
		return "must be an E.164 phone number"
	case "datetime":
		return fmt.Sprintf("must match %s", fe.Param())
	}
	return fmt.Sprintf("failed %s validation", fe.Tag())
}
