package http

import (
	"fmt"
	"net/http"
)

// AppError is an error with the HTTP status and machine code it should be rendered with.
type AppError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Field   string                 `json:"field,omitempty"`
	Params  map[string]interface{} `json:"params,omitempty"`
	Status  int                    `json:"-"`
	Err     error                  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAppError creates a new application error.
func NewAppError(code, field, message string, status int) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Field:   field,
		Status:  status,
	}
}

// WithParam sets a single error param.
func (e *AppError) WithParam(key string, value interface{}) *AppError {
	if e.Params == nil {
		e.Params = make(map[string]interface{})
	}
	e.Params[key] = value
	return e
}

// WithError wraps an underlying error.
func (e *AppError) WithError(err error) *AppError {
	e.Err = err
	return e
}

func NotFoundErrorf(format string, a ...interface{}) *AppError {
	return NewAppError("ERR_NOT_FOUND", "", fmt.Sprintf(format, a...), http.StatusNotFound)
}

func BadRequestError(message string) *AppError {
	return NewAppError("ERR_BAD_REQUEST", "", message, http.StatusBadRequest)
}

// FieldError is a 400 naming the offending request field.
func FieldError(field, message string) *AppError {
	return NewAppError("ERR_INVALID", field, message, http.StatusBadRequest)
}

func MethodNotAllowedError(method string) *AppError {
	return NewAppError("ERR_METHOD_NOT_ALLOWED", "", fmt.Sprintf("method %s not allowed", method), http.StatusMethodNotAllowed)
}

func UnauthorizedError(message string) *AppError {
	return NewAppError("ERR_UNAUTHORIZED", "", message, http.StatusUnauthorized)
}

func InternalError(message string) *AppError {
	return NewAppError("ERR_INTERNAL", "", message, http.StatusInternalServerError)
}

func TooManyRequestsError(message string) *AppError {
	return NewAppError("ERR_TOO_MANY_REQUESTS", "", message, http.StatusTooManyRequests)
}
