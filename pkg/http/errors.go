package http

import (
	"fmt"
	"net/http"
)

// AppError is an error with the HTTP status it maps to. Message is what the
// client sees in the detail body; Err stays server side.
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"-"`
	Err     error  `json:"-"`
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

func newAppError(code, message string, status int) *AppError {
	return &AppError{Code: code, Message: message, Status: status}
}

// WithError attaches the underlying cause.
func (e *AppError) WithError(err error) *AppError {
	e.Err = err
	return e
}

func BadRequestError(message string) *AppError {
	return newAppError("ERR_BAD_REQUEST", message, http.StatusBadRequest)
}

func UnauthorizedError(message string) *AppError {
	return newAppError("ERR_UNAUTHORIZED", message, http.StatusUnauthorized)
}

func TooManyRequestsError(message string) *AppError {
	return newAppError("ERR_RATE_LIMITED", message, http.StatusTooManyRequests)
}

func InternalError(message string) *AppError {
	return newAppError("ERR_INTERNAL", message, http.StatusInternalServerError)
}
