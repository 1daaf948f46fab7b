package http

import (
	"fmt"
	"net/http"
)

// AppError is an API error rendered inside the response envelope. Status
// and Err stay server side.
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
	Status  int    `json:"-"`
	Err     error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error { return e.Err }

var errorCodes = map[int]string{
	http.StatusBadRequest:          "ERR_BAD_REQUEST",
	http.StatusNotFound:            "ERR_NOT_FOUND",
	http.StatusConflict:            "ERR_CONFLICT",
	http.StatusTooManyRequests:     "ERR_TOO_MANY_REQUESTS",
	http.StatusBadGateway:          "ERR_UPSTREAM",
	http.StatusInternalServerError: "ERR_INTERNAL",
}

// NewError builds an error for status. The code follows from the status.
func NewError(status int, format string, a ...interface{}) *AppError {
	code, ok := errorCodes[status]
	if !ok {
		code = "ERR_" + fmt.Sprint(status)
	}
	return &AppError{Code: code, Message: fmt.Sprintf(format, a...), Status: status}
}

// WrapError keeps err for logging and shows message to the client. An empty
// message exposes err's text.
func WrapError(status int, err error, message string) *AppError {
	if message == "" {
		message = err.Error()
	}
	e := NewError(status, "%s", message)
	e.Err = err
	return e
}
