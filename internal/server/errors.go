package server

import (
	"errors"
	"fmt"
)

// JSON-RPC 2.0 error codes.
const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeInvalidParams  = -32602
	codeInternalError  = -32603
)

var (
	// ErrMalformedRequest marks input that is not a JSON-RPC request.
	ErrMalformedRequest = errors.New("malformed request")

	errMessageTooLarge = errors.New("message exceeds maximum size")
)

// UnknownMethodError is answered for methods with no registered handler.
type UnknownMethodError struct {
	Method string
}

func (e *UnknownMethodError) Error() string {
	return "Unknown method: " + e.Method
}

// Error is a JSON-RPC error object.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func malformed(code int, detail string) *Error {
	return &Error{Code: code, Message: fmt.Sprintf("%v: %s", ErrMalformedRequest, detail)}
}
