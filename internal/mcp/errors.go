// Package mcp implements the Model Context Protocol adapter exposing
// the search platform as tools, resources and prompts for AI
// assistants.
package mcp

import (
	"errors"
	"fmt"

	"github.com/moabualruz/rice-search/internal/rserr"
)

// Standard JSON-RPC error codes.
const (
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternalError  = -32603
)

// Error is an MCP protocol error with code and message.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// NewInvalidParamsError creates an invalid-params error.
func NewInvalidParamsError(msg string) *Error {
	return &Error{Code: ErrCodeInvalidParams, Message: msg}
}

// NewMethodNotFoundError creates a method-not-found error.
func NewMethodNotFoundError(name string) *Error {
	return &Error{Code: ErrCodeMethodNotFound, Message: fmt.Sprintf("%q not found", name)}
}

// MapError converts internal errors to MCP protocol errors.
// Validation and not-found map to invalid params; the rest to internal.
func MapError(err error) error {
	if err == nil {
		return nil
	}
	var e *rserr.Error
	if errors.As(err, &e) {
		switch e.Kind {
		case rserr.KindValidation, rserr.KindNotFound:
			return NewInvalidParamsError(e.Message)
		}
	}
	return &Error{Code: ErrCodeInternalError, Message: err.Error()}
}
