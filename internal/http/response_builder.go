// Package http provides the JSON API over the spending approval engine.
//
// This file implements a small builder for JSON responses and the mapping
// from domain error kinds to HTTP status codes.

package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"coinvest/internal/core"
)

// JSONResponseBuilder provides a fluent API for building JSON responses.
type JSONResponseBuilder struct {
	statusCode int
	body       any
	headers    map[string]string
}

// NewJSONResponse creates a new response builder with default 200 status.
func NewJSONResponse() *JSONResponseBuilder {
	return &JSONResponseBuilder{
		statusCode: http.StatusOK,
		headers:    make(map[string]string),
	}
}

// Status sets the HTTP status code for the response.
func (b *JSONResponseBuilder) Status(code int) *JSONResponseBuilder {
	b.statusCode = code
	return b
}

// Header adds a custom header to the response.
func (b *JSONResponseBuilder) Header(name, value string) *JSONResponseBuilder {
	b.headers[name] = value
	return b
}

// Body sets the value encoded as the response body.
func (b *JSONResponseBuilder) Body(v any) *JSONResponseBuilder {
	b.body = v
	return b
}

// Write sends the built response to the http.ResponseWriter.
func (b *JSONResponseBuilder) Write(w http.ResponseWriter) {
	for name, value := range b.headers {
		w.Header().Set(name, value)
	}
	if b.body == nil {
		w.WriteHeader(b.statusCode)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(b.statusCode)
	_ = json.NewEncoder(w).Encode(b.body)
}

// ErrorBody is the shape of every error response.
type ErrorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// ErrorResponse creates a standard error response.
func ErrorResponse(statusCode int, kind, message string) *JSONResponseBuilder {
	return NewJSONResponse().
		Status(statusCode).
		Body(ErrorBody{Error: message, Kind: kind})
}

// BadRequestError creates a 400 Bad Request error response.
func BadRequestError(message string) *JSONResponseBuilder {
	return ErrorResponse(http.StatusBadRequest, "bad_request", message)
}

// UnauthorizedError creates a 401 response for requests without an actor.
func UnauthorizedError(message string) *JSONResponseBuilder {
	return ErrorResponse(http.StatusUnauthorized, "unauthorized", message)
}

// InternalServerError creates a 500 Internal Server Error response.
func InternalServerError(message string) *JSONResponseBuilder {
	return ErrorResponse(http.StatusInternalServerError, "internal", message)
}

// DomainError maps err to a response by its kind. The second return is
// false for errors outside the taxonomy, which callers should log.
func DomainError(err error) (*JSONResponseBuilder, bool) {
	var status int
	var kind string
	switch core.Kind(err) {
	case core.ErrNotFound:
		status, kind = http.StatusNotFound, "not_found"
	case core.ErrInvalidInput:
		status, kind = http.StatusUnprocessableEntity, "invalid_input"
	case core.ErrForbidden:
		status, kind = http.StatusForbidden, "forbidden"
	case core.ErrConflict:
		status, kind = http.StatusConflict, "conflict"
	default:
		return InternalServerError("internal error"), false
	}

	msg := err.Error()
	var de *core.Error
	if errors.As(err, &de) {
		msg = de.Error()
	}
	return ErrorResponse(status, kind, msg), true
}
