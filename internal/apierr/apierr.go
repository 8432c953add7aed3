// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
// Package apierr implements the bit-exact error envelope clients depend on
// and the taxonomy that maps internal errors onto it. The fallback chain
// (try special handlers, then a generic classifier, then InternalError) is
// the same shape the upstream binary's route_error_handler used: a short
// list of recognized special cases tried first, one generic path last.
package apierr

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"
)

// Type is the stable error_type enum returned to clients.
type Type string

const (
	TypeBadRequest    Type = "BAD_REQUEST"
	TypeValueError    Type = "VALUE_ERROR"
	TypeNotFound      Type = "NOT_FOUND"
	TypeAuthError     Type = "AUTH_ERROR"
	TypeStoreDown     Type = "STORE_UNAVAILABLE"
	TypeRemoteService Type = "REMOTE_SERVICE_ERROR"
	TypeTool          Type = "TOOL_ERROR"
	TypeServerError   Type = "SERVER_ERROR"
	TypeSchemaMismatch Type = "SCHEMA_MISMATCH"
	TypeIntegrityError Type = "INTEGRITY_ERROR"
)

var statusForType = map[Type]int{
	TypeBadRequest:     http.StatusBadRequest,
	TypeValueError:     http.StatusBadRequest,
	TypeNotFound:       http.StatusNotFound,
	TypeAuthError:      http.StatusUnauthorized,
	TypeStoreDown:      http.StatusInternalServerError,
	TypeRemoteService:  http.StatusBadGateway,
	TypeTool:           http.StatusOK, // tool errors ride inside the 200 tool-response envelope
	TypeServerError:    http.StatusInternalServerError,
	TypeSchemaMismatch: http.StatusConflict,
	TypeIntegrityError: http.StatusConflict,
}

// Error is the taxonomy type every handler is expected to return instead of
// a bare error, so the central middleware can classify it without guessing.
type Error struct {
	Code      interface{} // string or int; echoed verbatim to the client
	Type      Type
	Subtype   *string
	Message   string
	Traceback string
	cause     error
}

func (e *Error) Error() string { return e.Message }
func (e *Error) Unwrap() error { return e.cause }

func newError(t Type, code interface{}, msg string, cause error) *Error {
	e := &Error{Code: code, Type: t, Message: msg, cause: cause}
	if t == TypeServerError {
		e.Traceback = string(debug.Stack())
	}
	return e
}

func BadRequest(msg string) *Error     { return newError(TypeBadRequest, "BAD_REQUEST", msg, nil) }
func ValueError(msg string) *Error     { return newError(TypeValueError, "VALUE_ERROR", msg, nil) }
func NotFound(msg string) *Error       { return newError(TypeNotFound, "NOT_FOUND", msg, nil) }
func AuthExpired(msg string) *Error    { return newError(TypeAuthError, "AUTH_EXPIRED", msg, nil) }
func StoreUnavailable(msg string) *Error {
	return newError(TypeStoreDown, "STORE_UNAVAILABLE", msg, nil)
}
func RemoteService(msg string, cause error) *Error {
	return newError(TypeRemoteService, "REMOTE_SERVICE_ERROR", msg, cause)
}

// Tool wraps an MCP tool-invocation failure. Subtype carries the tool name.
func Tool(toolName, msg string, cause error) *Error {
	e := newError(TypeTool, "TOOL_ERROR", msg, cause)
	e.Subtype = &toolName
	return e
}

func Internal(cause error) *Error {
	return newError(TypeServerError, "SERVER_ERROR", cause.Error(), cause)
}

// SchemaMismatch is returned when the chunk store's on-disk schema version
// differs from the version cortexd expects (spec.md §4.1): the collections
// get dropped and recreated, and callers are told a refill is needed.
func SchemaMismatch(msg string) *Error {
	return newError(TypeSchemaMismatch, "SCHEMA_MISMATCH", msg, nil)
}

// IntegrityError is returned when a chunk's deterministic point id collides
// with a stored point whose content differs (spec.md §4.1's uuid-collision
// case, surfaced as an error rather than silently overwritten).
func IntegrityError(msg string) *Error {
	return newError(TypeIntegrityError, "INTEGRITY_ERROR", msg, nil)
}

// Envelope is the wire shape, field-for-field matching spec.md §6.
type Envelope struct {
	ErrorCode    interface{} `json:"error_code"`
	ErrorType    Type        `json:"error_type"`
	ErrorSubtype *string     `json:"error_subtype"`
	ErrorMessage string      `json:"error_message"`
	Traceback    string      `json:"traceback"`
}

func (e *Error) Envelope() Envelope {
	return Envelope{
		ErrorCode:    e.Code,
		ErrorType:    e.Type,
		ErrorSubtype: e.Subtype,
		ErrorMessage: e.Message,
		Traceback:    e.Traceback,
	}
}

func (e *Error) StatusCode() int {
	if code, ok := statusForType[e.Type]; ok {
		return code
	}
	return http.StatusInternalServerError
}

// Classify maps an arbitrary error into the taxonomy, mirroring the
// upstream handler chain: a *Error passes through untouched (the "special
// handler" case); everything else falls through the duck-typed classifiers
// in order (BadRequest -> ValueError -> NotFound -> SchemaMismatch ->
// IntegrityError) and, if none matches, becomes an InternalError.
func Classify(err error) *Error {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr
	}

	var badRequest interface{ BadRequest() string }
	if errors.As(err, &badRequest) {
		return BadRequest(badRequest.BadRequest())
	}

	var valueErr interface{ ValueError() string }
	if errors.As(err, &valueErr) {
		return ValueError(valueErr.ValueError())
	}

	var notFound interface{ NotFound() string }
	if errors.As(err, &notFound) {
		return NotFound(notFound.NotFound())
	}

	var schemaMismatch interface{ SchemaMismatch() string }
	if errors.As(err, &schemaMismatch) {
		return SchemaMismatch(schemaMismatch.SchemaMismatch())
	}

	var integrityErr interface{ IntegrityError() string }
	if errors.As(err, &integrityErr) {
		return IntegrityError(integrityErr.IntegrityError())
	}

	return Internal(err)
}

// WriteJSON writes err's envelope with the appropriate status code.
func WriteJSON(w http.ResponseWriter, err error) {
	apiErr := Classify(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(apiErr.StatusCode())
	_ = json.NewEncoder(w).Encode(apiErr.Envelope())
}

// HandlerFunc is like http.HandlerFunc but may return an error, letting
// handlers `return apierr.BadRequest(...)` instead of writing responses
// themselves on the failure path.
type HandlerFunc func(w http.ResponseWriter, r *http.Request) error

// Middleware adapts a HandlerFunc into an http.Handler, translating any
// returned error through WriteJSON. Mirrors the teacher's
// internal/server/middleware/logger.go wrapping idiom: a function that
// takes a handler and hands back a decorated http.Handler.
func Middleware(next HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				err := fmt.Errorf("panic: %v", rec)
				WriteJSON(w, Internal(err))
			}
		}()
		if err := next(w, r); err != nil {
			WriteJSON(w, err)
		}
	})
}
