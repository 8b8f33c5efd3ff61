// Package apierror defines the router's error-kind taxonomy and the mapping
// from each kind to an HTTP status code and JSON envelope.
package apierror

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind identifies the meaning of an error independent of its message, so
// that HTTP status codes and SSE error frames can be derived mechanically.
type Kind string

const (
	KindBadRequest          Kind = "bad_request"
	KindNotFound            Kind = "not_found"
	KindUnsupportedOp       Kind = "unsupported_operation"
	KindPreconditionFailed  Kind = "precondition_failed"
	KindCapacityBusy        Kind = "capacity_busy"
	KindLoadFailed          Kind = "load_failed"
	KindInstallFailed       Kind = "install_failed"
	KindSpawnFailed         Kind = "spawn_failed"
	KindUpstreamError       Kind = "upstream_error"
	KindCancelled           Kind = "cancelled"
)

// statusByKind mirrors the propagation policy in the error handling design:
// a 4xx class where semantically correct, 5xx otherwise.
var statusByKind = map[Kind]int{
	KindBadRequest:         http.StatusBadRequest,
	KindNotFound:           http.StatusNotFound,
	KindUnsupportedOp:      http.StatusUnprocessableEntity,
	KindPreconditionFailed: http.StatusPreconditionFailed,
	KindCapacityBusy:       http.StatusServiceUnavailable,
	KindLoadFailed:         http.StatusInternalServerError,
	KindInstallFailed:      http.StatusInternalServerError,
	KindSpawnFailed:        http.StatusInternalServerError,
	KindUpstreamError:      http.StatusBadGateway,
	KindCancelled:          http.StatusServiceUnavailable,
}

// Error is a router error carrying a Kind alongside the usual message chain.
type Error struct {
	Kind    Kind
	Message string
	// ModelInvalidated propagates the upstream "model_invalidated" signal
	// verbatim, per the error handling design's UpstreamError rule.
	ModelInvalidated bool
	Cause            error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// New constructs a Kind-tagged error.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap constructs a Kind-tagged error that chains an underlying cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// StatusCode returns the HTTP status code for err, defaulting to 500 for
// errors that do not carry a Kind.
func StatusCode(err error) int {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		if code, ok := statusByKind[apiErr.Kind]; ok {
			return code
		}
	}
	return http.StatusInternalServerError
}

// KindOf extracts the Kind from err, or "" if err does not carry one.
func KindOf(err error) Kind {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return ""
}

// Envelope is the JSON error body shape: {error:{message, type, code?}}.
type Envelope struct {
	Error EnvelopeBody `json:"error"`
}

// EnvelopeBody is the inner object of Envelope.
type EnvelopeBody struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
}

// ToEnvelope converts err into the wire envelope shape.
func ToEnvelope(err error) Envelope {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		code := ""
		if apiErr.ModelInvalidated {
			code = "model_invalidated"
		}
		return Envelope{Error: EnvelopeBody{
			Message: apiErr.Error(),
			Type:    string(apiErr.Kind),
			Code:    code,
		}}
	}
	return Envelope{Error: EnvelopeBody{Message: err.Error(), Type: "internal_error"}}
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
