package apperr

import (
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"
)

// Kind classifies an error for the client.
type Kind string

const (
	Unauthenticated    Kind = "unauthenticated"
	InvalidArgument    Kind = "invalid-argument"
	FailedPrecondition Kind = "failed-precondition"
	NotFound           Kind = "not-found"
	PermissionDenied   Kind = "permission-denied"
	Conflict           Kind = "conflict"
	ExternalGateway    Kind = "external-gateway"
	Internal           Kind = "internal"
)

// Status returns the HTTP status code for the kind.
func (k Kind) Status() int {
	switch k {
	case Unauthenticated:
		return fiber.StatusUnauthorized
	case InvalidArgument:
		return fiber.StatusBadRequest
	case FailedPrecondition:
		return fiber.StatusPreconditionFailed
	case NotFound:
		return fiber.StatusNotFound
	case PermissionDenied:
		return fiber.StatusForbidden
	case Conflict:
		return fiber.StatusConflict
	case ExternalGateway:
		return fiber.StatusBadGateway
	default:
		return fiber.StatusInternalServerError
	}
}

// Error is an error with a client-facing kind and message. Cause is kept for
// logging and never rendered.
type Error struct {
	Kind    Kind
	Message string
	Details map[string]any
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an error of the given kind around cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// WithDetails attaches structured details rendered to the client.
func (e *Error) WithDetails(details map[string]any) *Error {
	e.Details = details
	return e
}

// KindOf returns the kind of err, or Internal when err carries none.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		switch fiberErr.Code {
		case fiber.StatusUnauthorized:
			return Unauthenticated
		case fiber.StatusBadRequest, fiber.StatusUnprocessableEntity:
			return InvalidArgument
		case fiber.StatusNotFound, fiber.StatusMethodNotAllowed:
			return NotFound
		case fiber.StatusForbidden:
			return PermissionDenied
		case fiber.StatusConflict, fiber.StatusTooManyRequests:
			return Conflict
		}
	}
	return Internal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	var appErr *Error
	return errors.As(err, &appErr) && appErr.Kind == kind
}

type body struct {
	Kind    Kind           `json:"kind"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// Response is the JSON error envelope.
type Response struct {
	Error body `json:"error"`
}

// Render converts err into its status code and envelope. Internal errors never
// expose their message.
func Render(err error) (int, Response) {
	var appErr *Error
	if errors.As(err, &appErr) {
		msg := appErr.Message
		if appErr.Kind == Internal {
			msg = "internal error"
		}
		return appErr.Kind.Status(), Response{Error: body{Kind: appErr.Kind, Message: msg, Details: appErr.Details}}
	}

	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		kind := KindOf(err)
		if fiberErr.Code == fiber.StatusTooManyRequests {
			return fiberErr.Code, Response{Error: body{Kind: kind, Message: fiberErr.Message}}
		}
		if kind != Internal {
			return kind.Status(), Response{Error: body{Kind: kind, Message: fiberErr.Message}}
		}
	}

	return fiber.StatusInternalServerError, Response{Error: body{Kind: Internal, Message: "internal error"}}
}
