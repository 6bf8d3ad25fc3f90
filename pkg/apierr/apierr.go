// Package apierr defines the typed error returned by every blobgate operation that a
// caller can branch on. Each error carries a Kind (which maps to an HTTP status) and a
// stable machine-readable ID such as "blob:file-data-not-found".
package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

// InternalErrorID is reported when an error carries no structured id.
const InternalErrorID = "blob:internal-error"

// Kind classifies an error for callers and transports.
type Kind int

const (
	KindInternal Kind = iota
	KindBadRequest
	KindForbidden
	KindNotFound
	KindMethodNotAllowed
	KindConflict
	KindInsufficientStorage
	KindStorage
)

type kindInfo struct {
	name   string
	status int
}

var kinds = map[Kind]kindInfo{
	KindInternal:            {"InternalError", http.StatusInternalServerError},
	KindBadRequest:          {"BadRequest", http.StatusBadRequest},
	KindForbidden:           {"Forbidden", http.StatusForbidden},
	KindNotFound:            {"NotFound", http.StatusNotFound},
	KindMethodNotAllowed:    {"MethodNotAllowed", http.StatusMethodNotAllowed},
	KindConflict:            {"Conflict", http.StatusConflict},
	KindInsufficientStorage: {"InsufficientStorage", http.StatusInsufficientStorage},
	KindStorage:             {"StorageError", http.StatusBadGateway},
}

func (k Kind) String() string {
	if info, ok := kinds[k]; ok {
		return info.name
	}
	return kinds[KindInternal].name
}

// HTTPStatusCode returns the status a transport should answer with.
func (k Kind) HTTPStatusCode() int {
	if info, ok := kinds[k]; ok {
		return info.status
	}
	return http.StatusInternalServerError
}

// IsClientError reports whether the kind is a 4xx caller mistake.
func (k Kind) IsClientError() bool {
	s := k.HTTPStatusCode()
	return s >= 400 && s < 500 && k != KindNotFound
}

// Error is a structured domain error.
type Error struct {
	Kind    Kind
	ID      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.ID, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.ID, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// HTTPStatusCode returns the status of the error's kind.
func (e *Error) HTTPStatusCode() int {
	return e.Kind.HTTPStatusCode()
}

// Is matches another *Error with the same id, so sentinel values work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.ID == e.ID
}

func New(kind Kind, id, format string, args ...any) *Error {
	return &Error{Kind: kind, ID: id, Message: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, id string, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, ID: id, Message: fmt.Sprintf(format, args...), Err: err}
}

func BadRequest(id, format string, args ...any) *Error {
	return New(KindBadRequest, id, format, args...)
}

func Forbidden(id, format string, args ...any) *Error {
	return New(KindForbidden, id, format, args...)
}

func NotFound(id, format string, args ...any) *Error {
	return New(KindNotFound, id, format, args...)
}

func MethodNotAllowed(id, format string, args ...any) *Error {
	return New(KindMethodNotAllowed, id, format, args...)
}

func Conflict(id, format string, args ...any) *Error {
	return New(KindConflict, id, format, args...)
}

func InsufficientStorage(id, format string, args ...any) *Error {
	return New(KindInsufficientStorage, id, format, args...)
}

func Storage(id string, err error, format string, args ...any) *Error {
	return Wrap(KindStorage, id, err, format, args...)
}

func Internal(id string, err error, format string, args ...any) *Error {
	return Wrap(KindInternal, id, err, format, args...)
}

// As returns the first *Error in err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsKind reports whether err carries a structured error of the given kind.
func IsKind(err error, kind Kind) bool {
	e, ok := As(err)
	return ok && e.Kind == kind
}

// IDOf returns the structured id of err, or InternalErrorID for untyped failures.
func IDOf(err error) string {
	if e, ok := As(err); ok && e.ID != "" {
		return e.ID
	}
	return InternalErrorID
}

// MessageOf returns the human message of a structured error, or err.Error().
func MessageOf(err error) string {
	if err == nil {
		return ""
	}
	if e, ok := As(err); ok {
		return e.Message
	}
	return err.Error()
}
