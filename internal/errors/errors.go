package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies every failure that crosses the store boundary.
type Kind string

const (
	KindNotFound   Kind = "NOT_FOUND"
	KindRepository Kind = "REPOSITORY"
	KindEncoding   Kind = "ENCODING"
	KindIO         Kind = "IO"
	KindValidation Kind = "VALIDATION"
	KindConflict   Kind = "CONFLICT"
)

// Sentinels for errors.Is. Matching compares the Kind only.
var (
	ErrNotFound   = &Error{Kind: KindNotFound}
	ErrRepository = &Error{Kind: KindRepository}
	ErrEncoding   = &Error{Kind: KindEncoding}
	ErrIO         = &Error{Kind: KindIO}
	ErrValidation = &Error{Kind: KindValidation}
	ErrConflict   = &Error{Kind: KindConflict}
)

type Error struct {
	Kind    Kind   `json:"kind"`
	Op      string `json:"op,omitempty"`
	Path    string `json:"path,omitempty"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Path != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Path)
	}
	if e.Op != "" {
		msg = fmt.Sprintf("%s: %s", e.Op, msg)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

func NotFound(op, path string) *Error {
	return &Error{Kind: KindNotFound, Op: op, Path: path, Message: "not found"}
}

func Repository(op string, err error) *Error {
	return &Error{Kind: KindRepository, Op: op, Message: "repository error", Err: err}
}

func Encoding(op, path string, err error) *Error {
	return &Error{Kind: KindEncoding, Op: op, Path: path, Message: "content is not valid UTF-8", Err: err}
}

func IO(op, path string, err error) *Error {
	return &Error{Kind: KindIO, Op: op, Path: path, Message: "i/o error", Err: err}
}

func Validation(op, path, message string) *Error {
	return &Error{Kind: KindValidation, Op: op, Path: path, Message: message}
}

func Conflict(op, path, message string) *Error {
	return &Error{Kind: KindConflict, Op: op, Path: path, Message: message}
}

// KindOf reports the kind of the first *Error in err's chain. Errors that
// did not originate in the store are reported as KindRepository.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindRepository
}

func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

func HTTPStatus(kind Kind) int {
	switch kind {
	case KindNotFound:
		return http.StatusNotFound
	case KindValidation:
		return http.StatusBadRequest
	case KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
