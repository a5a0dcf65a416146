package gateway

import (
	"fmt"
	"net/http"

	"github.com/pkg/errors"
)

// Kind classifies a gateway failure.
type Kind int

const (
	KindUnexpected Kind = iota
	KindInvalidData
	KindNotFound
	KindConflict
	KindServer
	KindUnavailable
	KindConnection
	KindTimeout
)

func (k Kind) String() string {
	switch k {
	case KindInvalidData:
		return "invalid data"
	case KindNotFound:
		return "not found"
	case KindConflict:
		return "conflict"
	case KindServer:
		return "server error"
	case KindUnavailable:
		return "service unavailable"
	case KindConnection:
		return "connection unavailable"
	case KindTimeout:
		return "timeout"
	default:
		return "unexpected"
	}
}

// Sentinels for errors.Is. They match *Error values of the corresponding kinds.
var (
	ErrInvalidData           = errors.New("invalid data")
	ErrNotFound              = errors.New("not found")
	ErrConflict              = errors.New("conflict")
	ErrServerError           = errors.New("server error")
	ErrConnectionUnavailable = errors.New("connection unavailable")
	ErrTimeout               = errors.New("timeout")
)

// Error is returned by every Client call that fails.
type Error struct {
	Op         string // client method, e.g. "CreateExpense"
	Kind       Kind
	StatusCode int    // zero when no response was received
	Detail     string // message sent by the backend, if any
	Err        error  // underlying transport or decoding error, if any
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Op, e.Kind)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (HTTP %d)", e.StatusCode)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the package sentinels. A 503 counts as the connection being unavailable.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrInvalidData:
		return e.Kind == KindInvalidData
	case ErrNotFound:
		return e.Kind == KindNotFound
	case ErrConflict:
		return e.Kind == KindConflict
	case ErrServerError:
		return e.Kind == KindServer
	case ErrConnectionUnavailable:
		return e.Kind == KindConnection || e.Kind == KindUnavailable
	case ErrTimeout:
		return e.Kind == KindTimeout
	}
	return false
}

// KindOf returns the kind of the first *Error in err's chain, or
// KindUnexpected if there is none.
func KindOf(err error) Kind {
	var gwErr *Error
	if errors.As(err, &gwErr) {
		return gwErr.Kind
	}
	return KindUnexpected
}

func kindForStatus(status int) Kind {
	switch status {
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return KindInvalidData
	case http.StatusNotFound:
		return KindNotFound
	case http.StatusConflict:
		return KindConflict
	case http.StatusServiceUnavailable:
		return KindUnavailable
	}
	if status >= 500 {
		return KindServer
	}
	return KindUnexpected
}
