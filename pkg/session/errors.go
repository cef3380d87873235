package session

import (
	"errors"

	"nbng/pkg/transport"
)

// Kind classifies session failures.
type Kind int

const (
	KindUnknown Kind = iota
	KindConstruction
	KindConnect
	KindNotConnected
	KindSendTimeout
	KindSendFailed
	KindRecvTimeout
	KindRecvFailed
	KindClosed
	KindBusy
	KindDispose
)

func (k Kind) String() string {
	switch k {
	case KindConstruction:
		return "construction"
	case KindConnect:
		return "connect"
	case KindNotConnected:
		return "not_connected"
	case KindSendTimeout:
		return "send_timeout"
	case KindSendFailed:
		return "send_failed"
	case KindRecvTimeout:
		return "recv_timeout"
	case KindRecvFailed:
		return "recv_failed"
	case KindClosed:
		return "closed"
	case KindBusy:
		return "busy"
	case KindDispose:
		return "dispose"
	default:
		return "unknown"
	}
}

// Sentinels matched by errors.Is against any *Error of the same kind.
var (
	ErrConstruction     = errors.New("session: construction failed")
	ErrConnect          = errors.New("session: connect failed")
	ErrNotConnected     = errors.New("session: socket not connected")
	ErrSendTimeout      = errors.New("session: send timed out")
	ErrSendFailed       = errors.New("session: send failed")
	ErrRecvTimeout      = errors.New("session: receive timed out")
	ErrRecvFailed       = errors.New("session: receive failed")
	ErrConnectionClosed = errors.New("session: connection closed")
	ErrBusy             = errors.New("session: handle busy")
	ErrDispose          = errors.New("session: dispose failed")
)

var sentinels = map[Kind]error{
	KindConstruction: ErrConstruction,
	KindConnect:      ErrConnect,
	KindNotConnected: ErrNotConnected,
	KindSendTimeout:  ErrSendTimeout,
	KindSendFailed:   ErrSendFailed,
	KindRecvTimeout:  ErrRecvTimeout,
	KindRecvFailed:   ErrRecvFailed,
	KindClosed:       ErrConnectionClosed,
	KindBusy:         ErrBusy,
	KindDispose:      ErrDispose,
}

// Error carries the failed operation, the endpoint and the transport cause.
type Error struct {
	Op   string
	URL  string
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	msg := "session " + e.Op
	if e.URL != "" {
		msg += " " + e.URL
	}
	msg += ": " + e.Kind.String()
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	s, ok := sentinels[e.Kind]
	return ok && s == target
}

func newError(op, url string, kind Kind, err error) *Error {
	return &Error{Op: op, URL: url, Kind: kind, Err: err}
}

// KindOf extracts the kind of a session error, or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsRecoverable reports whether the operation may be retried on the same session.
func IsRecoverable(err error) bool {
	switch KindOf(err) {
	case KindConnect, KindSendTimeout, KindSendFailed, KindRecvTimeout, KindRecvFailed, KindBusy, KindDispose:
		return true
	}
	return false
}

// classify maps a transport error from the given direction onto a kind.
func classify(err error, sending bool) Kind {
	switch {
	case errors.Is(err, transport.ErrClosed):
		return KindClosed
	case sending && errors.Is(err, transport.ErrSendTimeout):
		return KindSendTimeout
	case !sending && errors.Is(err, transport.ErrRecvTimeout):
		return KindRecvTimeout
	case sending:
		return KindSendFailed
	default:
		return KindRecvFailed
	}
}
