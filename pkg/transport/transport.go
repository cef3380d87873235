package transport

import (
	"errors"
	"strings"
	"time"
)

// Protocol identifies the scalability-protocol topology a handle speaks.
type Protocol int

const (
	ProtocolUnknown Protocol = iota
	Pair0
	Pair1
	Pub0
	Sub0
	Req0
	Rep0
	Surveyor0
	Respondent0
	Push0
	Pull0
	Bus0
)

var protocolNames = map[Protocol]string{
	Pair0:       "pair0",
	Pair1:       "pair1",
	Pub0:        "pub0",
	Sub0:        "sub0",
	Req0:        "req0",
	Rep0:        "rep0",
	Surveyor0:   "surveyor0",
	Respondent0: "respondent0",
	Push0:       "push0",
	Pull0:       "pull0",
	Bus0:        "bus0",
}

func (p Protocol) String() string {
	if n, ok := protocolNames[p]; ok {
		return n
	}
	return "unknown"
}

// Valid reports whether p is one of the declared protocols.
func (p Protocol) Valid() bool {
	_, ok := protocolNames[p]
	return ok
}

// CanReceive reports whether sockets of this protocol deliver inbound messages.
func (p Protocol) CanReceive() bool {
	switch p {
	case Pub0, Push0, ProtocolUnknown:
		return false
	}
	return true
}

// Protocols lists every supported protocol in declaration order.
func Protocols() []Protocol {
	return []Protocol{Pair0, Pair1, Pub0, Sub0, Req0, Rep0, Surveyor0, Respondent0, Push0, Pull0, Bus0}
}

// ErrUnknownProtocol is returned when a protocol name cannot be resolved.
type ErrUnknownProtocol string

func (e ErrUnknownProtocol) Error() string { return "unknown protocol: " + string(e) }

// ParseProtocol resolves names such as "req", "Req0" or "surveyor".
// A missing version suffix selects version 0.
func ParseProtocol(s string) (Protocol, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	if name == "" {
		return ProtocolUnknown, ErrUnknownProtocol(s)
	}
	if !strings.HasSuffix(name, "0") && !strings.HasSuffix(name, "1") {
		name += "0"
	}
	for p, n := range protocolNames {
		if n == name {
			return p, nil
		}
	}
	return ProtocolUnknown, ErrUnknownProtocol(s)
}

// Errors reported by handles. Implementations wrap them with %w so the
// original transport error stays reachable.
var (
	ErrClosed      = errors.New("transport: handle closed")
	ErrRecvTimeout = errors.New("transport: receive timed out")
	ErrSendTimeout = errors.New("transport: send timed out")
	ErrUnsupported = errors.New("transport: operation not supported by protocol")
)

// Handle is one native socket bound to a protocol.
// Send and Recv may block up to the timeouts the handle was created with.
type Handle interface {
	Protocol() Protocol
	// Dial connects to a remote endpoint (e.g. tcp://127.0.0.1:5555).
	Dial(url string) error
	// Listen binds a local endpoint and accepts peers in the background.
	Listen(url string) error
	// Send submits one message.
	Send(msg []byte) error
	// Recv returns the next inbound message.
	Recv() ([]byte, error)
	// Close releases the handle and unblocks pending Send/Recv calls.
	Close() error
}

// Options are applied once when a handle is created, before any I/O.
// A zero timeout waits indefinitely.
type Options struct {
	RecvTimeout time.Duration
	SendTimeout time.Duration
	Tuning      Tuning
}

// Factory allocates a handle for a protocol.
type Factory func(Protocol, Options) (Handle, error)
