// Package mem is an in-process transport with the same blocking and timeout
// behaviour as a real handle. Useful for tests and as a loopback endpoint;
// Inject lets a test make the next Recv fail with an arbitrary error.
package mem

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"nbng/pkg/transport"
)

var (
	ErrAddrInUse = errors.New("mem: address in use")
	ErrRefused   = errors.New("mem: connection refused")
)

const queueLen = 64

// Network is a namespace of named listeners.
type Network struct {
	mu        sync.Mutex
	listeners map[string]*Handle
}

func NewNetwork() *Network { return &Network{listeners: make(map[string]*Handle)} }

var defaultNetwork = NewNetwork()

// Open allocates a handle on the process-wide network. It satisfies transport.Factory.
func Open(p transport.Protocol, opts transport.Options) (transport.Handle, error) {
	return defaultNetwork.Open(p, opts)
}

// Factory returns a transport.Factory bound to n.
func (n *Network) Factory() transport.Factory {
	return func(p transport.Protocol, opts transport.Options) (transport.Handle, error) {
		return n.Open(p, opts)
	}
}

// Open allocates an unconnected handle.
func (n *Network) Open(p transport.Protocol, opts transport.Options) (*Handle, error) {
	if !p.Valid() {
		return nil, transport.ErrUnknownProtocol(p.String())
	}
	return &Handle{
		net:    n,
		proto:  p,
		opts:   opts,
		inbox:  make(chan []byte, queueLen),
		faults: make(chan error, queueLen),
		closed: make(chan struct{}),
	}, nil
}

// Handle is one end of an in-process link.
type Handle struct {
	net    *Network
	proto  transport.Protocol
	opts   transport.Options
	inbox  chan []byte
	faults chan error

	mu        sync.Mutex
	peer      *Handle
	listening string

	closeOnce sync.Once
	closed    chan struct{}
}

func (h *Handle) Protocol() transport.Protocol { return h.proto }

func (h *Handle) Listen(url string) error {
	if h.isClosed() {
		return transport.ErrClosed
	}
	h.net.mu.Lock()
	defer h.net.mu.Unlock()
	if _, ok := h.net.listeners[url]; ok {
		return fmt.Errorf("%w: %s", ErrAddrInUse, url)
	}
	h.net.listeners[url] = h
	h.mu.Lock()
	h.listening = url
	h.mu.Unlock()
	return nil
}

// Dial links h with the handle listening on url. A listener accepts a single peer;
// a later dial replaces the previous one.
func (h *Handle) Dial(url string) error {
	if h.isClosed() {
		return transport.ErrClosed
	}
	h.net.mu.Lock()
	l := h.net.listeners[url]
	h.net.mu.Unlock()
	if l == nil || l.isClosed() {
		return fmt.Errorf("%w: %s", ErrRefused, url)
	}
	h.mu.Lock()
	h.peer = l
	h.mu.Unlock()
	l.mu.Lock()
	l.peer = h
	l.mu.Unlock()
	return nil
}

func (h *Handle) Send(msg []byte) error {
	if h.isClosed() {
		return transport.ErrClosed
	}
	h.mu.Lock()
	peer := h.peer
	h.mu.Unlock()

	timeout, stop := deadline(h.opts.SendTimeout)
	defer stop()
	if peer == nil {
		// No peer yet: behave like a socket with nowhere to route the message.
		select {
		case <-h.closed:
			return transport.ErrClosed
		case <-timeout:
			return transport.ErrSendTimeout
		}
	}
	buf := append([]byte(nil), msg...)
	select {
	case peer.inbox <- buf:
		return nil
	case <-h.closed:
		return transport.ErrClosed
	case <-timeout:
		return transport.ErrSendTimeout
	}
}

func (h *Handle) Recv() ([]byte, error) {
	if h.isClosed() {
		return nil, transport.ErrClosed
	}
	timeout, stop := deadline(h.opts.RecvTimeout)
	defer stop()
	select {
	case err := <-h.faults:
		return nil, err
	case b := <-h.inbox:
		return b, nil
	case <-h.closed:
		return nil, transport.ErrClosed
	case <-timeout:
		return nil, transport.ErrRecvTimeout
	}
}

// Inject queues err to be returned by a pending or future Recv.
func (h *Handle) Inject(err error) {
	select {
	case h.faults <- err:
	default:
	}
}

// Close releases the listener name and unblocks pending calls.
// Closing twice reports ErrClosed, matching mangos sockets.
func (h *Handle) Close() error {
	first := false
	h.closeOnce.Do(func() {
		first = true
		close(h.closed)
	})
	if !first {
		return transport.ErrClosed
	}
	h.mu.Lock()
	name := h.listening
	h.mu.Unlock()
	if name != "" {
		h.net.mu.Lock()
		if h.net.listeners[name] == h {
			delete(h.net.listeners, name)
		}
		h.net.mu.Unlock()
	}
	return nil
}

func (h *Handle) isClosed() bool {
	select {
	case <-h.closed:
		return true
	default:
		return false
	}
}

// deadline returns a channel firing after d, or a nil channel (never fires) for d == 0.
func deadline(d time.Duration) (<-chan time.Time, func()) {
	if d <= 0 {
		return nil, func() {}
	}
	t := time.NewTimer(d)
	return t.C, func() { t.Stop() }
}
