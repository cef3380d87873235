package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"code.hybscloud.com/atomix"
	"go.uber.org/ratelimit"
	"go.uber.org/zap"

	"nbng/pkg/transport"
)

var serial atomix.Uint32

func nextID() uint32 { return serial.Add(1) }

var errAlreadyConnected = errors.New("already connected")

// Session owns one transport handle and drives it through the
// Idle -> Connected -> Closing -> Closed lifecycle.
type Session struct {
	id      uint32
	opts    Options
	log     *zap.Logger
	handle  transport.Handle
	limiter ratelimit.Limiter

	mu      sync.Mutex // guards state, url, loop, dialing
	state   State
	url     string
	loop    *loop
	dialing bool

	// io is held for every blocking call on handle so that at most one
	// receive is outstanding at a time.
	io sync.Mutex
}

// New allocates the handle for opts.Protocol with the configured timeouts.
// The session is not connected yet.
func New(opts Options) (*Session, error) {
	opts = opts.withDefaults()
	if !opts.Protocol.Valid() {
		return nil, newError("new", "", KindConstruction, transport.ErrUnknownProtocol(opts.Protocol.String()))
	}
	h, err := opts.Factory(opts.Protocol, opts.transport())
	if err != nil {
		return nil, newError("new", "", KindConstruction, err)
	}
	s := &Session{
		id:     nextID(),
		opts:   opts,
		handle: h,
	}
	if opts.SendRate > 0 {
		s.limiter = ratelimit.New(opts.SendRate)
	}
	s.log = opts.Logger.With(zap.Uint32("session", s.id), zap.String("protocol", opts.Protocol.String()))
	s.log.Debug("session created",
		zap.Duration("recv_timeout", opts.RecvTimeout),
		zap.Duration("send_timeout", opts.SendTimeout))
	return s, nil
}

// Open creates a session for protocol p and dials url.
func Open(p transport.Protocol, url string, opts Options) (*Session, error) {
	opts.Protocol = p
	s, err := New(opts)
	if err != nil {
		return nil, err
	}
	if err := s.Connect(url); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Session) ID() uint32 { return s.id }

func (s *Session) Protocol() transport.Protocol { return s.opts.Protocol }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// URL returns the dialed endpoint, empty unless connected.
func (s *Session) URL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.url
}

func (s *Session) IsConnected() bool { return s.State() == StateConnected }

// Connect dials url. A failed dial leaves the session idle so it can be retried.
// The dial runs without holding the state lock: IsConnected and State answer
// immediately, a concurrent Connect reports ErrBusy and a Close during the dial
// wins, failing this Connect with ErrConnectionClosed.
func (s *Session) Connect(url string) error {
	s.mu.Lock()
	switch {
	case s.state == StateConnected:
		s.mu.Unlock()
		return newError("connect", url, KindConnect, errAlreadyConnected)
	case s.state == StateClosing || s.state == StateClosed:
		s.mu.Unlock()
		return newError("connect", url, KindClosed, transport.ErrClosed)
	case s.dialing:
		s.mu.Unlock()
		return newError("connect", url, KindBusy, errors.New("dial in progress"))
	}
	s.dialing = true
	s.mu.Unlock()

	err := s.handle.Dial(url)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.dialing = false
	s.opts.Metrics.Connect(s.opts.Protocol.String(), err)
	if s.state != StateIdle {
		// closed while dialing
		return newError("connect", url, KindClosed, transport.ErrClosed)
	}
	if err != nil {
		s.log.Warn("dial failed", zap.String("url", url), zap.Error(err))
		return newError("connect", url, KindConnect, err)
	}
	if err := s.transition(StateConnected); err != nil {
		return err
	}
	s.url = url
	s.log.Info("session connected", zap.String("url", url))
	return nil
}

// Send submits payload and blocks for exactly one reply.
// On failure the session state is left untouched. It reports ErrBusy while a
// receive loop owns the handle, including a disposed loop that has not yet
// exited (see Subscription.Dispose).
func (s *Session) Send(payload []byte) ([]byte, error) {
	s.mu.Lock()
	state, url, listening := s.state, s.url, s.loop != nil
	s.mu.Unlock()
	if state != StateConnected {
		return nil, newError("send", url, KindNotConnected, nil)
	}
	if listening {
		return nil, newError("send", url, KindBusy, errors.New("receive loop active"))
	}

	s.io.Lock()
	defer s.io.Unlock()
	if s.limiter != nil {
		s.limiter.Take()
	}

	start := time.Now()
	if err := s.handle.Send(payload); err != nil {
		return nil, s.exchangeFailed(url, classify(err, true), err)
	}
	reply, err := s.handle.Recv()
	if err != nil {
		return nil, s.exchangeFailed(url, classify(err, false), err)
	}
	s.opts.Metrics.Exchange(s.opts.Protocol.String(), "ok", time.Since(start))
	return reply, nil
}

func (s *Session) exchangeFailed(url string, kind Kind, err error) error {
	s.opts.Metrics.Exchange(s.opts.Protocol.String(), kind.String(), 0)
	s.log.Debug("exchange failed", zap.String("url", url), zap.Stringer("kind", kind), zap.Error(err))
	return newError("send", url, kind, err)
}

// Close stops any receive loop, releases the handle and waits for the loop
// goroutine to exit. Errors caused by the close never reach the loop callback.
// Closing an already closed session is a no-op.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.state == StateClosing || s.state == StateClosed {
		s.mu.Unlock()
		s.log.Debug("close on closed session")
		return nil
	}
	if err := s.transition(StateClosing); err != nil {
		s.mu.Unlock()
		return err
	}
	lp := s.loop
	s.mu.Unlock()

	if lp != nil {
		lp.stop()
	}
	err := s.handle.Close()
	if lp != nil {
		<-lp.done
	}

	s.mu.Lock()
	url := s.url
	s.url = ""
	terr := s.transition(StateClosed)
	s.mu.Unlock()
	if terr != nil {
		return terr
	}

	if err != nil && !errors.Is(err, transport.ErrClosed) {
		s.log.Warn("close handle", zap.String("url", url), zap.Error(err))
		return fmt.Errorf("session close %s: %w", url, err)
	}
	s.log.Info("session closed", zap.String("url", url))
	return nil
}

func (s *Session) closing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateClosing || s.state == StateClosed
}
