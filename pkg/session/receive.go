package session

import (
	"context"
	"errors"
	"sync"

	"code.hybscloud.com/iox"
	"go.uber.org/zap"

	"nbng/pkg/bridge"
	"nbng/pkg/transport"
)

// Receive starts a background loop delivering inbound messages to cb in
// arrival order. Receive timeouts are skipped, a closed transport ends the loop
// with one terminal failure, and other receive errors are reported while the
// loop keeps going. Cancelling ctx has the same effect as Dispose.
//
// Send fails with ErrBusy while the loop is active; run request/reply traffic
// on a second session instead.
func (s *Session) Receive(ctx context.Context, cb bridge.Callback, opts ...ReceiveOption) (*Subscription, error) {
	cfg := receiveConfig{mode: bridge.NonBlocking, capacity: 1}
	for _, o := range opts {
		o(&cfg)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if cb == nil {
		return nil, newError("receive", s.url, KindRecvFailed, errors.New("nil callback"))
	}
	if s.state != StateConnected {
		return nil, newError("receive", s.url, KindNotConnected, nil)
	}
	if !s.opts.Protocol.CanReceive() {
		return nil, newError("receive", s.url, KindRecvFailed, transport.ErrUnsupported)
	}
	if s.loop != nil {
		return nil, newError("receive", s.url, KindBusy, errors.New("receive loop already active"))
	}

	l := &loop{
		s:      s,
		url:    s.url,
		br:     bridge.New(cb, cfg.mode, cfg.capacity),
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
	l.sub = &Subscription{l: l}
	l.unwatch = context.AfterFunc(ctx, l.stop)
	s.loop = l
	s.opts.Metrics.LoopStarted()
	go l.run()
	s.log.Debug("receive loop started", zap.String("delivery", cfg.mode.String()))
	return l.sub, nil
}

type loop struct {
	s       *Session
	url     string
	br      *bridge.Bridge
	sub     *Subscription
	unwatch func() bool

	stopOnce sync.Once
	stopCh   chan struct{}

	// exitErr is written before done is closed.
	exitErr error
	done    chan struct{}
}

// stop signals the loop and stops the bridge so no new callback starts.
func (l *loop) stop() {
	l.stopOnce.Do(func() {
		close(l.stopCh)
		l.br.Stop()
	})
}

func (l *loop) stopping() bool {
	select {
	case <-l.stopCh:
		return true
	default:
		return l.s.closing()
	}
}

func (l *loop) run() {
	defer close(l.done)
	defer l.finish()

	var bo iox.Backoff
	for {
		if l.stopping() {
			return
		}

		l.s.io.Lock()
		msg, err := l.s.handle.Recv()
		l.s.io.Unlock()

		if err == nil {
			bo.Reset()
			if l.stopping() {
				return
			}
			if l.br.Deliver(bridge.Success(msg)) {
				l.s.opts.Metrics.Delivered()
			}
			continue
		}

		// Errors caused by Dispose or Close are not reported.
		if l.stopping() {
			return
		}
		kind := classify(err, false)
		switch kind {
		case KindRecvTimeout:
			continue
		case KindClosed:
			e := newError("receive", l.url, kind, err)
			l.exitErr = e
			l.s.opts.Metrics.LoopError(kind.String())
			l.s.log.Warn("receive loop terminated", zap.String("url", l.url), zap.Error(err))
			l.br.Deliver(bridge.Failure(e))
			l.br.Drain()
			return
		default:
			l.s.opts.Metrics.LoopError(kind.String())
			l.s.log.Debug("receive failed", zap.String("url", l.url), zap.Error(err))
			l.br.Deliver(bridge.Failure(newError("receive", l.url, kind, err)))
			bo.Wait()
		}
	}
}

func (l *loop) finish() {
	l.unwatch()
	if l.exitErr == nil {
		l.br.Stop()
	}
	l.s.mu.Lock()
	if l.s.loop == l {
		l.s.loop = nil
	}
	l.s.mu.Unlock()
	l.s.opts.Metrics.LoopStopped()
	l.s.log.Debug("receive loop stopped", zap.String("url", l.url))
}

// Subscription cancels a receive loop.
type Subscription struct {
	l *loop

	mu       sync.Mutex
	disposed bool
}

// Dispose stops the loop at its next opportunity. No callback starts after it
// returns, though one already running may complete. Repeated calls return nil.
// It reports a soft ErrDispose when the loop had already ended on a closed
// transport.
//
// The loop notices Dispose when its pending receive returns. With no receive
// timeout that is the next inbound message, which is dropped, and until then
// Send and Receive keep reporting ErrBusy. Wait on Done before reusing the
// session, or call Close to end the loop at once.
func (sub *Subscription) Dispose() error {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	if sub.disposed {
		return nil
	}
	sub.disposed = true

	var exitErr error
	select {
	case <-sub.l.done:
		exitErr = sub.l.exitErr
	default:
	}
	sub.l.stop()
	if exitErr != nil {
		return newError("dispose", sub.l.url, KindDispose, exitErr)
	}
	return nil
}

// Done is closed once the loop goroutine has exited.
func (sub *Subscription) Done() <-chan struct{} { return sub.l.done }

// Err returns the terminal failure that ended the loop, if any.
// It is nil while the loop runs and after a Dispose or Close.
func (sub *Subscription) Err() error {
	select {
	case <-sub.l.done:
		return sub.l.exitErr
	default:
		return nil
	}
}

// Wait blocks until the loop has exited and its callbacks have been delivered.
// Must not be called from the callback.
func (sub *Subscription) Wait() {
	<-sub.l.done
	sub.l.br.Wait()
}
