package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nbng/pkg/bridge"
	"nbng/pkg/transport"
	"nbng/pkg/transport/mem"
	"nbng/pkg/transport/sp"
)

type collector struct {
	mu   sync.Mutex
	msgs [][]byte
	errs []error
}

func (c *collector) cb(r bridge.Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if r.OK() {
		c.msgs = append(c.msgs, r.Payload)
		return
	}
	c.errs = append(c.errs, r.Err)
}

func (c *collector) counts() (int, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.msgs), len(c.errs)
}

func (c *collector) messages() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.msgs...)
}

func (c *collector) errors() []error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]error(nil), c.errs...)
}

// memPair returns a connected session on a private network plus the peer handle
// it dialed and the session's own handle.
func memPair(t *testing.T, opts Options) (*Session, *mem.Handle, *mem.Handle) {
	t.Helper()
	n := mem.NewNetwork()
	peerH, err := n.Open(transport.Pair0, transport.Options{SendTimeout: time.Second})
	require.NoError(t, err)
	require.NoError(t, peerH.Listen("mem://peer"))
	t.Cleanup(func() { _ = peerH.Close() })

	var own *mem.Handle
	opts.Protocol = transport.Pair0
	opts.Factory = func(p transport.Protocol, o transport.Options) (transport.Handle, error) {
		h, err := n.Open(p, o)
		own = h
		return h, err
	}
	s, err := Open(transport.Pair0, "mem://peer", opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, peerH, own
}

// spPair connects a Pair0 session to a bound mangos pair socket.
func spPair(t *testing.T, name string, opts Options) (*Session, transport.Handle) {
	t.Helper()
	url := "inproc://" + name
	peerH, err := sp.Open(transport.Pair0, transport.Options{SendTimeout: time.Second})
	require.NoError(t, err)
	require.NoError(t, peerH.Listen(url))
	t.Cleanup(func() { _ = peerH.Close() })

	s, err := Open(transport.Pair0, url, opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, peerH
}

func TestReceivePreservesOrder(t *testing.T) {
	s, peerH := spPair(t, "receive-order", Options{RecvTimeout: 50 * time.Millisecond})

	var c collector
	sub, err := s.Receive(context.Background(), c.cb)
	require.NoError(t, err)
	defer sub.Dispose()

	const n = 200
	for i := 0; i < n; i++ {
		require.NoError(t, peerH.Send([]byte(fmt.Sprintf("m%03d", i))))
	}
	require.Eventually(t, func() bool {
		got, _ := c.counts()
		return got == n
	}, 5*time.Second, 5*time.Millisecond)

	for i, m := range c.messages() {
		assert.Equal(t, fmt.Sprintf("m%03d", i), string(m))
	}
	assert.Empty(t, c.errors(), "timeouts must not be reported")
}

func TestReceiveRequiresConnection(t *testing.T) {
	s, err := New(Options{Protocol: transport.Pair0})
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Receive(context.Background(), func(bridge.Result) {})
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestReceiveRejectsSendOnlyProtocol(t *testing.T) {
	url := "inproc://receive-push"
	pull, err := sp.Open(transport.Pull0, transport.Options{})
	require.NoError(t, err)
	require.NoError(t, pull.Listen(url))
	defer pull.Close()

	s, err := Open(transport.Push0, url, Options{})
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Receive(context.Background(), func(bridge.Result) {})
	assert.ErrorIs(t, err, ErrRecvFailed)
	assert.ErrorIs(t, err, transport.ErrUnsupported)
}

func TestOneLoopAtATime(t *testing.T) {
	s, _, _ := memPair(t, Options{RecvTimeout: 20 * time.Millisecond})

	sub, err := s.Receive(context.Background(), func(bridge.Result) {})
	require.NoError(t, err)

	_, err = s.Receive(context.Background(), func(bridge.Result) {})
	assert.ErrorIs(t, err, ErrBusy)
	_, err = s.Send([]byte("x"))
	assert.ErrorIs(t, err, ErrBusy)

	require.NoError(t, sub.Dispose())
	select {
	case <-sub.Done():
	case <-time.After(time.Second):
		t.Fatal("loop did not stop")
	}

	// the handle is free again
	sub2, err := s.Receive(context.Background(), func(bridge.Result) {})
	require.NoError(t, err)
	require.NoError(t, sub2.Dispose())
}

func TestDisposeStopsCallbacks(t *testing.T) {
	const timeout = 30 * time.Millisecond
	s, peerH, _ := memPair(t, Options{RecvTimeout: timeout})

	var c collector
	sub, err := s.Receive(context.Background(), c.cb)
	require.NoError(t, err)
	require.NoError(t, sub.Dispose())
	require.NoError(t, sub.Dispose(), "second dispose is a no-op")

	select {
	case <-sub.Done():
	case <-time.After(timeout + time.Second):
		t.Fatal("loop outlived one receive interval")
	}
	assert.NoError(t, sub.Err())

	require.NoError(t, peerH.Send([]byte("late")))
	time.Sleep(3 * timeout)
	got, errs := c.counts()
	assert.Zero(t, got)
	assert.Zero(t, errs)
}

func TestContextCancelStopsLoop(t *testing.T) {
	s, _, _ := memPair(t, Options{RecvTimeout: 20 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	sub, err := s.Receive(ctx, func(bridge.Result) {})
	require.NoError(t, err)
	cancel()

	select {
	case <-sub.Done():
	case <-time.After(time.Second):
		t.Fatal("loop ignored context cancellation")
	}
	assert.True(t, s.IsConnected())
}

func TestCloseWithActiveLoopReportsNothing(t *testing.T) {
	// No receive timeout: the loop sits in Recv until Close unblocks it.
	s, peerH := spPair(t, "receive-close", Options{})

	var c collector
	sub, err := s.Receive(context.Background(), c.cb)
	require.NoError(t, err)

	require.NoError(t, peerH.Send([]byte("before")))
	require.Eventually(t, func() bool {
		got, _ := c.counts()
		return got == 1
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, s.Close())
	select {
	case <-sub.Done():
	default:
		t.Fatal("Close returned before the loop exited")
	}
	assert.False(t, s.IsConnected())
	assert.NoError(t, sub.Err())
	assert.NoError(t, sub.Dispose())

	time.Sleep(50 * time.Millisecond)
	got, errs := c.counts()
	assert.Equal(t, 1, got)
	assert.Zero(t, errs)
}

func TestRecoverableErrorsKeepLoopRunning(t *testing.T) {
	s, peerH, own := memPair(t, Options{RecvTimeout: 20 * time.Millisecond})

	var c collector
	sub, err := s.Receive(context.Background(), c.cb)
	require.NoError(t, err)
	defer sub.Dispose()

	glitch := errors.New("checksum mismatch")
	own.Inject(glitch)
	require.Eventually(t, func() bool {
		_, errs := c.counts()
		return errs == 1
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, peerH.Send([]byte("still here")))
	require.Eventually(t, func() bool {
		got, _ := c.counts()
		return got == 1
	}, 2*time.Second, 5*time.Millisecond)

	errs := c.errors()
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], ErrRecvFailed)
	assert.ErrorIs(t, errs[0], glitch)
	assert.Equal(t, []byte("still here"), c.messages()[0])

	select {
	case <-sub.Done():
		t.Fatal("loop stopped on a recoverable error")
	default:
	}
}

func TestClosedTransportEndsLoopOnce(t *testing.T) {
	s, _, own := memPair(t, Options{RecvTimeout: 20 * time.Millisecond})

	var c collector
	sub, err := s.Receive(context.Background(), c.cb)
	require.NoError(t, err)

	own.Inject(transport.ErrClosed)
	select {
	case <-sub.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("loop kept running on a closed transport")
	}
	sub.Wait()

	errs := c.errors()
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], ErrConnectionClosed)
	assert.ErrorIs(t, sub.Err(), ErrConnectionClosed)

	err = sub.Dispose()
	assert.ErrorIs(t, err, ErrDispose)
	assert.True(t, IsRecoverable(err))
	assert.NoError(t, sub.Dispose())
}

func TestBlockingDelivery(t *testing.T) {
	s, peerH, _ := memPair(t, Options{RecvTimeout: 20 * time.Millisecond})

	var c collector
	sub, err := s.Receive(context.Background(), c.cb, WithDelivery(bridge.Blocking), WithBufferSize(4))
	require.NoError(t, err)
	defer sub.Dispose()

	for i := 0; i < 20; i++ {
		require.NoError(t, peerH.Send([]byte{byte(i)}))
	}
	require.Eventually(t, func() bool {
		got, _ := c.counts()
		return got == 20
	}, 2*time.Second, 5*time.Millisecond)
	for i, m := range c.messages() {
		assert.Equal(t, []byte{byte(i)}, m)
	}
}

func TestDisposeFromCallback(t *testing.T) {
	s, peerH, _ := memPair(t, Options{RecvTimeout: 20 * time.Millisecond})

	var (
		mu    sync.Mutex
		calls int
		sub   *Subscription
	)
	ready := make(chan struct{})
	var err error
	sub, err = s.Receive(context.Background(), func(bridge.Result) {
		<-ready
		mu.Lock()
		calls++
		mu.Unlock()
		_ = sub.Dispose()
	})
	require.NoError(t, err)
	close(ready)

	for i := 0; i < 5; i++ {
		require.NoError(t, peerH.Send([]byte("x")))
	}
	select {
	case <-sub.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not stop")
	}
	sub.Wait()
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, calls)
}

func TestDisposeWithoutTimeoutWaitsForNextMessage(t *testing.T) {
	s, peerH, _ := memPair(t, Options{})

	var c collector
	sub, err := s.Receive(context.Background(), c.cb)
	require.NoError(t, err)
	require.NoError(t, sub.Dispose())

	// the loop is parked in an unbounded receive
	_, err = s.Send([]byte("x"))
	assert.ErrorIs(t, err, ErrBusy)
	select {
	case <-sub.Done():
		t.Fatal("loop exited without a message")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, peerH.Send([]byte("wake")))
	select {
	case <-sub.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("loop ignored the message after Dispose")
	}
	got, errs := c.counts()
	assert.Zero(t, got, "the waking message is dropped")
	assert.Zero(t, errs)

	// handle is free again; the reply is already queued
	require.NoError(t, peerH.Send([]byte("reply")))
	reply, err := s.Send([]byte("req"))
	require.NoError(t, err)
	assert.Equal(t, []byte("reply"), reply)
}
