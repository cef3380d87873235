package peer

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nbng/pkg/observability"
	"nbng/pkg/transport"
	"nbng/pkg/transport/mem"
	"nbng/pkg/transport/sp"
)

func serve(t *testing.T, r *Responder) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- r.Serve(ctx); close(errc) }()
	t.Cleanup(func() {
		cancel()
		<-errc
	})
	return cancel, errc
}

func dialReq(t *testing.T, url string) transport.Handle {
	t.Helper()
	h, err := sp.Open(transport.Req0, transport.Options{RecvTimeout: 2 * time.Second, SendTimeout: time.Second})
	require.NoError(t, err)
	require.NoError(t, h.Dial(url))
	t.Cleanup(func() { _ = h.Close() })
	return h
}

func TestEchoResponder(t *testing.T) {
	const url = "inproc://peer-echo"
	reg := prometheus.NewRegistry()
	m, err := observability.NewMetrics(reg)
	require.NoError(t, err)
	r, err := Listen(sp.Open, transport.Rep0, url, transport.Options{}, Echo, Options{Metrics: m})
	require.NoError(t, err)
	serve(t, r)

	req := dialReq(t, url)
	for _, msg := range []string{"a", "bb", "ccc"} {
		require.NoError(t, req.Send([]byte(msg)))
		reply, err := req.Recv()
		require.NoError(t, err)
		assert.Equal(t, msg, string(reply))
	}
	assert.Eventually(t, func() bool {
		return testutil.GatherAndCompare(reg, strings.NewReader(`
# HELP nbng_peer_replies_total Replies sent by responders.
# TYPE nbng_peer_replies_total counter
nbng_peer_replies_total 3
`), "nbng_peer_replies_total") == nil
	}, time.Second, 10*time.Millisecond)
}

func TestRespondentWithoutDeadlines(t *testing.T) {
	const url = "inproc://peer-respondent"
	r, err := Listen(sp.Open, transport.Respondent0, url, transport.Options{}, Echo, Options{})
	require.NoError(t, err)
	serve(t, r)

	sv, err := sp.Open(transport.Surveyor0, transport.Options{RecvTimeout: 200 * time.Millisecond, SendTimeout: time.Second})
	require.NoError(t, err)
	t.Cleanup(func() { _ = sv.Close() })
	require.NoError(t, sv.Dial(url))

	// a survey only reaches respondents already attached, so repeat until one answers
	assert.Eventually(t, func() bool {
		if err := sv.Send([]byte("who")); err != nil {
			return false
		}
		reply, err := sv.Recv()
		return err == nil && string(reply) == "who"
	}, 3*time.Second, 10*time.Millisecond)
}

func TestHandlerTransformsAndSkips(t *testing.T) {
	const url = "inproc://peer-handler"
	r, err := Listen(sp.Open, transport.Rep0, url, transport.Options{}, func(req []byte) ([]byte, error) {
		if string(req) == "bad" {
			return nil, errors.New("rejected")
		}
		return append([]byte("re:"), req...), nil
	}, Options{})
	require.NoError(t, err)
	serve(t, r)

	req := dialReq(t, url)
	// no reply for a failed request; a new request supersedes it
	require.NoError(t, req.Send([]byte("bad")))
	require.NoError(t, req.Send([]byte("ok")))
	reply, err := req.Recv()
	require.NoError(t, err)
	assert.Equal(t, "re:ok", string(reply))
}

func TestServeStopsOnCancel(t *testing.T) {
	r, err := Listen(sp.Open, transport.Rep0, "inproc://peer-cancel", transport.Options{}, Echo, Options{})
	require.NoError(t, err)
	cancel, errc := serve(t, r)

	cancel()
	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return")
	}
	assert.NoError(t, r.Close(), "closing twice is not an error")
}

func TestServeRejectsSendOnlyProtocol(t *testing.T) {
	r, err := Listen(sp.Open, transport.Push0, "inproc://peer-push", transport.Options{}, Echo, Options{})
	require.NoError(t, err)
	defer r.Close()

	err = r.Serve(context.Background())
	assert.ErrorIs(t, err, transport.ErrUnsupported)
}

func TestReplyRate(t *testing.T) {
	n := mem.NewNetwork()
	r, err := Listen(n.Factory(), transport.Pair0, "mem://paced", transport.Options{}, Echo, Options{Rate: 20, Burst: 1})
	require.NoError(t, err)
	serve(t, r)

	c, err := n.Open(transport.Pair0, transport.Options{RecvTimeout: 2 * time.Second, SendTimeout: time.Second})
	require.NoError(t, err)
	require.NoError(t, c.Dial("mem://paced"))
	defer c.Close()

	start := time.Now()
	for i := 0; i < 4; i++ {
		require.NoError(t, c.Send([]byte{byte(i)}))
	}
	for i := 0; i < 4; i++ {
		b, err := c.Recv()
		require.NoError(t, err)
		assert.Equal(t, []byte{byte(i)}, b)
	}
	// burst of one, then 50ms per token
	assert.GreaterOrEqual(t, time.Since(start), 120*time.Millisecond)
}

func TestListenFailures(t *testing.T) {
	n := mem.NewNetwork()
	r, err := Listen(n.Factory(), transport.Rep0, "mem://taken", transport.Options{}, Echo, Options{})
	require.NoError(t, err)
	defer r.Close()

	_, err = Listen(n.Factory(), transport.Rep0, "mem://taken", transport.Options{}, Echo, Options{})
	assert.ErrorIs(t, err, mem.ErrAddrInUse)

	_, err = Listen(n.Factory(), transport.ProtocolUnknown, "mem://other", transport.Options{}, Echo, Options{})
	assert.Error(t, err)
}
