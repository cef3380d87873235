// Package node opens the sockets listed in a configuration and keeps them
// running until the context ends.
package node

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"nbng/pkg/bridge"
	"nbng/pkg/codec"
	"nbng/pkg/config"
	"nbng/pkg/observability"
	"nbng/pkg/peer"
	"nbng/pkg/session"
	"nbng/pkg/transport"
	"nbng/pkg/transport/sp"
)

const previewLen = 64

// Node runs the configured sessions and responders.
type Node struct {
	cfg     *config.Config
	metrics *observability.Metrics
	factory transport.Factory
	mgr     *Manager

	codecs *codec.Registry
	group  *errgroup.Group
	ctx    context.Context
	cancel context.CancelFunc
}

// New prepares a node. factory may be nil to use mangos sockets.
func New(cfg *config.Config, metrics *observability.Metrics, factory transport.Factory) *Node {
	if factory == nil {
		factory = sp.Open
	}
	return &Node{cfg: cfg, metrics: metrics, factory: factory, mgr: NewManager()}
}

func (n *Node) Manager() *Manager { return n.mgr }

// Run starts the node and blocks until ctx is done or a socket fails.
func (n *Node) Run(ctx context.Context) error {
	if err := n.Start(ctx); err != nil {
		return err
	}
	return n.Wait()
}

// Start opens every configured socket. Responders are bound before sessions
// dial so a node can talk to itself. On error everything started so far is
// closed and its goroutines have returned before Start does.
func (n *Node) Start(ctx context.Context) error {
	codecs, err := codec.NewRegistry()
	if err != nil {
		return err
	}
	n.codecs = codecs

	ctx, n.cancel = context.WithCancel(ctx)
	n.group, n.ctx = errgroup.WithContext(ctx)

	if n.cfg.Metrics.Enable && n.metrics != nil {
		n.group.Go(func() error {
			return n.metrics.Serve(n.ctx, n.cfg.Metrics.Listen, n.cfg.Metrics.Path)
		})
	}

	for _, sc := range n.cfg.Sockets {
		if sc.Mode != config.ModeListen {
			continue
		}
		if err := n.startResponder(sc); err != nil {
			return n.abort(err)
		}
	}
	for _, sc := range n.cfg.Sockets {
		if sc.Mode == config.ModeListen {
			continue
		}
		if err := n.startSession(sc); err != nil {
			return n.abort(err)
		}
	}
	if len(n.cfg.Sockets) == 0 {
		zap.L().Warn("no sockets configured")
	}

	n.group.Go(func() error {
		<-n.ctx.Done()
		return n.mgr.CloseAll()
	})
	return nil
}

// abort undoes a partial Start.
func (n *Node) abort(err error) error {
	n.cancel()
	_ = n.mgr.CloseAll()
	_ = n.group.Wait()
	return err
}

// Wait blocks until every goroutine started by Start has returned.
func (n *Node) Wait() error {
	if n.group == nil {
		return nil
	}
	defer n.cancel()
	return n.group.Wait()
}

func (n *Node) startResponder(sc config.SocketConfig) error {
	topts, err := sc.TransportOptions()
	if err != nil {
		return fmt.Errorf("socket %s: %w", sc.Name, err)
	}
	p := sc.ProtocolType()
	if !p.CanReceive() {
		return fmt.Errorf("socket %s: %s cannot listen for requests: %w", sc.Name, p, transport.ErrUnsupported)
	}
	log := zap.L().Named("peer").With(zap.String("socket", sc.Name))
	c, err := n.codecFor(sc)
	if err != nil {
		return err
	}
	r, err := peer.Listen(n.factory, p, sc.URL, topts, handlerFor(p, c, log), peer.Options{
		Rate:    sc.ReplyRate,
		Logger:  log,
		Metrics: n.metrics,
	})
	if err != nil {
		return fmt.Errorf("socket %s: %w", sc.Name, err)
	}
	if err := n.mgr.AddResponder(sc.Name, r); err != nil {
		_ = r.Close()
		return err
	}
	n.group.Go(func() error { return r.Serve(n.ctx) })
	return nil
}

func (n *Node) startSession(sc config.SocketConfig) error {
	topts, err := sc.TransportOptions()
	if err != nil {
		return fmt.Errorf("socket %s: %w", sc.Name, err)
	}
	log := zap.L().Named("session").With(zap.String("socket", sc.Name))
	s, err := session.Open(sc.ProtocolType(), sc.URL, session.Options{
		RecvTimeout: topts.RecvTimeout,
		SendTimeout: topts.SendTimeout,
		SendRate:    sc.SendRate,
		Tuning:      topts.Tuning,
		Factory:     n.factory,
		Logger:      log,
		Metrics:     n.metrics,
	})
	if err != nil {
		return fmt.Errorf("socket %s: %w", sc.Name, err)
	}
	if err := n.mgr.AddSession(sc.Name, s); err != nil {
		_ = s.Close()
		return err
	}
	if !sc.Receive {
		return nil
	}
	c, err := n.codecFor(sc)
	if err != nil {
		return err
	}
	mode := bridge.NonBlocking
	if sc.Delivery == "blocking" {
		mode = bridge.Blocking
	}
	if _, err := s.Receive(n.ctx, logMessages(log, c), session.WithDelivery(mode)); err != nil {
		return fmt.Errorf("socket %s: %w", sc.Name, err)
	}
	return nil
}

// codecFor resolves the socket's payload format; raw yields nil.
func (n *Node) codecFor(sc config.SocketConfig) (codec.Codec, error) {
	if sc.Format == "" || sc.Format == config.FormatRaw {
		return nil, nil
	}
	c, err := n.codecs.Lookup(sc.Format)
	if err != nil {
		return nil, fmt.Errorf("socket %s: %w", sc.Name, err)
	}
	return c, nil
}

// handlerFor echoes on protocols that can answer and only logs on the rest.
func handlerFor(p transport.Protocol, c codec.Codec, log *zap.Logger) peer.Handler {
	switch p {
	case transport.Rep0, transport.Pair0, transport.Pair1, transport.Respondent0, transport.Bus0:
		return peer.Echo
	}
	show := logMessages(log, c)
	return func(req []byte) ([]byte, error) {
		show(bridge.Success(req))
		return nil, nil
	}
}

// logMessages logs each delivered result. With a codec the payload is decoded
// and logged as a value, otherwise a bounded preview of the bytes is logged.
func logMessages(log *zap.Logger, c codec.Codec) bridge.Callback {
	if c != nil {
		return codec.Decode(c, func(v any, err error) {
			if err != nil {
				log.Warn("receive failed", zap.Error(err))
				return
			}
			log.Info("message received", zap.String("format", c.ContentType()), zap.Any("value", v))
		})
	}
	return func(r bridge.Result) {
		if !r.OK() {
			log.Warn("receive failed", zap.Error(r.Err))
			return
		}
		log.Info("message received", zap.Int("bytes", len(r.Payload)), zap.ByteString("preview", preview(r.Payload)))
	}
}

func preview(b []byte) []byte {
	if len(b) > previewLen {
		return b[:previewLen]
	}
	return b
}
