// Package peer runs the answering side of a socket: it binds an endpoint,
// receives requests and sends back whatever the handler returns.
package peer

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"nbng/pkg/observability"
	"nbng/pkg/transport"
)

// Handler produces the reply for one request. A nil reply sends nothing.
type Handler func(req []byte) ([]byte, error)

// Echo replies with the request itself.
func Echo(req []byte) ([]byte, error) { return req, nil }

// Options tune a Responder.
type Options struct {
	// Rate caps replies per second; 0 disables pacing.
	Rate  float64
	Burst int

	Logger  *zap.Logger
	Metrics *observability.Metrics
}

// Responder serves one handle.
type Responder struct {
	h       transport.Handle
	fn      Handler
	limiter *rate.Limiter
	log     *zap.Logger
	metrics *observability.Metrics
}

func New(h transport.Handle, fn Handler, opts Options) *Responder {
	r := &Responder{h: h, fn: fn, log: opts.Logger, metrics: opts.Metrics}
	if r.log == nil {
		r.log = zap.L().Named("peer")
	}
	if opts.Rate > 0 {
		burst := opts.Burst
		if burst < 1 {
			burst = 1
		}
		r.limiter = rate.NewLimiter(rate.Limit(opts.Rate), burst)
	}
	return r
}

// Listen allocates a handle for p, binds url and wraps it in a Responder.
func Listen(factory transport.Factory, p transport.Protocol, url string, topts transport.Options, fn Handler, opts Options) (*Responder, error) {
	h, err := factory(p, topts)
	if err != nil {
		return nil, fmt.Errorf("peer: open %s: %w", p, err)
	}
	if err := h.Listen(url); err != nil {
		_ = h.Close()
		return nil, fmt.Errorf("peer: listen %s: %w", url, err)
	}
	r := New(h, fn, opts)
	r.log = r.log.With(zap.String("url", url), zap.String("protocol", p.String()))
	return r, nil
}

// Serve answers requests until ctx is done or the handle is closed. It closes
// the handle when ctx is done and returns nil in both cases.
func (r *Responder) Serve(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { _ = r.h.Close() })
	defer stop()

	r.log.Info("responder serving")
	for {
		req, err := r.h.Recv()
		if err != nil {
			switch {
			case errors.Is(err, transport.ErrRecvTimeout):
				continue
			case errors.Is(err, transport.ErrClosed):
				r.log.Info("responder stopped")
				return nil
			case errors.Is(err, transport.ErrUnsupported):
				return fmt.Errorf("peer: %s cannot receive: %w", r.h.Protocol(), err)
			}
			r.log.Warn("recv failed", zap.Error(err))
			continue
		}

		if r.limiter != nil {
			if err := r.limiter.Wait(ctx); err != nil {
				return nil
			}
		}
		reply, err := r.fn(req)
		if err != nil {
			r.log.Warn("handler failed", zap.Error(err))
			continue
		}
		if reply == nil {
			continue
		}
		if err := r.h.Send(reply); err != nil {
			if errors.Is(err, transport.ErrClosed) {
				return nil
			}
			r.log.Warn("send reply failed", zap.Error(err))
			continue
		}
		r.metrics.Replied()
	}
}

// Close releases the handle, ending Serve.
func (r *Responder) Close() error {
	err := r.h.Close()
	if errors.Is(err, transport.ErrClosed) {
		return nil
	}
	return err
}
