package session

import (
	"time"

	"go.uber.org/zap"

	"nbng/pkg/bridge"
	"nbng/pkg/observability"
	"nbng/pkg/transport"
	"nbng/pkg/transport/sp"
)

// Options configure a session. They are read once by New.
type Options struct {
	Protocol transport.Protocol

	// Zero waits indefinitely.
	RecvTimeout time.Duration
	SendTimeout time.Duration

	// SendRate caps round trips per second; 0 disables pacing.
	SendRate int

	Tuning transport.Tuning

	// Factory allocates the handle; defaults to sp.Open.
	Factory transport.Factory
	// Logger defaults to zap.L().Named("session").
	Logger  *zap.Logger
	Metrics *observability.Metrics
}

// TimeoutMS converts an optional millisecond timeout; nil and 0 both mean no deadline.
func TimeoutMS(ms *uint32) time.Duration {
	if ms == nil {
		return 0
	}
	return time.Duration(*ms) * time.Millisecond
}

func (o Options) withDefaults() Options {
	if o.Factory == nil {
		o.Factory = sp.Open
	}
	if o.Logger == nil {
		o.Logger = zap.L().Named("session")
	}
	if o.SendRate < 0 {
		o.SendRate = 0
	}
	return o
}

func (o Options) transport() transport.Options {
	return transport.Options{RecvTimeout: o.RecvTimeout, SendTimeout: o.SendTimeout, Tuning: o.Tuning}
}

// ReceiveOption tunes one receive loop.
type ReceiveOption func(*receiveConfig)

type receiveConfig struct {
	mode     bridge.Mode
	capacity int
}

// WithDelivery selects how results are handed to the callback.
func WithDelivery(m bridge.Mode) ReceiveOption {
	return func(c *receiveConfig) { c.mode = m }
}

// WithBufferSize bounds the pending results in blocking delivery.
func WithBufferSize(n int) ReceiveOption {
	return func(c *receiveConfig) { c.capacity = n }
}
