// Package sp backs transport handles with mangos, the Go implementation of the
// nanomsg scalability protocols. All mangos transports (tcp, ipc, inproc, ws,
// tls+tcp) are registered, so any URL mangos understands can be dialed.
package sp

import (
	"errors"
	"fmt"

	mangos "go.nanomsg.org/mangos/v3"
	"go.nanomsg.org/mangos/v3/protocol/bus"
	"go.nanomsg.org/mangos/v3/protocol/pair"
	"go.nanomsg.org/mangos/v3/protocol/pair1"
	"go.nanomsg.org/mangos/v3/protocol/pub"
	"go.nanomsg.org/mangos/v3/protocol/pull"
	"go.nanomsg.org/mangos/v3/protocol/push"
	"go.nanomsg.org/mangos/v3/protocol/rep"
	"go.nanomsg.org/mangos/v3/protocol/req"
	"go.nanomsg.org/mangos/v3/protocol/respondent"
	"go.nanomsg.org/mangos/v3/protocol/sub"
	"go.nanomsg.org/mangos/v3/protocol/surveyor"
	_ "go.nanomsg.org/mangos/v3/transport/all"
	"go.uber.org/zap"

	"nbng/pkg/transport"
)

// newSocket maps a protocol 1:1 onto the mangos socket constructor.
func newSocket(p transport.Protocol) (mangos.Socket, error) {
	switch p {
	case transport.Pair0:
		return pair.NewSocket()
	case transport.Pair1:
		return pair1.NewSocket()
	case transport.Pub0:
		return pub.NewSocket()
	case transport.Sub0:
		return sub.NewSocket()
	case transport.Req0:
		return req.NewSocket()
	case transport.Rep0:
		return rep.NewSocket()
	case transport.Surveyor0:
		return surveyor.NewSocket()
	case transport.Respondent0:
		return respondent.NewSocket()
	case transport.Push0:
		return push.NewSocket()
	case transport.Pull0:
		return pull.NewSocket()
	case transport.Bus0:
		return bus.NewSocket()
	default:
		return nil, transport.ErrUnknownProtocol(p.String())
	}
}

// Open creates a mangos socket for p and applies opts before returning it.
// It satisfies transport.Factory.
func Open(p transport.Protocol, opts transport.Options) (transport.Handle, error) {
	sock, err := newSocket(p)
	if err != nil {
		return nil, fmt.Errorf("sp: new %s socket: %w", p, err)
	}
	if err := apply(sock, p, opts); err != nil {
		_ = sock.Close()
		return nil, fmt.Errorf("sp: configure %s socket: %w", p, err)
	}
	return &handle{proto: p, sock: sock}, nil
}

func apply(sock mangos.Socket, p transport.Protocol, opts transport.Options) error {
	if p == transport.Sub0 {
		// Topic filtering is left to the application; receive everything.
		if err := sock.SetOption(mangos.OptionSubscribe, []byte{}); err != nil {
			return err
		}
	}
	t := opts.Tuning
	// Deadlines are only set when bounded: mangos sockets start without one, and
	// rep and respondent reject a zero deadline as an invalid value.
	settings := []struct {
		name string
		val  any
		set  bool
	}{
		{mangos.OptionRecvDeadline, opts.RecvTimeout, opts.RecvTimeout > 0},
		{mangos.OptionSendDeadline, opts.SendTimeout, opts.SendTimeout > 0},
		{mangos.OptionMaxRecvSize, t.MaxRecvSize, t.MaxRecvSize > 0},
		{mangos.OptionReconnectTime, t.ReconnectTime, t.ReconnectTime > 0},
		{mangos.OptionMaxReconnectTime, t.MaxReconnectTime, t.MaxReconnectTime > 0},
		{mangos.OptionReadQLen, t.ReadQLen, t.ReadQLen > 0},
		{mangos.OptionWriteQLen, t.WriteQLen, t.WriteQLen > 0},
	}
	for _, o := range settings {
		if !o.set {
			continue
		}
		if err := sock.SetOption(o.name, o.val); err != nil {
			// Send-only and receive-only protocols reject options for the missing direction.
			if errors.Is(err, mangos.ErrBadOption) {
				zap.L().Debug("option not supported", zap.String("protocol", p.String()), zap.String("option", o.name))
				continue
			}
			return fmt.Errorf("%s: %w", o.name, err)
		}
	}
	return nil
}

type handle struct {
	proto transport.Protocol
	sock  mangos.Socket
}

func (h *handle) Protocol() transport.Protocol { return h.proto }

func (h *handle) Dial(url string) error { return mapErr(h.sock.Dial(url)) }

func (h *handle) Listen(url string) error { return mapErr(h.sock.Listen(url)) }

func (h *handle) Send(msg []byte) error { return mapErr(h.sock.Send(msg)) }

func (h *handle) Recv() ([]byte, error) {
	msg, err := h.sock.Recv()
	if err != nil {
		return nil, mapErr(err)
	}
	return msg, nil
}

func (h *handle) Close() error { return mapErr(h.sock.Close()) }

// mapErr translates mangos errors into the transport sentinels while keeping
// the mangos error in the chain.
func mapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, mangos.ErrClosed):
		return fmt.Errorf("%w: %w", transport.ErrClosed, err)
	case errors.Is(err, mangos.ErrRecvTimeout):
		return fmt.Errorf("%w: %w", transport.ErrRecvTimeout, err)
	case errors.Is(err, mangos.ErrSendTimeout):
		return fmt.Errorf("%w: %w", transport.ErrSendTimeout, err)
	case errors.Is(err, mangos.ErrProtoOp):
		return fmt.Errorf("%w: %w", transport.ErrUnsupported, err)
	default:
		return err
	}
}
