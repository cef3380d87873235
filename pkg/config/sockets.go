package config

import (
	"fmt"
	"strings"
	"time"

	"nbng/pkg/transport"
)

// SocketConfig describes one socket opened at startup.
// Example YAML:
// sockets:
//   - name: backend
//     protocol: req
//     url: tcp://127.0.0.1:5555
//     recv_timeout_ms: 1000
//     send_timeout_ms: 1000
//   - name: echo
//     protocol: rep
//     url: tcp://127.0.0.1:5555
//     mode: listen
//     reply_rate: 100
//   - name: feed
//     protocol: sub
//     url: tcp://127.0.0.1:5556
//     receive: true
//     extra:
//       max_recv_size: 1048576
//       reconnect_time: 250ms
type SocketConfig struct {
	Name     string `mapstructure:"name" yaml:"name"`
	Protocol string `mapstructure:"protocol" yaml:"protocol"`
	URL      string `mapstructure:"url" yaml:"url"`
	// Mode is "dial" (a session) or "listen" (an echo responder bound to URL)
	Mode string `mapstructure:"mode" yaml:"mode"`

	// Zero means wait indefinitely
	RecvTimeoutMS uint32 `mapstructure:"recv_timeout_ms" yaml:"recv_timeout_ms"`
	SendTimeoutMS uint32 `mapstructure:"send_timeout_ms" yaml:"send_timeout_ms"`

	// SendRate caps round trips per second on a dial socket, 0 for no limit
	SendRate int `mapstructure:"send_rate" yaml:"send_rate"`
	// Receive starts a receive loop on a dial socket
	Receive bool `mapstructure:"receive" yaml:"receive"`
	// Delivery: nonblocking (default) or blocking
	Delivery string `mapstructure:"delivery" yaml:"delivery"`
	// ReplyRate caps replies per second on a listen socket, 0 for no limit
	ReplyRate float64 `mapstructure:"reply_rate" yaml:"reply_rate"`
	// Format names the payload codec used when logging received messages:
	// raw (default), json, cbor or proto
	Format string `mapstructure:"format" yaml:"format"`

	// Extra holds transport tuning, see transport.Tuning
	Extra map[string]any `mapstructure:"extra" yaml:"extra,omitempty"`
}

const (
	ModeDial   = "dial"
	ModeListen = "listen"

	FormatRaw = "raw"
)

func (s *SocketConfig) normalize(idx int) error {
	s.Name = strings.TrimSpace(s.Name)
	if s.Name == "" {
		s.Name = fmt.Sprintf("socket-%d", idx)
	}
	p, err := transport.ParseProtocol(s.Protocol)
	if err != nil {
		return err
	}
	if strings.TrimSpace(s.URL) == "" {
		return fmt.Errorf("url is required")
	}
	s.Mode = strings.ToLower(strings.TrimSpace(s.Mode))
	switch s.Mode {
	case "":
		s.Mode = ModeDial
	case ModeDial, ModeListen:
	default:
		return fmt.Errorf("invalid mode: %q", s.Mode)
	}
	if !p.CanReceive() {
		// listen sockets answer what they receive
		if s.Mode == ModeListen {
			return fmt.Errorf("%s cannot receive, use mode dial", p)
		}
		if s.Receive {
			return fmt.Errorf("%s cannot receive, drop receive: true", p)
		}
	}
	s.Delivery = strings.ToLower(strings.TrimSpace(s.Delivery))
	switch s.Delivery {
	case "":
		s.Delivery = "nonblocking"
	case "nonblocking", "blocking":
	default:
		return fmt.Errorf("invalid delivery: %q", s.Delivery)
	}
	s.Format = strings.ToLower(strings.TrimSpace(s.Format))
	switch s.Format {
	case "":
		s.Format = FormatRaw
	case FormatRaw, "json", "cbor", "proto":
	default:
		return fmt.Errorf("invalid format: %q", s.Format)
	}
	if s.SendRate < 0 || s.ReplyRate < 0 {
		return fmt.Errorf("rates must not be negative")
	}
	if _, err := transport.DecodeTuning(s.Extra); err != nil {
		return err
	}
	return nil
}

// ProtocolType returns the parsed protocol. Valid after Load.
func (s SocketConfig) ProtocolType() transport.Protocol {
	p, _ := transport.ParseProtocol(s.Protocol)
	return p
}

// TransportOptions converts the millisecond timeouts and extra tuning.
func (s SocketConfig) TransportOptions() (transport.Options, error) {
	t, err := transport.DecodeTuning(s.Extra)
	if err != nil {
		return transport.Options{}, err
	}
	return transport.Options{
		RecvTimeout: time.Duration(s.RecvTimeoutMS) * time.Millisecond,
		SendTimeout: time.Duration(s.SendTimeoutMS) * time.Millisecond,
		Tuning:      t,
	}, nil
}
