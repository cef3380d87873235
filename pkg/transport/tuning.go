package transport

import (
	"fmt"
	"time"

	"github.com/mitchellh/mapstructure"
)

// Tuning holds optional transport knobs. Zero values keep the transport defaults.
type Tuning struct {
	// MaxRecvSize caps inbound message size in bytes.
	MaxRecvSize int `mapstructure:"max_recv_size"`
	// ReadQLen and WriteQLen size the per-socket message queues.
	ReadQLen  int `mapstructure:"read_qlen"`
	WriteQLen int `mapstructure:"write_qlen"`
	// ReconnectTime is the initial redial interval of a dialer, MaxReconnectTime caps its backoff.
	ReconnectTime    time.Duration `mapstructure:"reconnect_time"`
	MaxReconnectTime time.Duration `mapstructure:"max_reconnect_time"`
}

// DecodeTuning decodes the free-form `extra` section of a socket config.
// Durations accept strings such as "250ms" as well as integer nanoseconds.
func DecodeTuning(extra map[string]any) (Tuning, error) {
	var t Tuning
	if len(extra) == 0 {
		return t, nil
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           &t,
	})
	if err != nil {
		return t, err
	}
	if err := dec.Decode(extra); err != nil {
		return t, fmt.Errorf("decode transport tuning: %w", err)
	}
	if t.MaxRecvSize < 0 || t.ReadQLen < 0 || t.WriteQLen < 0 {
		return t, fmt.Errorf("decode transport tuning: negative size")
	}
	return t, nil
}
