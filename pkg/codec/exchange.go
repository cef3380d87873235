package codec

import (
	"fmt"
	"reflect"

	"nbng/pkg/bridge"
)

// Sender performs one request/reply round trip; *session.Session satisfies it.
type Sender interface {
	Send(payload []byte) ([]byte, error)
}

// Call marshals req, sends it and unmarshals the reply into resp.
// A nil resp discards the reply. Session errors are returned unwrapped so
// errors.Is keeps working on them.
func Call(s Sender, c Codec, req, resp any) error {
	b, err := c.Marshal(req)
	if err != nil {
		return fmt.Errorf("codec: marshal request: %w", err)
	}
	reply, err := s.Send(b)
	if err != nil {
		return err
	}
	if resp == nil {
		return nil
	}
	if err := c.Unmarshal(reply, resp); err != nil {
		return fmt.Errorf("codec: unmarshal reply: %w", err)
	}
	return nil
}

// Decode adapts a typed handler into a receive callback. Delivery failures and
// payloads that do not decode are passed to fn as errors. Pointer types are
// allocated before decoding, so T may be a protobuf message pointer.
func Decode[T any](c Codec, fn func(v T, err error)) bridge.Callback {
	return func(r bridge.Result) {
		var v T
		if r.Err != nil {
			fn(v, r.Err)
			return
		}
		var target any = &v
		if t := reflect.TypeOf(v); t != nil && t.Kind() == reflect.Pointer {
			v = reflect.New(t.Elem()).Interface().(T)
			target = v
		}
		if err := c.Unmarshal(r.Payload, target); err != nil {
			fn(v, fmt.Errorf("codec: decode %s: %w", c.ContentType(), err))
			return
		}
		fn(v, nil)
	}
}
