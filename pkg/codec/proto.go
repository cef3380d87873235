package codec

import (
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

type protoCodec struct {
	mo proto.MarshalOptions
	uo proto.UnmarshalOptions
}

// Proto returns a Protocol Buffers codec with deterministic marshaling.
// Besides generated messages it carries schemaless documents as
// google.protobuf.Struct: a map[string]any is encoded through structpb, and a
// *map[string]any or *any target receives the decoded map.
// Content-Type: application/x-protobuf
func Proto() Codec {
	return protoCodec{
		mo: proto.MarshalOptions{Deterministic: true},
		uo: proto.UnmarshalOptions{DiscardUnknown: true},
	}
}

func (p protoCodec) ContentType() string { return "application/x-protobuf" }

func (p protoCodec) Marshal(v any) ([]byte, error) {
	switch m := v.(type) {
	case proto.Message:
		return p.mo.Marshal(m)
	case map[string]any:
		st, err := structpb.NewStruct(m)
		if err != nil {
			return nil, fmt.Errorf("protobuf: document: %w", err)
		}
		return p.mo.Marshal(st)
	}
	return nil, fmt.Errorf("protobuf: cannot marshal %T, want proto.Message or map[string]any", v)
}

func (p protoCodec) Unmarshal(data []byte, v any) error {
	switch t := v.(type) {
	case proto.Message:
		return p.uo.Unmarshal(data, t)
	case *map[string]any:
		m, err := p.document(data)
		if err != nil {
			return err
		}
		*t = m
		return nil
	case *any:
		m, err := p.document(data)
		if err != nil {
			return err
		}
		*t = m
		return nil
	}
	return fmt.Errorf("protobuf: cannot unmarshal into %T", v)
}

func (p protoCodec) document(data []byte) (map[string]any, error) {
	var st structpb.Struct
	if err := p.uo.Unmarshal(data, &st); err != nil {
		return nil, err
	}
	return st.AsMap(), nil
}
