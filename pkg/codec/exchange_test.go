package codec

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/structpb"

	"nbng/pkg/bridge"
)

type echoSender struct {
	last []byte
	err  error
}

func (e *echoSender) Send(b []byte) ([]byte, error) {
	e.last = b
	if e.err != nil {
		return nil, e.err
	}
	return b, nil
}

type ping struct {
	Seq  int    `json:"seq" cbor:"seq"`
	Body string `json:"body" cbor:"body"`
}

func TestCallRoundTrip(t *testing.T) {
	c, err := CBOR()
	require.NoError(t, err)
	s := &echoSender{}

	var out ping
	require.NoError(t, Call(s, c, ping{Seq: 7, Body: "hi"}, &out))
	assert.Equal(t, ping{Seq: 7, Body: "hi"}, out)
	assert.NotEmpty(t, s.last)

	require.NoError(t, Call(s, c, ping{Seq: 8}, nil))
}

func TestCallPassesSessionErrors(t *testing.T) {
	boom := errors.New("boom")
	err := Call(&echoSender{err: boom}, JSON(), ping{}, &ping{})
	assert.Same(t, boom, err)
}

func TestCallReportsMarshalErrors(t *testing.T) {
	s := &echoSender{}
	err := Call(s, Proto(), ping{}, nil)
	require.Error(t, err)
	assert.Nil(t, s.last, "nothing sent")
}

func TestDecodeStruct(t *testing.T) {
	var (
		got    ping
		gotErr error
	)
	cb := Decode(JSON(), func(v ping, err error) { got, gotErr = v, err })

	cb(bridge.Success([]byte(`{"seq":3,"body":"x"}`)))
	require.NoError(t, gotErr)
	assert.Equal(t, ping{Seq: 3, Body: "x"}, got)

	cb(bridge.Success([]byte(`not json`)))
	assert.Error(t, gotErr)

	failure := errors.New("recv failed")
	cb(bridge.Failure(failure))
	assert.ErrorIs(t, gotErr, failure)
}

func TestDecodeProtoPointer(t *testing.T) {
	in, err := structpb.NewStruct(map[string]any{"k": "v"})
	require.NoError(t, err)
	b, err := Proto().Marshal(in)
	require.NoError(t, err)

	var got *structpb.Struct
	cb := Decode(Proto(), func(v *structpb.Struct, err error) {
		require.NoError(t, err)
		got = v
	})
	cb(bridge.Success(b))
	require.NotNil(t, got)
	assert.Equal(t, "v", got.Fields["k"].GetStringValue())
}

func TestDocumentsThroughEveryCodec(t *testing.T) {
	reg, err := NewRegistry()
	require.NoError(t, err)

	for _, name := range reg.Names() {
		t.Run(name, func(t *testing.T) {
			c, err := reg.Lookup(name)
			require.NoError(t, err)

			var reply any
			require.NoError(t, Call(&echoSender{}, c, map[string]any{"op": "ping"}, &reply))
			assert.Equal(t, "ping", reply.(map[string]any)["op"])

			var got any
			b, err := c.Marshal(map[string]any{"op": "pong"})
			require.NoError(t, err)
			Decode(c, func(v any, err error) {
				require.NoError(t, err)
				got = v
			})(bridge.Success(b))
			assert.Equal(t, "pong", got.(map[string]any)["op"])
		})
	}
}
