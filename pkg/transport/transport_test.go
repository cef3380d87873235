package transport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseProtocol(t *testing.T) {
	cases := map[string]Protocol{
		"pair":        Pair0,
		"Pair1":       Pair1,
		"pub":         Pub0,
		"SUB0":        Sub0,
		" req ":       Req0,
		"rep0":        Rep0,
		"surveyor":    Surveyor0,
		"respondent0": Respondent0,
		"push":        Push0,
		"pull0":       Pull0,
		"bus":         Bus0,
	}
	for in, want := range cases {
		got, err := ParseProtocol(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	for _, bad := range []string{"", "dealer", "req2"} {
		_, err := ParseProtocol(bad)
		var unknown ErrUnknownProtocol
		assert.ErrorAs(t, err, &unknown, bad)
	}
}

func TestProtocolNamesRoundTrip(t *testing.T) {
	for _, p := range Protocols() {
		assert.True(t, p.Valid())
		got, err := ParseProtocol(p.String())
		require.NoError(t, err)
		assert.Equal(t, p, got)
	}
	assert.False(t, ProtocolUnknown.Valid())
	assert.Equal(t, "unknown", Protocol(99).String())
}

func TestCanReceive(t *testing.T) {
	assert.False(t, Pub0.CanReceive())
	assert.False(t, Push0.CanReceive())
	assert.True(t, Sub0.CanReceive())
	assert.True(t, Req0.CanReceive())
	assert.True(t, Pair1.CanReceive())
}

func TestDecodeTuning(t *testing.T) {
	tun, err := DecodeTuning(map[string]any{
		"max_recv_size":  "1048576",
		"read_qlen":      16,
		"reconnect_time": "250ms",
	})
	require.NoError(t, err)
	assert.Equal(t, 1048576, tun.MaxRecvSize)
	assert.Equal(t, 16, tun.ReadQLen)
	assert.Equal(t, 250*time.Millisecond, tun.ReconnectTime)
	assert.Zero(t, tun.MaxReconnectTime)

	empty, err := DecodeTuning(nil)
	require.NoError(t, err)
	assert.Equal(t, Tuning{}, empty)

	_, err = DecodeTuning(map[string]any{"no_such_knob": 1})
	assert.Error(t, err)

	_, err = DecodeTuning(map[string]any{"write_qlen": -1})
	assert.Error(t, err)
}
