package protocol_test

import (
	"testing"

	"github.com/shini4i/dp100-daemon/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeSetpointWrite_Layout(t *testing.T) {
	data := protocol.EncodeSetpointWrite(protocol.Setpoint{
		OutputOn: true,
		Voltage:  12.0,
		Current:  1.5,
	})
	require.Len(t, data, 9)

	assert.Equal(t, byte(0x20), data[0], "write opcode")
	assert.Equal(t, []byte{0x01, 0x00}, data[1:3], "output state")
	assert.Equal(t, []byte{0xE0, 0x2E}, data[3:5], "12000 mV little-endian")
	assert.Equal(t, []byte{0xDC, 0x05}, data[5:7], "1500 mA little-endian")
	assert.Equal(t, []byte{0xFF, 0xFF}, data[7:9], "reserved field")
}

func TestSetpoint_RoundTrip(t *testing.T) {
	tests := []struct {
		name string
		sp   protocol.Setpoint
	}{
		{name: "output off at zero", sp: protocol.Setpoint{}},
		{name: "typical bench setting", sp: protocol.Setpoint{OutputOn: true, Voltage: 5.0, Current: 2.0}},
		{name: "millivolt resolution", sp: protocol.Setpoint{OutputOn: true, Voltage: 3.299, Current: 0.105}},
		{name: "full range", sp: protocol.Setpoint{OutputOn: false, Voltage: 30.0, Current: 5.0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := protocol.ParseSetpoint(protocol.EncodeSetpointWrite(tt.sp))
			require.NoError(t, err)

			assert.Equal(t, tt.sp.OutputOn, got.OutputOn)
			assert.InDelta(t, tt.sp.Voltage, got.Voltage, 0.0005)
			assert.InDelta(t, tt.sp.Current, got.Current, 0.0005)
		})
	}
}

func TestSetpoint_MilliRounding(t *testing.T) {
	sp := protocol.Setpoint{Voltage: 3.2999, Current: 0.1049}
	assert.Equal(t, 3300, sp.VoltageMilli())
	assert.Equal(t, 105, sp.CurrentMilli())
}

func TestEncodeSetpointQuery(t *testing.T) {
	assert.Equal(t, []byte{0x80}, protocol.EncodeSetpointQuery())
}

func TestParseSetpointAck(t *testing.T) {
	tests := []struct {
		name      string
		data      []byte
		accepted  bool
		expectErr bool
	}{
		{name: "accepted", data: []byte{0x01}, accepted: true},
		{name: "rejected", data: []byte{0x00}, accepted: false},
		{name: "nonstandard value treated as rejected", data: []byte{0x02}, accepted: false},
		{name: "empty payload", data: nil, expectErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, err := protocol.ParseSetpointAck(tt.data)
			if tt.expectErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, protocol.ErrMalformedFrame)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.accepted, ok)
		})
	}
}

func TestParseSetpoint_Truncated(t *testing.T) {
	_, err := protocol.ParseSetpoint([]byte{0x20, 0x01, 0x00})
	assert.ErrorIs(t, err, protocol.ErrMalformedFrame)
}
