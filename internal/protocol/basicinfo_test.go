package protocol_test

import (
	"encoding/binary"
	"testing"

	"github.com/shini4i/dp100-daemon/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func basicInfoPayload(vin, vout, iout, power, temp1, temp2, dc5v, status uint16) []byte {
	data := make([]byte, 16)
	for i, v := range []uint16{vin, vout, iout, power, temp1, temp2, dc5v, status} {
		binary.LittleEndian.PutUint16(data[i*2:], v)
	}
	return data
}

func TestParseBasicInfo(t *testing.T) {
	data := basicInfoPayload(1205, 12000, 1500, 1800, 345, 251, 5012, 0x0003)

	info, err := protocol.ParseBasicInfo(data)
	require.NoError(t, err)

	assert.InDelta(t, 12.05, info.Vin, 0.001)
	assert.InDelta(t, 12.0, info.Vout, 0.001)
	assert.InDelta(t, 1.5, info.Iout, 0.001)
	assert.InDelta(t, 18.0, info.Power, 0.001)
	assert.InDelta(t, 34.5, info.Temp1, 0.001)
	assert.InDelta(t, 25.1, info.Temp2, 0.001)
	assert.InDelta(t, 5.012, info.DC5V, 0.001)
	assert.True(t, info.OutputOn())
	assert.True(t, info.ConstantCurrent())
	assert.False(t, info.Status.Tripped())
}

func TestParseBasicInfo_WrongLength(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{name: "empty", data: nil},
		{name: "truncated", data: make([]byte, 15)},
		{name: "oversized", data: make([]byte, 17)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := protocol.ParseBasicInfo(tt.data)
			assert.ErrorIs(t, err, protocol.ErrMalformedFrame)
		})
	}
}

func TestStatusBits_Tripped(t *testing.T) {
	tests := []struct {
		name    string
		status  protocol.StatusBits
		tripped bool
	}{
		{name: "all clear", status: 0, tripped: false},
		{name: "output on only", status: protocol.StatusOutputOn, tripped: false},
		{name: "constant current only", status: protocol.StatusModeCC, tripped: false},
		{name: "over-voltage", status: protocol.StatusOVP, tripped: true},
		{name: "over-current", status: protocol.StatusOCP, tripped: true},
		{name: "over-power", status: protocol.StatusOPP, tripped: true},
		{name: "over-temperature", status: protocol.StatusOTP, tripped: true},
		{name: "output on with trip", status: protocol.StatusOutputOn | protocol.StatusOTP, tripped: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.tripped, tt.status.Tripped())
		})
	}
}
