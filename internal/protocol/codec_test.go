package protocol_test

import (
	"encoding/binary"
	"testing"

	"github.com/shini4i/dp100-daemon/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReportCodec_Encode_Layout(t *testing.T) {
	codec := protocol.ReportCodec{}

	report, err := codec.Encode(protocol.Frame{
		Function: protocol.FuncBasicInfo,
		Sequence: 7,
		Payload:  []byte{0xAB, 0xCD},
	})
	require.NoError(t, err)
	require.Len(t, report, protocol.ReportSize)

	assert.Equal(t, byte(0xFB), report[0], "header byte")
	assert.Equal(t, byte(0x30), report[1], "function code")
	assert.Equal(t, byte(7), report[2], "sequence")
	assert.Equal(t, byte(2), report[3], "payload length")
	assert.Equal(t, byte(0xAB), report[4])
	assert.Equal(t, byte(0xCD), report[5])

	wantCRC := protocol.CRC16(report[:6])
	assert.Equal(t, wantCRC, binary.LittleEndian.Uint16(report[6:8]), "checksum")

	for i := 8; i < protocol.ReportSize; i++ {
		assert.Zero(t, report[i], "byte %d should be zero padding", i)
	}
}

func TestReportCodec_RoundTrip(t *testing.T) {
	codec := protocol.ReportCodec{}

	tests := []struct {
		name  string
		frame protocol.Frame
	}{
		{
			name:  "empty payload",
			frame: protocol.Frame{Function: protocol.FuncBasicInfo, Sequence: 1},
		},
		{
			name: "setpoint write",
			frame: protocol.Frame{
				Function: protocol.FuncBasicSet,
				Sequence: 200,
				Payload:  protocol.EncodeSetpointWrite(protocol.Setpoint{OutputOn: true, Voltage: 12.0, Current: 1.5}),
			},
		},
		{
			name: "maximum payload",
			frame: protocol.Frame{
				Function: protocol.FuncSystemInfo,
				Sequence: 255,
				Payload:  make([]byte, protocol.MaxPayload),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report, err := codec.Encode(tt.frame)
			require.NoError(t, err)

			decoded, err := codec.Decode(report)
			require.NoError(t, err)

			assert.Equal(t, tt.frame.Function, decoded.Function)
			assert.Equal(t, tt.frame.Sequence, decoded.Sequence)
			if len(tt.frame.Payload) == 0 {
				assert.Empty(t, decoded.Payload)
			} else {
				assert.Equal(t, tt.frame.Payload, decoded.Payload)
			}
		})
	}
}

func TestReportCodec_Encode_PayloadTooLarge(t *testing.T) {
	codec := protocol.ReportCodec{}

	_, err := codec.Encode(protocol.Frame{
		Function: protocol.FuncBasicSet,
		Payload:  make([]byte, protocol.MaxPayload+1),
	})
	assert.ErrorIs(t, err, protocol.ErrPayloadTooLarge)
}

func TestReportCodec_Decode_Checksum(t *testing.T) {
	codec := protocol.ReportCodec{}

	report, err := codec.Encode(protocol.Frame{
		Function: protocol.FuncBasicInfo,
		Payload:  []byte{0x01, 0x02, 0x03},
	})
	require.NoError(t, err)

	// Corrupt one payload byte; the stored checksum no longer matches.
	report[5] ^= 0xFF

	_, err = codec.Decode(report)
	assert.ErrorIs(t, err, protocol.ErrChecksum)
}

func TestReportCodec_Decode_Malformed(t *testing.T) {
	codec := protocol.ReportCodec{}

	valid, err := codec.Encode(protocol.Frame{Function: protocol.FuncBasicInfo})
	require.NoError(t, err)

	badHeader := make([]byte, protocol.ReportSize)
	copy(badHeader, valid)
	badHeader[0] = 0x00

	lengthOverrun := make([]byte, protocol.ReportSize)
	copy(lengthOverrun, valid)
	lengthOverrun[3] = 0xFF

	tests := []struct {
		name   string
		report []byte
	}{
		{name: "empty report", report: nil},
		{name: "truncated report", report: valid[:4]},
		{name: "wrong header byte", report: badHeader},
		{name: "declared length overruns report", report: lengthOverrun},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := codec.Decode(tt.report)
			assert.ErrorIs(t, err, protocol.ErrMalformedFrame)
		})
	}
}
