package protocol

import (
	"encoding/binary"
	"errors"
)

// ErrChecksum is returned when a report fails CRC validation.
// The frame is discarded; the content cannot be trusted.
var ErrChecksum = errors.New("checksum mismatch")

// ErrMalformedFrame is returned when a report is structurally invalid
// (too short, bad header, or a declared length that overruns the report).
var ErrMalformedFrame = errors.New("malformed frame")

// ErrPayloadTooLarge is returned when a payload does not fit in one report.
var ErrPayloadTooLarge = errors.New("payload exceeds report capacity")

// Codec translates between logical frames and raw HID reports.
//
// The DP100 report layout is not vendor-documented, so the codec is an
// interface rather than a set of hard-coded offsets: the correlator, poller
// and arbiter depend only on this contract and can be exercised against a
// fake codec in tests.
type Codec interface {
	// Encode builds one fixed-size report from a frame. Deterministic and pure.
	Encode(f Frame) ([]byte, error)

	// Decode validates and parses one report into a frame. Integrity is
	// checked first; a failed check returns ErrChecksum and the frame is
	// discarded. Structural problems return ErrMalformedFrame.
	Decode(report []byte) (Frame, error)
}

// frameHeader is the start-of-frame marker (0xFB, 251 decimal).
const frameHeader byte = 0xFB

// ReportCodec implements the layout observed on the wire:
//
//	byte 0    header (0xFB)
//	byte 1    function code
//	byte 2    sequence
//	byte 3    payload length
//	bytes 4+  payload
//	2 bytes   CRC-16/MODBUS over header..payload, little-endian
//
// Reports shorter than the payload capacity are zero-padded to ReportSize.
type ReportCodec struct{}

// Verify ReportCodec implements Codec.
var _ Codec = ReportCodec{}

// Encode serializes f into a zero-padded 64-byte report.
func (ReportCodec) Encode(f Frame) ([]byte, error) {
	if len(f.Payload) > MaxPayload {
		return nil, ErrPayloadTooLarge
	}

	report := make([]byte, ReportSize)
	report[0] = frameHeader
	report[1] = byte(f.Function)
	report[2] = f.Sequence
	report[3] = byte(len(f.Payload))
	copy(report[headerSize:], f.Payload)

	end := headerSize + len(f.Payload)
	binary.LittleEndian.PutUint16(report[end:end+crcSize], CRC16(report[:end]))

	return report, nil
}

// Decode parses a report, failing closed on any integrity problem.
func (ReportCodec) Decode(report []byte) (Frame, error) {
	if len(report) < headerSize+crcSize {
		return Frame{}, ErrMalformedFrame
	}
	if report[0] != frameHeader {
		return Frame{}, ErrMalformedFrame
	}

	payloadLen := int(report[3])
	end := headerSize + payloadLen
	if end+crcSize > len(report) {
		return Frame{}, ErrMalformedFrame
	}

	want := binary.LittleEndian.Uint16(report[end : end+crcSize])
	if CRC16(report[:end]) != want {
		return Frame{}, ErrChecksum
	}

	payload := make([]byte, payloadLen)
	copy(payload, report[headerSize:end])

	return Frame{
		Function: Function(report[1]),
		Sequence: report[2],
		Payload:  payload,
	}, nil
}
