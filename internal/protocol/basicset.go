package protocol

import (
	"encoding/binary"
	"fmt"
	"math"
)

const (
	// opSetpointWrite modifies the active setpoint group.
	opSetpointWrite byte = 0x20

	// opSetpointQuery reads back the active setpoint group.
	opSetpointQuery byte = 0x80

	// setpointLen is the size of a setpoint payload: opcode + 4 uint16 fields.
	setpointLen = 9

	// setpointReserved fills the trailing field the write layout requires.
	setpointReserved uint16 = 0xFFFF
)

// Setpoint is the programmed output configuration of the supply.
// Voltage and current are the targets the device regulates toward,
// distinct from the measured values in BasicInfo.
type Setpoint struct {
	OutputOn bool
	Voltage  float64 // volts
	Current  float64 // amps
}

// VoltageMilli returns the setpoint voltage in whole millivolts.
func (s Setpoint) VoltageMilli() int {
	return int(math.Round(s.Voltage * 1000))
}

// CurrentMilli returns the setpoint current in whole milliamps.
func (s Setpoint) CurrentMilli() int {
	return int(math.Round(s.Current * 1000))
}

// EncodeSetpointWrite builds a basic set payload that applies sp.
func EncodeSetpointWrite(sp Setpoint) []byte {
	data := make([]byte, setpointLen)
	data[0] = opSetpointWrite

	var state uint16
	if sp.OutputOn {
		state = 1
	}
	binary.LittleEndian.PutUint16(data[1:], state)
	binary.LittleEndian.PutUint16(data[3:], uint16(sp.VoltageMilli()))
	binary.LittleEndian.PutUint16(data[5:], uint16(sp.CurrentMilli()))
	binary.LittleEndian.PutUint16(data[7:], setpointReserved)

	return data
}

// EncodeSetpointQuery builds a basic set payload that reads the active group.
func EncodeSetpointQuery() []byte {
	return []byte{opSetpointQuery}
}

// ParseSetpointAck decodes the single-byte acknowledgement the device
// returns after a setpoint write. A value of 1 means the write was accepted.
func ParseSetpointAck(data []byte) (bool, error) {
	if len(data) < 1 {
		return false, fmt.Errorf("empty setpoint ack: %w", ErrMalformedFrame)
	}
	return data[0] == 1, nil
}

// ParseSetpoint decodes a setpoint read-back payload, which mirrors the
// write layout.
func ParseSetpoint(data []byte) (Setpoint, error) {
	if len(data) < setpointLen {
		return Setpoint{}, fmt.Errorf("setpoint payload is %d bytes, want %d: %w",
			len(data), setpointLen, ErrMalformedFrame)
	}

	return Setpoint{
		OutputOn: binary.LittleEndian.Uint16(data[1:]) != 0,
		Voltage:  float64(binary.LittleEndian.Uint16(data[3:])) / 1000,
		Current:  float64(binary.LittleEndian.Uint16(data[5:])) / 1000,
	}, nil
}
