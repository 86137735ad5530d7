package protocol

import (
	"encoding/binary"
	"fmt"
)

// basicInfoLen is the payload size of a basic info response: 8 uint16 fields.
const basicInfoLen = 16

// StatusBits is the device status bitfield reported with each telemetry block.
type StatusBits uint16

const (
	// StatusOutputOn is set while the output stage is enabled.
	StatusOutputOn StatusBits = 1 << 0

	// StatusModeCC is set in constant-current mode, clear in constant-voltage.
	StatusModeCC StatusBits = 1 << 1

	// StatusOVP is set while over-voltage protection is tripped.
	StatusOVP StatusBits = 1 << 2

	// StatusOCP is set while over-current protection is tripped.
	StatusOCP StatusBits = 1 << 3

	// StatusOPP is set while over-power protection is tripped.
	StatusOPP StatusBits = 1 << 4

	// StatusOTP is set while over-temperature protection is tripped.
	StatusOTP StatusBits = 1 << 5
)

// Tripped reports whether any protection bit is set.
func (s StatusBits) Tripped() bool {
	return s&(StatusOVP|StatusOCP|StatusOPP|StatusOTP) != 0
}

// BasicInfo is the decoded live telemetry block.
type BasicInfo struct {
	Vin    float64 // input voltage, volts
	Vout   float64 // output voltage, volts
	Iout   float64 // output current, amps
	Power  float64 // output power, watts
	Temp1  float64 // internal temperature, degrees Celsius
	Temp2  float64 // secondary temperature, degrees Celsius
	DC5V   float64 // auxiliary 5V rail, volts
	Status StatusBits
}

// OutputOn reports whether the output stage is enabled.
func (b BasicInfo) OutputOn() bool {
	return b.Status&StatusOutputOn != 0
}

// ConstantCurrent reports whether the supply is limiting current.
func (b BasicInfo) ConstantCurrent() bool {
	return b.Status&StatusModeCC != 0
}

// ParseBasicInfo decodes a basic info payload. Raw fields are fixed-point
// little-endian uint16 values with per-field scaling.
func ParseBasicInfo(data []byte) (BasicInfo, error) {
	if len(data) != basicInfoLen {
		return BasicInfo{}, fmt.Errorf("basic info payload is %d bytes, want %d: %w",
			len(data), basicInfoLen, ErrMalformedFrame)
	}

	u16 := func(off int) uint16 { return binary.LittleEndian.Uint16(data[off:]) }

	return BasicInfo{
		Vin:    float64(u16(0)) / 100,
		Vout:   float64(u16(2)) / 1000,
		Iout:   float64(u16(4)) / 1000,
		Power:  float64(u16(6)) / 100,
		Temp1:  float64(u16(8)) / 10,
		Temp2:  float64(u16(10)) / 10,
		DC5V:   float64(u16(12)) / 1000,
		Status: StatusBits(u16(14)),
	}, nil
}
