package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

const (
	deviceNameLen = 16

	// deviceInfoLen is the payload size of a device info response:
	// a fixed-width name followed by hardware and firmware versions.
	deviceInfoLen = deviceNameLen + 4
)

// DeviceInfo is the decoded device identification block.
type DeviceInfo struct {
	Name            string
	HardwareVersion string
	SoftwareVersion string
}

// ParseDeviceInfo decodes a device info payload. The name is a NUL-padded
// ASCII field; versions are hundredths (e.g. 132 -> "1.32").
func ParseDeviceInfo(data []byte) (DeviceInfo, error) {
	if len(data) < deviceInfoLen {
		return DeviceInfo{}, fmt.Errorf("device info payload is %d bytes, want %d: %w",
			len(data), deviceInfoLen, ErrMalformedFrame)
	}

	name := string(bytes.TrimRight(data[:deviceNameLen], "\x00"))
	hw := binary.LittleEndian.Uint16(data[deviceNameLen:])
	sw := binary.LittleEndian.Uint16(data[deviceNameLen+2:])

	return DeviceInfo{
		Name:            name,
		HardwareVersion: formatVersion(hw),
		SoftwareVersion: formatVersion(sw),
	}, nil
}

func formatVersion(v uint16) string {
	return fmt.Sprintf("%d.%02d", v/100, v%100)
}
