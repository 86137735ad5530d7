// Package protocol implements the DP100 report framing: frame encoding and
// decoding, CRC validation, and the typed payloads carried inside frames.
package protocol

import "fmt"

// Function identifies the operation a frame requests or answers.
// Values match the function codes used by the vendor tooling.
type Function byte

const (
	// FuncDeviceInfo requests the device name and version information.
	FuncDeviceInfo Function = 0x10

	// FuncFirmwareInfo requests bootloader/firmware details.
	FuncFirmwareInfo Function = 0x11

	// FuncBasicInfo requests the live telemetry block (voltages, current,
	// power, temperatures, status bits).
	FuncBasicInfo Function = 0x30

	// FuncBasicSet reads or writes the active output setpoint group.
	FuncBasicSet Function = 0x35

	// FuncSystemInfo reads or writes system settings (backlight, volume,
	// protection limits).
	FuncSystemInfo Function = 0x40
)

// String returns a human-readable name for logging.
func (f Function) String() string {
	switch f {
	case FuncDeviceInfo:
		return "device_info"
	case FuncFirmwareInfo:
		return "firmware_info"
	case FuncBasicInfo:
		return "basic_info"
	case FuncBasicSet:
		return "basic_set"
	case FuncSystemInfo:
		return "system_info"
	default:
		return fmt.Sprintf("0x%02x", byte(f))
	}
}

const (
	// ReportSize is the fixed size of one HID report exchanged with the DP100.
	ReportSize = 64

	headerSize = 4
	crcSize    = 2

	// MaxPayload is the largest payload that fits in a single report.
	MaxPayload = ReportSize - headerSize - crcSize
)

// Frame is one logical message carried in a single HID report.
type Frame struct {
	Function Function
	Sequence uint8
	Payload  []byte
}
