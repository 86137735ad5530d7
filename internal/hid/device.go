// Package hid provides access to the AlienTek DP100 power supply over USB HID.
package hid

//go:generate mockgen -source=device.go -destination=mocks/device_mock.go -package=mocks

// DeviceInfo contains information about a HID device.
type DeviceInfo struct {
	Path         string
	VendorID     uint16
	ProductID    uint16
	Serial       string
	Manufacturer string
	Product      string
}

// Device represents an interface for raw HID device operations.
// This interface allows for mocking in tests.
type Device interface {
	// Read reads one interrupt report from the device, blocking until a
	// report arrives or the device handle is closed.
	Read(data []byte) (int, error)

	// Write writes one interrupt report to the device.
	Write(data []byte) (int, error)

	// Close closes the device handle.
	Close() error

	// Info returns information about the device.
	Info() DeviceInfo
}
