package hid

import (
	"fmt"

	karalabehid "github.com/karalabe/hid"
)

const (
	// DP100VendorID is the USB vendor ID of the AlienTek DP100.
	DP100VendorID uint16 = 0x2E3C

	// DP100ProductID is the USB product ID of the AlienTek DP100.
	DP100ProductID uint16 = 0xAF01
)

// HIDAPIDevice wraps a karalabe/hid device to implement the Device interface.
type HIDAPIDevice struct {
	device karalabehid.Device // karalabe/hid.Device is an interface
	info   DeviceInfo
}

// Verify HIDAPIDevice implements Device interface.
var _ Device = (*HIDAPIDevice)(nil)

// NewHIDAPIDevice creates a new HIDAPIDevice from an open hid.Device.
func NewHIDAPIDevice(device karalabehid.Device, info DeviceInfo) *HIDAPIDevice {
	return &HIDAPIDevice{
		device: device,
		info:   info,
	}
}

// Read reads one interrupt report from the device.
func (d *HIDAPIDevice) Read(data []byte) (int, error) {
	return d.device.Read(data)
}

// Write writes one interrupt report to the device.
func (d *HIDAPIDevice) Write(data []byte) (int, error) {
	return d.device.Write(data)
}

// Close closes the device handle.
func (d *HIDAPIDevice) Close() error {
	return d.device.Close()
}

// Info returns information about the device.
func (d *HIDAPIDevice) Info() DeviceInfo {
	return d.info
}

// Enumerate returns information about all attached devices matching the
// given vendor/product id pair.
func Enumerate(vendorID, productID uint16) ([]DeviceInfo, error) {
	devices, err := karalabehid.Enumerate(vendorID, productID)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate HID devices: %w", err)
	}

	infos := make([]DeviceInfo, 0, len(devices))
	for _, device := range devices {
		infos = append(infos, DeviceInfo{
			Path:         device.Path,
			VendorID:     device.VendorID,
			ProductID:    device.ProductID,
			Serial:       device.Serial,
			Manufacturer: device.Manufacturer,
			Product:      device.Product,
		})
	}

	return infos, nil
}

// OpenDevice opens the first attached device matching the vendor/product id
// pair. It returns ErrDeviceNotFound when nothing matched and ErrAccessDenied
// when the OS refused the open.
func OpenDevice(vendorID, productID uint16) (*HIDAPIDevice, error) {
	devices, err := karalabehid.Enumerate(vendorID, productID)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate devices: %w", err)
	}

	for _, deviceInfo := range devices {
		device, err := deviceInfo.Open()
		if err != nil {
			if isAccessDenied(err) {
				return nil, fmt.Errorf("open %04x:%04x: %w", vendorID, productID, ErrAccessDenied)
			}
			return nil, fmt.Errorf("failed to open device %04x:%04x: %w", vendorID, productID, err)
		}

		info := DeviceInfo{
			Path:         deviceInfo.Path,
			VendorID:     deviceInfo.VendorID,
			ProductID:    deviceInfo.ProductID,
			Serial:       deviceInfo.Serial,
			Manufacturer: deviceInfo.Manufacturer,
			Product:      deviceInfo.Product,
		}

		return NewHIDAPIDevice(device, info), nil
	}

	return nil, fmt.Errorf("no device with id %04x:%04x attached: %w", vendorID, productID, ErrDeviceNotFound)
}
