package hid

import (
	"errors"
	"io"
	"strings"
)

// ErrDeviceNotFound is returned when no device with the configured
// vendor/product id pair is attached.
var ErrDeviceNotFound = errors.New("device not found")

// ErrAccessDenied is returned when the device exists but the OS refused to
// open it, typically because of missing udev permissions.
var ErrAccessDenied = errors.New("access denied")

// ErrReadTimeout is returned when no report arrived within the deadline.
var ErrReadTimeout = errors.New("read timed out")

// ErrDeviceGone is returned when the device has been unplugged or the
// underlying handle became invalid.
var ErrDeviceGone = errors.New("device disconnected")

// ErrTransportClosed is returned for operations on a closed transport.
var ErrTransportClosed = errors.New("transport closed")

// IsDeviceGone reports whether err indicates the device has disappeared.
// hidapi surfaces unplug as loosely formatted strings, so message matching
// is the fallback after sentinel and EOF checks.
func IsDeviceGone(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrDeviceGone) || errors.Is(err, io.EOF) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, s := range []string{
		"no such device",
		"device disconnected",
		"device is closed",
		"input/output error",
		"hid: device closed",
	} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// isAccessDenied reports whether an open failure was a permission problem.
func isAccessDenied(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "permission denied") || strings.Contains(msg, "access denied")
}
