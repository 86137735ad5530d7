package hid

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// ReportSize is the size of one DP100 interrupt report in bytes.
const ReportSize = 64

// reportQueueDepth bounds how many unread reports the transport buffers.
// The protocol is half-duplex request/response, so anything beyond a few
// queued reports indicates desync and the oldest ones are the stale ones.
const reportQueueDepth = 8

// Transport owns the raw HID connection. It is the sole owner of the OS-level
// device handle: a dedicated reader goroutine performs the blocking HID reads
// and feeds a channel, so ReadReport can honor timeouts and Close can
// interrupt a read in progress.
type Transport struct {
	device  Device
	reports chan []byte
	failed  chan struct{}
	done    chan struct{}

	closeOnce sync.Once
	closeErr  error

	mu      sync.Mutex
	readErr error
}

// NewTransport wraps an open device and starts its reader goroutine.
func NewTransport(device Device) *Transport {
	t := &Transport{
		device:  device,
		reports: make(chan []byte, reportQueueDepth),
		failed:  make(chan struct{}),
		done:    make(chan struct{}),
	}
	go t.readLoop()
	return t
}

// readLoop performs blocking reads until the device errors or the transport
// is closed. Closing the device handle unblocks the pending read.
func (t *Transport) readLoop() {
	for {
		buf := make([]byte, ReportSize)
		n, err := t.device.Read(buf)
		if err != nil {
			select {
			case <-t.done:
				// Closed locally, not a device fault.
			default:
				t.mu.Lock()
				if IsDeviceGone(err) {
					t.readErr = fmt.Errorf("%w: %v", ErrDeviceGone, err)
				} else {
					t.readErr = fmt.Errorf("read report: %w", err)
				}
				t.mu.Unlock()
				close(t.failed)
			}
			return
		}
		if n == 0 {
			continue
		}

		select {
		case t.reports <- buf[:n]:
		case <-t.done:
			return
		}
	}
}

// ReadReport returns exactly one report, waiting up to timeout.
func (t *Transport) ReadReport(timeout time.Duration) ([]byte, error) {
	// Deliver already-buffered reports even if the device failed afterwards.
	select {
	case report := <-t.reports:
		return report, nil
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case report := <-t.reports:
		return report, nil
	case <-timer.C:
		return nil, ErrReadTimeout
	case <-t.failed:
		return nil, t.failure()
	case <-t.done:
		return nil, ErrTransportClosed
	}
}

// WriteReport writes exactly one fixed-size report.
func (t *Transport) WriteReport(report []byte) error {
	if len(report) != ReportSize {
		return fmt.Errorf("report is %d bytes, want %d", len(report), ReportSize)
	}

	select {
	case <-t.done:
		return ErrTransportClosed
	default:
	}

	if _, err := t.device.Write(report); err != nil {
		if IsDeviceGone(err) {
			return fmt.Errorf("%w: %v", ErrDeviceGone, err)
		}
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

// Drain discards any buffered reports and returns how many were dropped.
// Used before a fresh exchange to shed stale responses after a desync.
func (t *Transport) Drain() int {
	dropped := 0
	for {
		select {
		case <-t.reports:
			dropped++
		default:
			if dropped > 0 {
				log.Debug().Int("count", dropped).Msg("Dropped stale reports")
			}
			return dropped
		}
	}
}

// Info returns information about the underlying device.
func (t *Transport) Info() DeviceInfo {
	return t.device.Info()
}

// Close releases the device handle. Idempotent.
func (t *Transport) Close() error {
	t.closeOnce.Do(func() {
		close(t.done)
		t.closeErr = t.device.Close()
	})
	return t.closeErr
}

func (t *Transport) failure() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.readErr != nil {
		return t.readErr
	}
	return ErrDeviceGone
}
