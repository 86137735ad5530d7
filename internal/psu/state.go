// Package psu coordinates the DP100 communication core: the telemetry
// poller, the command arbiter that shares the single request slot with it,
// the latest-state model, and the controller facade external consumers use.
package psu

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/shini4i/dp100-daemon/internal/protocol"
	"github.com/shini4i/dp100-daemon/internal/session"
)

// Sample is one telemetry reading. Immutable once constructed; each poll
// cycle produces a new sample replacing the previous one.
type Sample struct {
	Vin             float64
	Vout            float64
	Iout            float64
	Power           float64
	Temp1           float64
	Temp2           float64
	DC5V            float64
	OutputOn        bool
	ConstantCurrent bool
	Status          protocol.StatusBits
	At              time.Time
}

// sampleFromInfo builds a Sample from a decoded telemetry block.
func sampleFromInfo(info protocol.BasicInfo, at time.Time) Sample {
	return Sample{
		Vin:             info.Vin,
		Vout:            info.Vout,
		Iout:            info.Iout,
		Power:           info.Power,
		Temp1:           info.Temp1,
		Temp2:           info.Temp2,
		DC5V:            info.DC5V,
		OutputOn:        info.OutputOn(),
		ConstantCurrent: info.ConstantCurrent(),
		Status:          info.Status,
		At:              at,
	}
}

// StateModel holds the latest known telemetry sample and connection status.
// It is single-writer (the poller and the correlator error path) and
// multi-reader: readers always see either a fully-formed sample or the
// explicit no-data state before the first successful poll.
type StateModel struct {
	mu     sync.RWMutex
	sample *Sample
	status session.Status

	errCount atomic.Uint64
}

// NewStateModel creates an empty state model in the disconnected state.
func NewStateModel() *StateModel {
	return &StateModel{status: session.StatusDisconnected}
}

// Publish atomically replaces the current sample.
func (m *StateModel) Publish(s Sample) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sample = &s
}

// Snapshot returns the latest sample. ok is false before the first
// successful poll of the current session.
func (m *StateModel) Snapshot() (Sample, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.sample == nil {
		return Sample{}, false
	}
	return *m.sample, true
}

// SetStatus updates the connection status. Leaving the connected state
// invalidates the sample so stale readings are never served.
func (m *StateModel) SetStatus(st session.Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status = st
	if st != session.StatusConnected {
		m.sample = nil
	}
}

// Status returns the current connection status.
func (m *StateModel) Status() session.Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// RecordError increments the transient poll failure counter.
func (m *StateModel) RecordError() {
	m.errCount.Add(1)
}

// ErrorCount returns how many transient poll failures have been absorbed.
func (m *StateModel) ErrorCount() uint64 {
	return m.errCount.Load()
}
