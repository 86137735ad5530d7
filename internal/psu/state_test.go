package psu

import (
	"testing"
	"time"

	"github.com/shini4i/dp100-daemon/internal/protocol"
	"github.com/shini4i/dp100-daemon/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateModel_SnapshotBeforeFirstPoll(t *testing.T) {
	m := NewStateModel()

	_, ok := m.Snapshot()
	assert.False(t, ok)
	assert.Equal(t, session.StatusDisconnected, m.Status())
}

func TestStateModel_PublishAndSnapshot(t *testing.T) {
	m := NewStateModel()
	m.SetStatus(session.StatusConnected)

	m.Publish(Sample{Vout: 5.0, Iout: 0.25, OutputOn: true})

	got, ok := m.Snapshot()
	require.True(t, ok)
	assert.Equal(t, 5.0, got.Vout)
	assert.Equal(t, 0.25, got.Iout)
	assert.True(t, got.OutputOn)

	m.Publish(Sample{Vout: 12.0})
	got, ok = m.Snapshot()
	require.True(t, ok)
	assert.Equal(t, 12.0, got.Vout, "snapshot should always be the latest sample")
}

func TestStateModel_LeavingConnectedInvalidatesSample(t *testing.T) {
	m := NewStateModel()
	m.SetStatus(session.StatusConnected)
	m.Publish(Sample{Vout: 5.0})

	m.SetStatus(session.StatusDisconnected)

	_, ok := m.Snapshot()
	assert.False(t, ok, "stale readings must not survive a disconnect")
	assert.Equal(t, session.StatusDisconnected, m.Status())
}

func TestStateModel_ConnectedStatusKeepsSample(t *testing.T) {
	m := NewStateModel()
	m.SetStatus(session.StatusConnected)
	m.Publish(Sample{Vout: 5.0})

	m.SetStatus(session.StatusConnected)

	_, ok := m.Snapshot()
	assert.True(t, ok)
}

func TestStateModel_ErrorCounter(t *testing.T) {
	m := NewStateModel()
	assert.Zero(t, m.ErrorCount())

	m.RecordError()
	m.RecordError()
	assert.Equal(t, uint64(2), m.ErrorCount())
}

func TestSampleFromInfo(t *testing.T) {
	info := protocol.BasicInfo{
		Vin:    12.05,
		Vout:   5.001,
		Iout:   1.5,
		Power:  7.5,
		Temp1:  31.5,
		Temp2:  28.0,
		DC5V:   4.998,
		Status: protocol.StatusOutputOn | protocol.StatusModeCC,
	}
	at := time.Now()

	s := sampleFromInfo(info, at)
	assert.Equal(t, 12.05, s.Vin)
	assert.Equal(t, 5.001, s.Vout)
	assert.Equal(t, 1.5, s.Iout)
	assert.Equal(t, 7.5, s.Power)
	assert.Equal(t, 31.5, s.Temp1)
	assert.Equal(t, 28.0, s.Temp2)
	assert.Equal(t, 4.998, s.DC5V)
	assert.True(t, s.OutputOn)
	assert.True(t, s.ConstantCurrent)
	assert.Equal(t, at, s.At)
}
