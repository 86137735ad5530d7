package session

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/shini4i/dp100-daemon/internal/protocol"
)

// Status is the connection state of a device session.
type Status int32

const (
	// StatusDisconnected means no session is open.
	StatusDisconnected Status = iota
	// StatusConnecting means the transport open is in progress.
	StatusConnecting
	// StatusConnected means the session is open and usable.
	StatusConnected
	// StatusFaulted means the session hit an unrecoverable I/O failure and
	// must be reopened with a fresh connect.
	StatusFaulted
)

// String returns the status name as exposed to external consumers.
func (s Status) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusFaulted:
		return "faulted"
	default:
		return "unknown"
	}
}

// Session represents one open connection to the device: the transport handle,
// the sequence counter (owned by the correlator, reset per session) and the
// connection status. A session is created on successful open and destroyed on
// explicit close or unrecoverable I/O failure.
type Session struct {
	transport  Transport
	correlator *Correlator
	status     atomic.Int32
}

// New wraps an open transport into a session. The sequence counter starts
// fresh, so reconnecting always resets correlation state.
func New(transport Transport, codec protocol.Codec, opts ...CorrelatorOption) *Session {
	s := &Session{
		transport:  transport,
		correlator: NewCorrelator(transport, codec, opts...),
	}
	s.status.Store(int32(StatusConnected))
	return s
}

// Submit forwards the request to the correlator. A disconnect fault flips
// the session into StatusFaulted.
func (s *Session) Submit(ctx context.Context, req Request) (Response, error) {
	resp, err := s.correlator.Submit(ctx, req)
	if errors.Is(err, ErrDisconnected) {
		s.status.Store(int32(StatusFaulted))
	}
	return resp, err
}

// Status returns the current connection status.
func (s *Session) Status() Status {
	return Status(s.status.Load())
}

// Close releases the transport. Idempotent; the session is unusable after.
func (s *Session) Close() error {
	s.status.Store(int32(StatusDisconnected))
	return s.transport.Close()
}
