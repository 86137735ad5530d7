// Package session implements request/response correlation over the DP100
// transport: at most one request is ever in flight, and every response is
// matched back to the request that caused it.
package session

import (
	"errors"
	"time"

	"github.com/shini4i/dp100-daemon/internal/protocol"
)

// ErrRequestTimeout is returned when no matching response arrived within
// the request deadline.
var ErrRequestTimeout = errors.New("request timed out")

// ErrProtocol is returned when the device kept answering with frames that
// failed integrity checks after the bounded retry budget was spent.
var ErrProtocol = errors.New("protocol error")

// ErrDisconnected is returned when the transport reported the device gone.
// The session is faulted and must be reopened.
var ErrDisconnected = errors.New("device disconnected")

// Request is an outbound intent. It is owned exclusively by its submitter
// until resolved.
type Request struct {
	Function protocol.Function
	Payload  []byte

	// Timeout overrides the correlator default when positive.
	Timeout time.Duration
}

// Response is an inbound frame matched to its request.
type Response struct {
	Function protocol.Function
	Sequence uint8
	Payload  []byte
}
