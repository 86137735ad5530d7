package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/shini4i/dp100-daemon/internal/hid"
	"github.com/shini4i/dp100-daemon/internal/protocol"
)

// Transport is the framed report pipe the correlator drives. Implemented by
// hid.Transport; faked in tests.
type Transport interface {
	ReadReport(timeout time.Duration) ([]byte, error)
	WriteReport(report []byte) error
	Drain() int
	Close() error
}

const (
	// defaultTimeout bounds a request when the caller did not set one.
	defaultTimeout = 1 * time.Second

	// defaultDecodeRetries is how many re-reads a request gets after
	// receiving a corrupt frame before failing with ErrProtocol.
	defaultDecodeRetries = 1
)

// Correlator serializes requests onto the transport and matches responses
// back. The DP100 protocol is half-duplex request/response, not pipelined,
// so the correlator enforces at most one outstanding request at any time.
type Correlator struct {
	transport Transport
	codec     protocol.Codec

	timeout       time.Duration
	decodeRetries int

	// mu is the single-request-in-flight guard: it is held across the
	// write and the entire wait for the matching response.
	mu  sync.Mutex
	seq uint8
}

// CorrelatorOption is a functional option for configuring a Correlator.
type CorrelatorOption func(*Correlator)

// WithTimeout sets the default per-request deadline.
func WithTimeout(d time.Duration) CorrelatorOption {
	return func(c *Correlator) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithDecodeRetries sets how many re-reads a request gets after a corrupt
// frame. Retries share the request deadline, so the loop is always bounded.
func WithDecodeRetries(n int) CorrelatorOption {
	return func(c *Correlator) {
		if n >= 0 {
			c.decodeRetries = n
		}
	}
}

// NewCorrelator creates a correlator over an open transport.
func NewCorrelator(transport Transport, codec protocol.Codec, opts ...CorrelatorOption) *Correlator {
	c := &Correlator{
		transport:     transport,
		codec:         codec,
		timeout:       defaultTimeout,
		decodeRetries: defaultDecodeRetries,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Submit sends req and blocks until the matching response arrives, the
// deadline elapses, or the transport reports the device gone.
//
// A request can be cancelled through ctx only while it is still queued for
// the in-flight slot; once dispatched it runs to resolution so the transport
// is never left with an ambiguous exchange in progress.
func (c *Correlator) Submit(ctx context.Context, req Request) (Response, error) {
	if err := ctx.Err(); err != nil {
		return Response{}, err
	}

	acquired := make(chan struct{})
	go func() {
		c.mu.Lock()
		close(acquired)
	}()

	select {
	case <-acquired:
	case <-ctx.Done():
		// Unlock once the pending Lock lands, without blocking the caller.
		go func() {
			<-acquired
			c.mu.Unlock()
		}()
		return Response{}, ctx.Err()
	}
	defer c.mu.Unlock()

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = c.timeout
	}
	deadline := time.Now().Add(timeout)

	// A response that arrived after its request already timed out is still
	// sitting in the transport buffer. Shed it before dispatching, or it
	// would resolve this exchange instead of its own.
	c.transport.Drain()

	c.seq++
	frame := protocol.Frame{Function: req.Function, Sequence: c.seq, Payload: req.Payload}

	report, err := c.codec.Encode(frame)
	if err != nil {
		return Response{}, fmt.Errorf("encode request: %w", err)
	}

	if err := c.transport.WriteReport(report); err != nil {
		if hid.IsDeviceGone(err) {
			return Response{}, fmt.Errorf("%w: %v", ErrDisconnected, err)
		}
		return Response{}, fmt.Errorf("write request: %w", err)
	}

	return c.awaitResponse(req, deadline)
}

// awaitResponse reads until a frame matches the outstanding request. Corrupt
// frames consume the retry budget; frames for other functions are stale
// leftovers from a desync and are logged and discarded without resolving the
// request.
func (c *Correlator) awaitResponse(req Request, deadline time.Time) (Response, error) {
	retriesLeft := c.decodeRetries

	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return Response{}, ErrRequestTimeout
		}

		report, err := c.transport.ReadReport(remaining)
		switch {
		case errors.Is(err, hid.ErrReadTimeout):
			return Response{}, ErrRequestTimeout
		case hid.IsDeviceGone(err):
			return Response{}, fmt.Errorf("%w: %v", ErrDisconnected, err)
		case err != nil:
			return Response{}, fmt.Errorf("read response: %w", err)
		}

		frame, err := c.codec.Decode(report)
		if err != nil {
			if retriesLeft <= 0 {
				return Response{}, fmt.Errorf("%w: %v", ErrProtocol, err)
			}
			retriesLeft--
			log.Debug().
				Err(err).
				Str("function", req.Function.String()).
				Int("retries_left", retriesLeft).
				Msg("Discarded corrupt frame, retrying read")
			continue
		}

		if frame.Function != req.Function {
			log.Warn().
				Str("want", req.Function.String()).
				Str("got", frame.Function.String()).
				Uint8("sequence", frame.Sequence).
				Msg("Discarded unmatched frame")
			continue
		}

		return Response{
			Function: frame.Function,
			Sequence: frame.Sequence,
			Payload:  frame.Payload,
		}, nil
	}
}
