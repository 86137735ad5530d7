package psu

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/shini4i/dp100-daemon/internal/config"
	"github.com/shini4i/dp100-daemon/internal/hid"
	"github.com/shini4i/dp100-daemon/internal/protocol"
	"github.com/shini4i/dp100-daemon/internal/session"
)

// TransportOpener acquires the transport for a new session.
type TransportOpener func() (session.Transport, error)

// Controller owns the device session lifecycle and coordinates the telemetry
// poller with user commands. It is the single entry point external
// collaborators (the D-Bus surface, the hotplug monitor) talk to.
type Controller struct {
	cfg     config.Config
	codec   protocol.Codec
	opener  TransportOpener
	state   *StateModel
	arbiter *Arbiter

	mu         sync.Mutex
	sess       *session.Session
	cancelPoll context.CancelFunc
	pollDone   chan struct{}

	handlerMu sync.RWMutex
	onSample  func(Sample)
	onStatus  func(session.Status)
}

// ControllerOption is a functional option for configuring a Controller.
type ControllerOption func(*Controller)

// WithOpener sets a custom transport opener for testing.
func WithOpener(fn TransportOpener) ControllerOption {
	return func(c *Controller) {
		c.opener = fn
	}
}

// WithCodec sets a custom frame codec. The default is the DP100 report
// layout; tests and future hardware revisions can swap it.
func WithCodec(codec protocol.Codec) ControllerOption {
	return func(c *Controller) {
		c.codec = codec
	}
}

// NewController creates a controller. No connection is opened until Connect.
func NewController(cfg config.Config, opts ...ControllerOption) *Controller {
	c := &Controller{
		cfg:     cfg,
		codec:   protocol.ReportCodec{},
		state:   NewStateModel(),
		arbiter: NewArbiter(cfg.CommandGrace()),
	}
	c.opener = func() (session.Transport, error) {
		device, err := hid.OpenDevice(cfg.VendorID, cfg.ProductID)
		if err != nil {
			return nil, err
		}
		return hid.NewTransport(device), nil
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetSampleHandler registers a callback invoked once per successful poll
// cycle. Must be set before Connect.
func (c *Controller) SetSampleHandler(fn func(Sample)) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	c.onSample = fn
}

// SetStatusHandler registers a callback invoked on connection status
// transitions. Must be set before Connect.
func (c *Controller) SetStatusHandler(fn func(session.Status)) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	c.onStatus = fn
}

// Connect opens the device and starts the telemetry poller. A faulted
// leftover session is torn down first; an already-connected controller
// returns ErrAlreadyConnected.
func (c *Controller) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sess != nil {
		if c.sess.Status() == session.StatusConnected {
			return ErrAlreadyConnected
		}
		if err := c.stopLocked(); err != nil {
			log.Warn().Err(err).Msg("Failed to close faulted session")
		}
	}

	c.setStatus(session.StatusConnecting)

	transport, err := c.opener()
	if err != nil {
		c.setStatus(session.StatusDisconnected)
		return fmt.Errorf("open transport: %w", err)
	}

	sess := session.New(transport, c.codec,
		session.WithTimeout(c.cfg.RequestTimeout()),
		session.WithDecodeRetries(c.cfg.DecodeRetries),
	)
	c.sess = sess
	c.setStatus(session.StatusConnected)

	pollCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.cancelPoll = cancel
	c.pollDone = done

	// The query closure binds the session at connect time so the poll path
	// never touches the controller mutex.
	poller := NewPoller(c.arbiter, c.state, func(ctx context.Context) (Sample, error) {
		return c.queryBasicInfo(ctx, sess)
	}, c.cfg.PollInterval())
	poller.onSample = c.notifySample
	poller.onDisconnect = func() { c.notifyStatus(session.StatusDisconnected) }

	go func() {
		defer close(done)
		poller.Run(pollCtx)
	}()

	event := log.Info()
	if ti, ok := transport.(interface{ Info() hid.DeviceInfo }); ok {
		info := ti.Info()
		event = event.Str("product", info.Product).Str("serial", info.Serial)
	}
	event.Msg("Device connected")
	return nil
}

// Disconnect stops the poller and closes the session. An in-flight exchange
// runs to resolution first, so the call can block up to the request timeout.
// Idempotent.
func (c *Controller) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopLocked()
}

func (c *Controller) stopLocked() error {
	if c.sess == nil {
		return nil
	}
	if c.cancelPoll != nil {
		c.cancelPoll()
	}
	if c.pollDone != nil {
		<-c.pollDone
	}
	err := c.sess.Close()
	c.sess = nil
	c.cancelPoll = nil
	c.pollDone = nil
	c.setStatus(session.StatusDisconnected)
	return err
}

// Status returns the current connection status.
func (c *Controller) Status() session.Status {
	return c.state.Status()
}

// Snapshot returns the latest telemetry sample; ok is false before the
// first successful poll.
func (c *Controller) Snapshot() (Sample, bool) {
	return c.state.Snapshot()
}

// PollErrors returns how many transient poll failures have been absorbed.
func (c *Controller) PollErrors() uint64 {
	return c.state.ErrorCount()
}

// SetVoltage programs the output voltage setpoint and verifies the device
// adopted it.
func (c *Controller) SetVoltage(ctx context.Context, volts float64) (Outcome, error) {
	if volts < 0 || volts > MaxVoltage {
		return OutcomeNotApplied, fmt.Errorf("%.3f V: %w", volts, ErrVoltageRange)
	}
	return c.applySetpoint(ctx, func(sp *protocol.Setpoint) { sp.Voltage = volts })
}

// SetCurrent programs the output current limit and verifies the device
// adopted it.
func (c *Controller) SetCurrent(ctx context.Context, amps float64) (Outcome, error) {
	if amps < 0 || amps > MaxCurrent {
		return OutcomeNotApplied, fmt.Errorf("%.3f A: %w", amps, ErrCurrentRange)
	}
	return c.applySetpoint(ctx, func(sp *protocol.Setpoint) { sp.Current = amps })
}

// SetOutputEnabled switches the output stage on or off and verifies the
// device adopted it.
func (c *Controller) SetOutputEnabled(ctx context.Context, on bool) (Outcome, error) {
	return c.applySetpoint(ctx, func(sp *protocol.Setpoint) { sp.OutputOn = on })
}

// DeviceInfo queries the device identification block.
func (c *Controller) DeviceInfo(ctx context.Context) (protocol.DeviceInfo, error) {
	sess := c.currentSession()
	if sess == nil {
		return protocol.DeviceInfo{}, ErrNotConnected
	}

	if err := c.arbiter.AcquireCommand(ctx); err != nil {
		return protocol.DeviceInfo{}, err
	}
	defer c.arbiter.Release()

	resp, err := sess.Submit(ctx, session.Request{Function: protocol.FuncDeviceInfo})
	if err != nil {
		return protocol.DeviceInfo{}, err
	}
	return protocol.ParseDeviceInfo(resp.Payload)
}

// applySetpoint is the shared read-modify-write-verify path of all three
// output commands. The full exchange happens under one arbitration slot so
// no poll can interleave between the write and its verification read-back.
func (c *Controller) applySetpoint(ctx context.Context, mutate func(*protocol.Setpoint)) (Outcome, error) {
	sess := c.currentSession()
	if sess == nil {
		return OutcomeDisconnected, ErrNotConnected
	}

	if err := c.arbiter.AcquireCommand(ctx); err != nil {
		return OutcomeNotApplied, err
	}
	defer c.arbiter.Release()

	current, err := c.readSetpoint(ctx, sess)
	if err != nil {
		return classify(err), err
	}

	want := current
	mutate(&want)

	resp, err := sess.Submit(ctx, session.Request{
		Function: protocol.FuncBasicSet,
		Payload:  protocol.EncodeSetpointWrite(want),
	})
	if err != nil {
		return classify(err), err
	}

	ack, err := protocol.ParseSetpointAck(resp.Payload)
	if err != nil {
		return OutcomeNotApplied, fmt.Errorf("%w: %v", session.ErrProtocol, err)
	}
	if !ack {
		log.Warn().Msg("Device rejected setpoint write")
		return OutcomeNotApplied, nil
	}

	// The DP100 is known to acknowledge writes it silently ignores, so a
	// transport-level success is never reported as applied without a
	// matching read-back.
	got, err := c.readSetpoint(ctx, sess)
	if err != nil {
		return classify(err), err
	}
	if !c.setpointApplied(want, got) {
		log.Warn().
			Float64("want_volts", want.Voltage).
			Float64("got_volts", got.Voltage).
			Float64("want_amps", want.Current).
			Float64("got_amps", got.Current).
			Bool("want_on", want.OutputOn).
			Bool("got_on", got.OutputOn).
			Msg("Setpoint read-back disagrees with request")
		return OutcomeNotApplied, nil
	}

	return OutcomeSuccess, nil
}

func (c *Controller) readSetpoint(ctx context.Context, sess *session.Session) (protocol.Setpoint, error) {
	resp, err := sess.Submit(ctx, session.Request{
		Function: protocol.FuncBasicSet,
		Payload:  protocol.EncodeSetpointQuery(),
	})
	if err != nil {
		return protocol.Setpoint{}, err
	}
	sp, err := protocol.ParseSetpoint(resp.Payload)
	if err != nil {
		return protocol.Setpoint{}, fmt.Errorf("%w: %v", session.ErrProtocol, err)
	}
	return sp, nil
}

func (c *Controller) queryBasicInfo(ctx context.Context, sess *session.Session) (Sample, error) {
	resp, err := sess.Submit(ctx, session.Request{Function: protocol.FuncBasicInfo})
	if err != nil {
		return Sample{}, err
	}
	info, err := protocol.ParseBasicInfo(resp.Payload)
	if err != nil {
		return Sample{}, fmt.Errorf("%w: %v", session.ErrProtocol, err)
	}
	return sampleFromInfo(info, time.Now()), nil
}

func (c *Controller) setpointApplied(want, got protocol.Setpoint) bool {
	if want.OutputOn != got.OutputOn {
		return false
	}
	if abs(want.VoltageMilli()-got.VoltageMilli()) > c.cfg.VerifyToleranceMv {
		return false
	}
	if abs(want.CurrentMilli()-got.CurrentMilli()) > c.cfg.VerifyToleranceMa {
		return false
	}
	return true
}

func (c *Controller) currentSession() *session.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil || c.sess.Status() != session.StatusConnected {
		return nil
	}
	return c.sess
}

// setStatus updates the state model and notifies the status handler.
// Callers hold c.mu.
func (c *Controller) setStatus(st session.Status) {
	c.state.SetStatus(st)
	c.notifyStatus(st)
}

func (c *Controller) notifyStatus(st session.Status) {
	c.handlerMu.RLock()
	fn := c.onStatus
	c.handlerMu.RUnlock()
	if fn != nil {
		fn(st)
	}
}

func (c *Controller) notifySample(s Sample) {
	c.handlerMu.RLock()
	fn := c.onSample
	c.handlerMu.RUnlock()
	if fn != nil {
		fn(s)
	}
}

// classify maps a command-path error to its external outcome.
func classify(err error) Outcome {
	switch {
	case errors.Is(err, session.ErrRequestTimeout):
		return OutcomeTimeout
	case errors.Is(err, session.ErrDisconnected):
		return OutcomeDisconnected
	default:
		return OutcomeNotApplied
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
