// Package dbus provides the D-Bus service implementation for the DP100
// power supply daemon.
package dbus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/shini4i/dp100-daemon/internal/protocol"
	"github.com/shini4i/dp100-daemon/internal/psu"
	"github.com/shini4i/dp100-daemon/internal/session"
)

// ErrRateLimitExceeded is returned when setpoint changes exceed the rate limit.
var ErrRateLimitExceeded = errors.New("rate limit exceeded")

const (
	// rateLimitPerSecond is the maximum number of setpoint changes per second.
	rateLimitPerSecond = 10

	// rateLimitBurst is the maximum burst size for setpoint changes.
	rateLimitBurst = 5

	// commandTimeout bounds one D-Bus-initiated command end to end,
	// including its verification read-back.
	commandTimeout = 5 * time.Second
)

const (
	// ServiceName is the D-Bus service name.
	ServiceName = "io.github.shini4i.Dp100"

	// ObjectPath is the D-Bus object path.
	ObjectPath = "/io/github/shini4i/Dp100"

	// InterfaceName is the D-Bus interface name.
	InterfaceName = "io.github.shini4i.Dp100"
)

// IntrospectXML is the D-Bus introspection XML for the service.
const IntrospectXML = `
<node name="` + ObjectPath + `">
  <interface name="` + InterfaceName + `">
    <method name="Connect"/>
    <method name="Disconnect"/>
    <method name="GetStatus">
      <arg name="status" type="s" direction="out"/>
    </method>
    <method name="GetTelemetry">
      <arg name="telemetry" type="(bddddddddbb)" direction="out"/>
    </method>
    <method name="GetDeviceInfo">
      <arg name="info" type="(sss)" direction="out"/>
    </method>
    <method name="SetVoltage">
      <arg name="volts" type="d" direction="in"/>
      <arg name="outcome" type="s" direction="out"/>
    </method>
    <method name="SetCurrent">
      <arg name="amps" type="d" direction="in"/>
      <arg name="outcome" type="s" direction="out"/>
    </method>
    <method name="SetOutputEnabled">
      <arg name="enabled" type="b" direction="in"/>
      <arg name="outcome" type="s" direction="out"/>
    </method>
    <signal name="TelemetryUpdated">
      <arg name="vout" type="d"/>
      <arg name="iout" type="d"/>
      <arg name="power" type="d"/>
      <arg name="temp" type="d"/>
      <arg name="outputOn" type="b"/>
    </signal>
    <signal name="ConnectionChanged">
      <arg name="status" type="s"/>
    </signal>
  </interface>
  ` + introspect.IntrospectDataString + `
</node>
`

// PowerSupply is the slice of the controller the D-Bus surface needs.
// This allows for mocking in tests.
type PowerSupply interface {
	Connect(ctx context.Context) error
	Disconnect() error
	Status() session.Status
	Snapshot() (psu.Sample, bool)
	SetVoltage(ctx context.Context, volts float64) (psu.Outcome, error)
	SetCurrent(ctx context.Context, amps float64) (psu.Outcome, error)
	SetOutputEnabled(ctx context.Context, on bool) (psu.Outcome, error)
	DeviceInfo(ctx context.Context) (protocol.DeviceInfo, error)
}

// Telemetry is the snapshot returned via D-Bus. HasData is false before the
// first successful poll of the current session; the remaining fields are
// zero in that case. Serializes to D-Bus type (bddddddddbb).
type Telemetry struct {
	HasData         bool
	Vin             float64
	Vout            float64
	Iout            float64
	Power           float64
	Temp1           float64
	Temp2           float64
	DC5V            float64
	Age             float64 // seconds since the sample was taken
	OutputOn        bool
	ConstantCurrent bool
}

// DeviceDetails is the device identification returned via D-Bus.
// Serializes to D-Bus type (sss).
type DeviceDetails struct {
	Name            string
	HardwareVersion string
	SoftwareVersion string
}

// Server implements the D-Bus service for power supply control.
//
// Thread safety: the underlying controller is thread-safe; the connMu mutex
// protects the D-Bus connection field for signal emission.
type Server struct {
	conn        *dbus.Conn
	connMu      sync.RWMutex // Protects conn field only
	supply      PowerSupply
	rateLimiter *rate.Limiter
}

// NewServer creates a new D-Bus server on top of the given power supply.
func NewServer(supply PowerSupply) *Server {
	return &Server{
		supply:      supply,
		rateLimiter: rate.NewLimiter(rateLimitPerSecond, rateLimitBurst),
	}
}

// Start connects to the session bus and exports the service.
func (s *Server) Start() error {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return fmt.Errorf("failed to connect to session bus: %w", err)
	}

	// Ensure connection is closed if setup fails
	success := false
	defer func() {
		if !success {
			if closeErr := conn.Close(); closeErr != nil {
				log.Error().Err(closeErr).Msg("Failed to close D-Bus connection during cleanup")
			}
		}
	}()

	if err := conn.Export(s, ObjectPath, InterfaceName); err != nil {
		return fmt.Errorf("failed to export server: %w", err)
	}

	err = conn.Export(introspect.Introspectable(IntrospectXML), ObjectPath, "org.freedesktop.DBus.Introspectable")
	if err != nil {
		return fmt.Errorf("failed to export introspectable: %w", err)
	}

	reply, err := conn.RequestName(ServiceName, dbus.NameFlagDoNotQueue)
	if err != nil {
		return fmt.Errorf("failed to request name: %w", err)
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		return fmt.Errorf("name %s already taken", ServiceName)
	}

	s.connMu.Lock()
	s.conn = conn
	s.connMu.Unlock()

	success = true
	log.Info().Str("service", ServiceName).Msg("D-Bus service started")
	return nil
}

// Stop disconnects from the session bus.
func (s *Server) Stop() error {
	s.connMu.Lock()
	conn := s.conn
	s.conn = nil
	s.connMu.Unlock()

	if conn != nil {
		return conn.Close()
	}
	return nil
}

// Connect opens the device session.
func (s *Server) Connect() *dbus.Error {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	if err := s.supply.Connect(ctx); err != nil {
		if errors.Is(err, psu.ErrAlreadyConnected) {
			return nil
		}
		log.Error().Err(err).Msg("Failed to connect to device")
		return dbus.MakeFailedError(err)
	}
	return nil
}

// Disconnect closes the device session.
func (s *Server) Disconnect() *dbus.Error {
	if err := s.supply.Disconnect(); err != nil {
		log.Error().Err(err).Msg("Failed to disconnect from device")
		return dbus.MakeFailedError(err)
	}
	return nil
}

// GetStatus returns the connection status as a string.
func (s *Server) GetStatus() (string, *dbus.Error) {
	return s.supply.Status().String(), nil
}

// GetTelemetry returns the latest telemetry snapshot.
func (s *Server) GetTelemetry() (Telemetry, *dbus.Error) {
	sample, ok := s.supply.Snapshot()
	if !ok {
		return Telemetry{}, nil
	}

	return Telemetry{
		HasData:         true,
		Vin:             sample.Vin,
		Vout:            sample.Vout,
		Iout:            sample.Iout,
		Power:           sample.Power,
		Temp1:           sample.Temp1,
		Temp2:           sample.Temp2,
		DC5V:            sample.DC5V,
		Age:             time.Since(sample.At).Seconds(),
		OutputOn:        sample.OutputOn,
		ConstantCurrent: sample.ConstantCurrent,
	}, nil
}

// GetDeviceInfo returns the device identification block.
func (s *Server) GetDeviceInfo() (DeviceDetails, *dbus.Error) {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	info, err := s.supply.DeviceInfo(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to query device info")
		return DeviceDetails{}, dbus.MakeFailedError(err)
	}
	return DeviceDetails{
		Name:            info.Name,
		HardwareVersion: info.HardwareVersion,
		SoftwareVersion: info.SoftwareVersion,
	}, nil
}

// SetVoltage programs the output voltage setpoint and returns the outcome.
func (s *Server) SetVoltage(volts float64) (string, *dbus.Error) {
	return s.runCommand("SetVoltage", func(ctx context.Context) (psu.Outcome, error) {
		return s.supply.SetVoltage(ctx, volts)
	})
}

// SetCurrent programs the output current limit and returns the outcome.
func (s *Server) SetCurrent(amps float64) (string, *dbus.Error) {
	return s.runCommand("SetCurrent", func(ctx context.Context) (psu.Outcome, error) {
		return s.supply.SetCurrent(ctx, amps)
	})
}

// SetOutputEnabled switches the output stage and returns the outcome.
func (s *Server) SetOutputEnabled(enabled bool) (string, *dbus.Error) {
	return s.runCommand("SetOutputEnabled", func(ctx context.Context) (psu.Outcome, error) {
		return s.supply.SetOutputEnabled(ctx, enabled)
	})
}

// runCommand applies rate limiting and outcome mapping shared by the three
// mutating methods. A NotApplied verification result is a normal outcome
// reported to the caller, not a D-Bus error.
func (s *Server) runCommand(name string, fn func(ctx context.Context) (psu.Outcome, error)) (string, *dbus.Error) {
	if !s.rateLimiter.Allow() {
		log.Warn().Str("method", name).Msg("Rate limit exceeded")
		return "", dbus.MakeFailedError(ErrRateLimitExceeded)
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	outcome, err := fn(ctx)
	if err != nil && outcome != psu.OutcomeTimeout && outcome != psu.OutcomeDisconnected {
		log.Error().Err(err).Str("method", name).Msg("Command failed")
		return "", dbus.MakeFailedError(err)
	}

	log.Debug().Str("method", name).Str("outcome", outcome.String()).Msg("Command resolved")
	return outcome.String(), nil
}

// EmitTelemetry emits the TelemetryUpdated signal for one sample.
func (s *Server) EmitTelemetry(sample psu.Sample) {
	s.connMu.RLock()
	conn := s.conn
	s.connMu.RUnlock()

	if conn == nil {
		return
	}

	err := conn.Emit(ObjectPath, InterfaceName+".TelemetryUpdated",
		sample.Vout, sample.Iout, sample.Power, sample.Temp1, sample.OutputOn)
	if err != nil {
		log.Error().Err(err).Msg("Failed to emit TelemetryUpdated signal")
	}
}

// EmitConnectionChanged emits the ConnectionChanged signal.
func (s *Server) EmitConnectionChanged(status session.Status) {
	s.connMu.RLock()
	conn := s.conn
	s.connMu.RUnlock()

	if conn == nil {
		return
	}

	if err := conn.Emit(ObjectPath, InterfaceName+".ConnectionChanged", status.String()); err != nil {
		log.Error().Err(err).Msg("Failed to emit ConnectionChanged signal")
	}
	log.Info().Str("status", status.String()).Msg("Connection status changed")
}
