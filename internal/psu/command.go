package psu

import "errors"

// ErrNotConnected is returned for commands issued without an open session.
var ErrNotConnected = errors.New("not connected")

// ErrAlreadyConnected is returned for a connect attempt on a live session.
var ErrAlreadyConnected = errors.New("already connected")

// ErrVoltageRange is returned when a requested voltage is outside the
// supply's output range.
var ErrVoltageRange = errors.New("voltage out of range")

// ErrCurrentRange is returned when a requested current is outside the
// supply's output range.
var ErrCurrentRange = errors.New("current out of range")

// Output limits of the DP100 hardware.
const (
	MaxVoltage = 30.0 // volts
	MaxCurrent = 5.0  // amps
)

// Outcome is the resolution of a user-issued command. NotApplied is a
// first-class expected outcome, not an error: the transport-level exchange
// succeeded but the verification read-back showed the device did not adopt
// the requested setpoint.
type Outcome int

const (
	// OutcomeSuccess means the command was accepted and verified.
	OutcomeSuccess Outcome = iota
	// OutcomeNotApplied means the write looked accepted but the read-back
	// disagreed with the requested setpoint beyond tolerance.
	OutcomeNotApplied
	// OutcomeTimeout means the device did not answer within the deadline.
	OutcomeTimeout
	// OutcomeDisconnected means the session was lost during the command.
	OutcomeDisconnected
)

// String returns the outcome name as exposed to external consumers.
func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeNotApplied:
		return "not_applied"
	case OutcomeTimeout:
		return "timeout"
	case OutcomeDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}
