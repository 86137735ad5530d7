package psu

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// yieldCheckInterval is how often a deferring poll re-checks for waiting
// commands.
const yieldCheckInterval = 5 * time.Millisecond

// Arbiter serializes telemetry polls and user commands onto the single
// request slot the correlator exposes.
//
// Commands take priority over the next scheduled poll: before contending for
// the slot, the poller yields while any command is waiting. A poll already
// holding the slot is never preempted. The yield is bounded by the grace
// period, so a steady stream of commands cannot starve telemetry forever;
// conversely a command that loses the race to one poll acquires the slot
// right after it, so it never waits out more than one additional poll cycle.
type Arbiter struct {
	slot    chan struct{}
	waiting atomic.Int32
	grace   time.Duration
}

// NewArbiter creates an arbiter with the given poller yield bound.
func NewArbiter(grace time.Duration) *Arbiter {
	return &Arbiter{
		slot:  make(chan struct{}, 1),
		grace: grace,
	}
}

// AcquireCommand claims the slot for a user command. It blocks until the
// slot is free or ctx is cancelled; cancellation before the slot is granted
// removes the command without side effects.
func (a *Arbiter) AcquireCommand(ctx context.Context) error {
	a.waiting.Add(1)
	defer a.waiting.Add(-1)

	select {
	case a.slot <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// AcquirePoll claims the slot for a telemetry poll, first yielding to any
// waiting command for up to the grace period.
func (a *Arbiter) AcquirePoll(ctx context.Context) error {
	if n := a.CommandsWaiting(); n > 0 {
		log.Debug().Int("commands_waiting", n).Msg("Poll deferring to queued commands")
	}

	yieldDeadline := time.Now().Add(a.grace)
	for a.waiting.Load() > 0 && time.Now().Before(yieldDeadline) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(yieldCheckInterval):
		}
	}

	select {
	case a.slot <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release frees the slot. Must be called exactly once per successful acquire.
func (a *Arbiter) Release() {
	<-a.slot
}

// CommandsWaiting returns how many commands are queued for the slot.
func (a *Arbiter) CommandsWaiting() int {
	return int(a.waiting.Load())
}
