package psu

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/shini4i/dp100-daemon/internal/session"
)

// queryFunc performs one telemetry exchange and decodes the result.
type queryFunc func(ctx context.Context) (Sample, error)

// Poller drives the continuous telemetry read cycle. Each cycle acquires the
// arbitration slot, issues one basic info request, publishes the decoded
// sample, and sleeps until the next tick.
//
// Transient faults (timeouts, protocol errors) are absorbed: the sample is
// not updated, the error counter increments, and polling continues. A
// disconnect is terminal: the state model is marked disconnected and Run
// returns. Reconnection requires a fresh session.
type Poller struct {
	arbiter  *Arbiter
	state    *StateModel
	query    queryFunc
	interval time.Duration

	// onSample, when set, is invoked once per successful cycle.
	onSample func(Sample)

	// onDisconnect, when set, is invoked once when polling halts on a
	// transport fault.
	onDisconnect func()
}

// NewPoller creates a poller. interval must be positive.
func NewPoller(arbiter *Arbiter, state *StateModel, query queryFunc, interval time.Duration) *Poller {
	return &Poller{
		arbiter:  arbiter,
		state:    state,
		query:    query,
		interval: interval,
	}
}

// Run polls until ctx is cancelled or the session faults. It performs one
// immediate cycle before settling into the tick interval so consumers get a
// first sample without waiting a full period.
func (p *Poller) Run(ctx context.Context) {
	if !p.cycle(ctx) {
		return
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if !p.cycle(ctx) {
			return
		}
	}
}

// cycle performs one poll. It returns false when polling must stop.
func (p *Poller) cycle(ctx context.Context) bool {
	if err := p.arbiter.AcquirePoll(ctx); err != nil {
		return false
	}
	sample, err := p.query(ctx)
	p.arbiter.Release()

	switch {
	case err == nil:
		p.state.Publish(sample)
		if p.onSample != nil {
			p.onSample(sample)
		}
		return true

	case errors.Is(err, session.ErrDisconnected):
		log.Warn().Err(err).Msg("Device lost during poll, stopping telemetry")
		p.state.SetStatus(session.StatusDisconnected)
		if p.onDisconnect != nil {
			p.onDisconnect()
		}
		return false

	case ctx.Err() != nil:
		return false

	default:
		// Transient: momentary USB noise must not take down the display.
		p.state.RecordError()
		log.Debug().
			Err(err).
			Uint64("errors", p.state.ErrorCount()).
			Msg("Poll cycle failed, will retry next interval")
		return true
	}
}
