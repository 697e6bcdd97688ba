package irrigator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/LeonardoBeccarini/irrigate/pkg/gpio"
)

// ErrSensorRead is returned once a flow sensor stays unreadable past the
// retry budget.
var ErrSensorRead = errors.New("irrigator: flow sensor read failed")

const (
	// The YF-B series meters pulse at 7.5 Hz per l/min, i.e. 450 pulses
	// per liter.
	defaultPulsesPerLiter = 450.0

	// Bounded retry budget for a single hardware read.
	sensorReadAttempts = 4
)

// FlowMeter converts the pulse counter of one flow channel into liters.
// It belongs to exactly one watering session at a time; not safe for
// concurrent use.
type FlowMeter struct {
	board          gpio.Board
	channel        int
	litersPerPulse float64

	last    uint64
	session float64
	primed  bool
}

func NewFlowMeter(board gpio.Board, channel int, pulsesPerLiter float64) *FlowMeter {
	if pulsesPerLiter <= 0 {
		pulsesPerLiter = defaultPulsesPerLiter
	}
	return &FlowMeter{
		board:          board,
		channel:        channel,
		litersPerPulse: 1 / pulsesPerLiter,
	}
}

// Reset zeroes the session and baselines against the current hardware
// count, so pulses from earlier sessions are never credited to this one.
func (m *FlowMeter) Reset(ctx context.Context) error {
	count, err := m.read(ctx)
	if err != nil {
		return err
	}
	m.last = count
	m.session = 0
	m.primed = true
	return nil
}

// Delta reads the pulses accumulated since the previous read and returns
// them as liters. Pulses already consumed are never counted again; calling
// Delta twice with no flow in between returns 0 the second time.
func (m *FlowMeter) Delta(ctx context.Context) (float64, error) {
	count, err := m.read(ctx)
	if err != nil {
		return 0, err
	}
	if !m.primed || count < m.last {
		// First read, or the hardware counter was reset under us:
		// baseline without crediting anything.
		m.last = count
		m.primed = true
		return 0, nil
	}
	delta := float64(count-m.last) * m.litersPerPulse
	m.last = count
	m.session += delta
	return delta, nil
}

// SessionLiters is the running total since the last Reset.
func (m *FlowMeter) SessionLiters() float64 {
	return m.session
}

func (m *FlowMeter) read(ctx context.Context) (uint64, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 50 * time.Millisecond
	bo.MaxElapsedTime = 0 // bounded by attempt count, not wall time

	var count uint64
	err := backoff.Retry(func() error {
		c, err := m.board.Pulses(m.channel)
		if err != nil {
			return err
		}
		count = c
		return nil
	}, backoff.WithContext(backoff.WithMaxRetries(bo, sensorReadAttempts-1), ctx))
	if err != nil {
		return 0, fmt.Errorf("%w: channel %d: %v", ErrSensorRead, m.channel, err)
	}
	return count, nil
}
