package gpio

import (
	"fmt"
	"sync"
	"time"
)

// Transition is one relay state change, kept for test assertions.
type Transition struct {
	Channel int
	On      bool
	At      time.Time
}

type simFlow struct {
	relay          int // pulses accrue only while this relay is on
	pulsesPerSec   float64
	count          float64
	lastAdvancedAt time.Time
}

// Sim emulates a relay board with pulse-based flow meters. A flow channel
// linked to a relay accrues pulses at a fixed rate while the relay is on,
// so watering a simulated zone behaves like the real thing at whatever
// speed the test asks for.
type Sim struct {
	mu       sync.Mutex
	relays   map[int]bool
	flows    map[int]*simFlow
	pulseErr map[int]error
	relayErr map[int]error
	log      []Transition
	closed   bool
}

func NewSim() *Sim {
	return &Sim{
		relays:   make(map[int]bool),
		flows:    make(map[int]*simFlow),
		pulseErr: make(map[int]error),
		relayErr: make(map[int]error),
	}
}

// LinkFlow makes flowChannel emit pulsesPerSecond while relayChannel is on.
func (s *Sim) LinkFlow(flowChannel, relayChannel int, pulsesPerSecond float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flows[flowChannel] = &simFlow{
		relay:          relayChannel,
		pulsesPerSec:   pulsesPerSecond,
		lastAdvancedAt: time.Now(),
	}
}

// AddPulses bumps a flow channel by a fixed pulse count (deterministic
// alternative to LinkFlow for meter tests).
func (s *Sim) AddPulses(flowChannel int, n uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.flows[flowChannel]
	if !ok {
		f = &simFlow{relay: -1, lastAdvancedAt: time.Now()}
		s.flows[flowChannel] = f
	}
	f.count += float64(n)
}

// FailPulses makes reads of a flow channel return err (nil clears it).
func (s *Sim) FailPulses(channel int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.pulseErr, channel)
		return
	}
	s.pulseErr[channel] = err
}

// FailRelay makes writes to a relay channel return err (nil clears it).
func (s *Sim) FailRelay(channel int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.relayErr, channel)
		return
	}
	s.relayErr[channel] = err
}

// Relay reports the current state of a relay channel.
func (s *Sim) Relay(channel int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.relays[channel]
}

// AnyRelayOn reports whether any relay is currently driven.
func (s *Sim) AnyRelayOn() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, on := range s.relays {
		if on {
			return true
		}
	}
	return false
}

// Transitions returns a copy of the relay transition log.
func (s *Sim) Transitions() []Transition {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Transition, len(s.log))
	copy(out, s.log)
	return out
}

func (s *Sim) SetRelay(channel int, on bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("gpio sim: board closed")
	}
	if err := s.relayErr[channel]; err != nil {
		return err
	}
	// Freeze accrued pulses before the relay flips.
	s.advanceLocked()
	s.relays[channel] = on
	s.log = append(s.log, Transition{Channel: channel, On: on, At: time.Now()})
	return nil
}

func (s *Sim) Pulses(channel int) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, fmt.Errorf("gpio sim: board closed: %w", ErrRead)
	}
	if err := s.pulseErr[channel]; err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRead, err)
	}
	s.advanceLocked()
	f, ok := s.flows[channel]
	if !ok {
		return 0, nil
	}
	return uint64(f.count), nil
}

func (s *Sim) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.relays {
		s.relays[ch] = false
	}
	s.closed = true
	return nil
}

// advanceLocked accrues pulses for every linked flow whose relay is on.
func (s *Sim) advanceLocked() {
	now := time.Now()
	for _, f := range s.flows {
		dt := now.Sub(f.lastAdvancedAt).Seconds()
		if f.relay >= 0 && s.relays[f.relay] && dt > 0 {
			f.count += f.pulsesPerSec * dt
		}
		f.lastAdvancedAt = now
	}
}
