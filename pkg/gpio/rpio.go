package gpio

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	rpio "github.com/stianeikeland/go-rpio/v4"
)

// Pi drives a real Raspberry Pi relay board and counts flow-meter pulses
// through edge detection on the input pins.
type Pi struct {
	mu      sync.Mutex
	relays  map[int]rpio.Pin
	pulses  map[int]*uint64
	stop    chan struct{}
	wg      sync.WaitGroup
	closed  bool
}

// OpenPi maps the given relay output channels and flow-meter input
// channels onto BCM pins. Relays start off; each flow pin gets a polling
// goroutine counting rising edges.
func OpenPi(relayChannels, flowChannels []int) (*Pi, error) {
	if err := rpio.Open(); err != nil {
		return nil, fmt.Errorf("gpio: open /dev/gpiomem: %w", err)
	}

	p := &Pi{
		relays: make(map[int]rpio.Pin, len(relayChannels)),
		pulses: make(map[int]*uint64, len(flowChannels)),
		stop:   make(chan struct{}),
	}
	for _, ch := range relayChannels {
		pin := rpio.Pin(ch)
		pin.Output()
		pin.Low()
		p.relays[ch] = pin
	}
	for _, ch := range flowChannels {
		pin := rpio.Pin(ch)
		pin.Input()
		pin.PullUp()
		pin.Detect(rpio.RiseEdge)
		var count uint64
		p.pulses[ch] = &count
		p.wg.Add(1)
		go p.countEdges(pin, &count)
	}
	return p, nil
}

// Flow pulses arrive at up to ~50 Hz; a 2 ms poll keeps up with margin.
const edgePollPeriod = 2 * time.Millisecond

func (p *Pi) countEdges(pin rpio.Pin, count *uint64) {
	defer p.wg.Done()
	t := time.NewTicker(edgePollPeriod)
	defer t.Stop()
	for {
		select {
		case <-p.stop:
			pin.Detect(rpio.NoEdge)
			return
		case <-t.C:
			if pin.EdgeDetected() {
				atomic.AddUint64(count, 1)
			}
		}
	}
}

func (p *Pi) SetRelay(channel int, on bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	pin, ok := p.relays[channel]
	if !ok {
		return fmt.Errorf("gpio: unknown relay channel %d", channel)
	}
	if on {
		pin.High()
	} else {
		pin.Low()
	}
	return nil
}

func (p *Pi) Pulses(channel int) (uint64, error) {
	count, ok := p.pulses[channel]
	if !ok {
		return 0, fmt.Errorf("%w: unknown flow channel %d", ErrRead, channel)
	}
	return atomic.LoadUint64(count), nil
}

// Close drives every relay off, stops the edge counters and releases the
// GPIO mapping.
func (p *Pi) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	for _, pin := range p.relays {
		pin.Low()
	}
	p.mu.Unlock()

	close(p.stop)
	p.wg.Wait()
	return rpio.Close()
}
