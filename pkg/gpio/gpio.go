// Package gpio abstracts the relay board and the pulse-counter inputs so
// the engine runs unchanged against real Raspberry Pi pins or a simulated
// board (tests, -emulate mode).
package gpio

import "errors"

// ErrRead is wrapped by implementations when a pulse counter cannot be
// reached.
var ErrRead = errors.New("gpio: pulse read failed")

// Board is the hardware capability surface the engine consumes.
type Board interface {
	// SetRelay drives a relay channel on or off.
	SetRelay(channel int, on bool) error
	// Pulses returns the flow-meter pulse count for a channel. The count
	// is monotonically increasing for the lifetime of the board.
	Pulses(channel int) (uint64, error)
	// Close releases the hardware. All relays are driven off first.
	Close() error
}
