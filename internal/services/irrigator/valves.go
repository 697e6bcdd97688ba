package irrigator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/LeonardoBeccarini/irrigate/internal/model"
	"github.com/LeonardoBeccarini/irrigate/pkg/gpio"
)

// ErrSourceUnavailable is returned when no water source frees up within
// the acquire timeout, or a source relay refuses to open.
var ErrSourceUnavailable = errors.New("irrigator: water source unavailable")

// ValveController owns every relay channel: zone valves and source
// ball-valves. It enforces source exclusivity (one zone per source) and
// the invariant that a zone valve is open only while its source relay is.
type ValveController struct {
	board   gpio.Board
	zones   map[string]model.Zone
	sources map[string]model.WaterSource

	mu         sync.Mutex
	sem        map[string]chan struct{} // one token per source
	holder     map[string]string        // source id -> holding zone id
	valveOpen  map[string]bool          // zone id -> valve state
	sourceOpen map[string]bool          // source id -> relay state
}

func NewValveController(board gpio.Board, zones []model.Zone, sources []model.WaterSource) *ValveController {
	v := &ValveController{
		board:      board,
		zones:      make(map[string]model.Zone, len(zones)),
		sources:    make(map[string]model.WaterSource, len(sources)),
		sem:        make(map[string]chan struct{}, len(sources)),
		holder:     make(map[string]string, len(sources)),
		valveOpen:  make(map[string]bool, len(zones)),
		sourceOpen: make(map[string]bool, len(sources)),
	}
	for _, z := range zones {
		v.zones[z.ID] = z
	}
	for _, s := range sources {
		v.sources[s.ID] = s
		tok := make(chan struct{}, 1)
		if s.Available {
			tok <- struct{}{}
		}
		v.sem[s.ID] = tok
	}
	return v
}

// AcquireSource blocks until the source is free (bounded by timeout), then
// marks it held by zoneID and opens its supply relay. No two zones ever
// observe the same source as free simultaneously.
func (v *ValveController) AcquireSource(ctx context.Context, sourceID, zoneID string, timeout time.Duration) error {
	sem, ok := v.sem[sourceID]
	if !ok {
		return fmt.Errorf("%w: unknown source %s", ErrSourceUnavailable, sourceID)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-sem:
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("%w: %s still busy after %s", ErrSourceUnavailable, sourceID, timeout)
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	src := v.sources[sourceID]
	if err := v.board.SetRelay(src.RelayChannel, true); err != nil {
		// Hand the token back, nobody holds the source.
		select {
		case sem <- struct{}{}:
		default:
		}
		return fmt.Errorf("%w: open relay for %s: %v", ErrSourceUnavailable, sourceID, err)
	}
	v.holder[sourceID] = zoneID
	v.sourceOpen[sourceID] = true
	log.Printf("valves: source %s acquired by zone %s", sourceID, zoneID)
	return nil
}

// OpenValve opens the zone's valve. The zone must hold its assigned source
// so the valve never opens against a closed supply line.
func (v *ValveController) OpenValve(zoneID string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	z, ok := v.zones[zoneID]
	if !ok {
		return fmt.Errorf("valves: unknown zone %s", zoneID)
	}
	if v.holder[z.SourceID] != zoneID {
		return fmt.Errorf("valves: zone %s does not hold source %s", zoneID, z.SourceID)
	}
	if v.valveOpen[zoneID] {
		return nil
	}
	if err := v.board.SetRelay(z.ValveChannel, true); err != nil {
		return fmt.Errorf("valves: open valve for zone %s: %w", zoneID, err)
	}
	v.valveOpen[zoneID] = true
	log.Printf("valves: zone %s valve open", zoneID)
	return nil
}

// CloseValve closes the zone's valve. Closing an already-closed valve is a
// no-op, not an error.
func (v *ValveController) CloseValve(zoneID string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.closeValveLocked(zoneID)
}

func (v *ValveController) closeValveLocked(zoneID string) error {
	z, ok := v.zones[zoneID]
	if !ok {
		return fmt.Errorf("valves: unknown zone %s", zoneID)
	}
	if !v.valveOpen[zoneID] {
		return nil
	}
	if err := v.board.SetRelay(z.ValveChannel, false); err != nil {
		return fmt.Errorf("valves: close valve for zone %s: %w", zoneID, err)
	}
	v.valveOpen[zoneID] = false
	log.Printf("valves: zone %s valve closed", zoneID)
	return nil
}

// ReleaseSource closes the source relay and frees it for the next zone.
func (v *ValveController) ReleaseSource(sourceID string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.releaseSourceLocked(sourceID)
}

func (v *ValveController) releaseSourceLocked(sourceID string) error {
	src, ok := v.sources[sourceID]
	if !ok {
		return fmt.Errorf("valves: unknown source %s", sourceID)
	}
	var relayErr error
	if v.sourceOpen[sourceID] {
		relayErr = v.board.SetRelay(src.RelayChannel, false)
		v.sourceOpen[sourceID] = false
	}
	delete(v.holder, sourceID)
	select {
	case v.sem[sourceID] <- struct{}{}:
	default: // already free
	}
	if relayErr != nil {
		return fmt.Errorf("valves: close relay for source %s: %w", sourceID, relayErr)
	}
	log.Printf("valves: source %s released", sourceID)
	return nil
}

// Holder reports which zone currently holds a source ("" when free).
func (v *ValveController) Holder(sourceID string) string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.holder[sourceID]
}

// ValveIsOpen reports the tracked state of a zone valve.
func (v *ValveController) ValveIsOpen(zoneID string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.valveOpen[zoneID]
}

// CloseAll is the emergency path: every zone valve and every source relay
// is driven closed, best effort, whatever the tracked state says. Hardware
// failures are logged, never raised, so every channel gets its attempt.
// Called unconditionally at the end of any run, cancelled ones included.
func (v *ValveController) CloseAll() {
	v.mu.Lock()
	defer v.mu.Unlock()
	for id, z := range v.zones {
		if err := v.board.SetRelay(z.ValveChannel, false); err != nil {
			log.Printf("valves: emergency close zone %s failed: %v", id, err)
		}
		v.valveOpen[id] = false
	}
	for id, s := range v.sources {
		if err := v.board.SetRelay(s.RelayChannel, false); err != nil {
			log.Printf("valves: emergency close source %s failed: %v", id, err)
		}
		v.sourceOpen[id] = false
		delete(v.holder, id)
		if s.Available {
			select {
			case v.sem[id] <- struct{}{}:
			default:
			}
		}
	}
}
