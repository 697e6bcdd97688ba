// Package irrigator sequences the zones: it opens valves, watches the flow
// meters until each zone's target is reached, and guarantees everything is
// closed again however the run ends.
package irrigator

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/LeonardoBeccarini/irrigate/internal/model"
	"github.com/LeonardoBeccarini/irrigate/pkg/gpio"
)

// ZoneState is a zone's position in the watering state machine.
type ZoneState string

const (
	StatePending    ZoneState = "pending"
	StateSourceWait ZoneState = "source_wait"
	StateWatering   ZoneState = "watering"
	StateCompleted  ZoneState = "completed"
	StateTimedOut   ZoneState = "timed_out"
	StateAborted    ZoneState = "aborted"
)

// ZonePlan is one zone's watering assignment for this run.
type ZonePlan struct {
	Zone         model.Zone
	DeficitMM    float64
	TargetLiters float64
}

// ZoneResult is the outcome of one zone's session.
type ZoneResult struct {
	Zone     model.Zone
	State    ZoneState
	Liters   float64
	Duration time.Duration
	Err      error
}

// HistoryStore receives one WateringEvent per zone touched by the run.
type HistoryStore interface {
	Append(ctx context.Context, ev model.WateringEvent) error
}

// Notifier gets every watering event after it is stored (MQTT, in
// production). Optional.
type Notifier interface {
	WateringResult(ev model.WateringEvent)
}

type Config struct {
	// PollInterval paces the flow reads; cancellation is observed within
	// one interval.
	PollInterval time.Duration
	// SourceWait bounds how long a zone waits for its source to free up.
	SourceWait time.Duration
	// SafetyFactor and DurationMargin stretch the nominal watering time
	// into the per-zone timeout, so legitimate completion under nominal
	// flow always fits inside the bound.
	SafetyFactor   float64
	DurationMargin time.Duration
	// Concurrent lets zones on distinct sources water in parallel. Zones
	// sharing a source always run sequentially.
	Concurrent bool
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = 2 * time.Second
	}
	if c.SourceWait <= 0 {
		c.SourceWait = 5 * time.Minute
	}
	if c.SafetyFactor < 1 {
		c.SafetyFactor = 1.5
	}
	if c.DurationMargin < 0 {
		c.DurationMargin = 0
	}
	return c
}

// Scheduler drives the per-zone state machine over the valve controller
// and the flow meters.
type Scheduler struct {
	cfg      Config
	board    gpio.Board
	valves   *ValveController
	store    HistoryStore
	notifier Notifier
	metrics  *Metrics
}

func NewScheduler(cfg Config, board gpio.Board, valves *ValveController, store HistoryStore) *Scheduler {
	return &Scheduler{
		cfg:    cfg.withDefaults(),
		board:  board,
		valves: valves,
		store:  store,
	}
}

// SetNotifier attaches an optional result notifier.
func (s *Scheduler) SetNotifier(n Notifier) { s.notifier = n }

// SetMetrics attaches optional run metrics.
func (s *Scheduler) SetMetrics(m *Metrics) { s.metrics = m }

// Run waters every zone in the plan, biggest deficit first, and returns one
// result per zone. Whatever happens, every valve opened by the run is
// closed and every source released before Run returns. Zones a cancelled
// run never got around to stay pending and record no event; only sessions
// actually attempted leave a trace in the history.
func (s *Scheduler) Run(ctx context.Context, plan []ZonePlan) []ZoneResult {
	defer s.valves.CloseAll()

	ordered := make([]ZonePlan, len(plan))
	copy(ordered, plan)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].DeficitMM != ordered[j].DeficitMM {
			return ordered[i].DeficitMM > ordered[j].DeficitMM
		}
		return ordered[i].Zone.ID < ordered[j].Zone.ID
	})

	if !s.cfg.Concurrent {
		results := make([]ZoneResult, 0, len(ordered))
		for _, p := range ordered {
			if ctx.Err() != nil {
				results = append(results, skippedResult(p, ctx.Err()))
				continue
			}
			results = append(results, s.runZone(ctx, p))
		}
		return results
	}

	// Group by source: groups run in parallel, zones within a group keep
	// the deficit order.
	groups := make(map[string][]ZonePlan)
	var order []string
	for _, p := range ordered {
		if _, seen := groups[p.Zone.SourceID]; !seen {
			order = append(order, p.Zone.SourceID)
		}
		groups[p.Zone.SourceID] = append(groups[p.Zone.SourceID], p)
	}

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		results = make(map[string]ZoneResult, len(ordered))
	)
	for _, srcID := range order {
		wg.Add(1)
		go func(zones []ZonePlan) {
			defer wg.Done()
			for _, p := range zones {
				var r ZoneResult
				if ctx.Err() != nil {
					r = skippedResult(p, ctx.Err())
				} else {
					r = s.runZone(ctx, p)
				}
				mu.Lock()
				results[p.Zone.ID] = r
				mu.Unlock()
			}
		}(groups[srcID])
	}
	wg.Wait()

	out := make([]ZoneResult, 0, len(ordered))
	for _, p := range ordered {
		out = append(out, results[p.Zone.ID])
	}
	return out
}

// skippedResult marks a zone the run never started. No valve moved and no
// water flowed, so nothing is written to the history either.
func skippedResult(p ZonePlan, err error) ZoneResult {
	log.Printf("scheduler: zone %s never started: %v", p.Zone.ID, err)
	return ZoneResult{Zone: p.Zone, State: StatePending, Err: err}
}

// runZone waters one zone and records its event, whatever the outcome.
func (s *Scheduler) runZone(ctx context.Context, p ZonePlan) ZoneResult {
	started := time.Now()
	res := s.waterZone(ctx, p)
	res.Duration = time.Since(started)

	ev := model.WateringEvent{
		ID:        uuid.NewString(),
		ZoneID:    p.Zone.ID,
		Timestamp: time.Now().UTC(),
		Liters:    res.Liters,
		DurationS: res.Duration.Seconds(),
		Outcome:   outcomeFor(res.State),
	}
	if p.Zone.AreaM2 > 0 {
		ev.MMEquivalent = res.Liters / p.Zone.AreaM2
	}

	// The event must land even when the run context is already cancelled.
	wctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.store.Append(wctx, ev); err != nil {
		log.Printf("scheduler: record event for zone %s: %v", p.Zone.ID, err)
	}
	if s.notifier != nil {
		s.notifier.WateringResult(ev)
	}
	s.metrics.ObserveOutcome(ev)

	log.Printf("scheduler: zone %s %s, %.1f liters (%.1f mm) in %s",
		p.Zone.ID, res.State, res.Liters, ev.MMEquivalent, res.Duration.Round(time.Second))
	return res
}

// waterZone runs the state machine for one zone. On every exit path the
// valve is closed and the source released before returning.
func (s *Scheduler) waterZone(ctx context.Context, p ZonePlan) (res ZoneResult) {
	res = ZoneResult{Zone: p.Zone, State: StateSourceWait}

	if err := s.valves.AcquireSource(ctx, p.Zone.SourceID, p.Zone.ID, s.cfg.SourceWait); err != nil {
		log.Printf("scheduler: zone %s gets no source: %v", p.Zone.ID, err)
		res.State = StateAborted
		res.Err = err
		return res
	}
	defer func() {
		if err := s.valves.CloseValve(p.Zone.ID); err != nil {
			log.Printf("scheduler: close valve %s: %v", p.Zone.ID, err)
		}
		if err := s.valves.ReleaseSource(p.Zone.SourceID); err != nil {
			log.Printf("scheduler: release source %s: %v", p.Zone.SourceID, err)
		}
		s.metrics.SetValveOpen(p.Zone.ID, false)
	}()

	meter := NewFlowMeter(s.board, p.Zone.FlowChannel, p.Zone.PulsesPerLiter)
	if err := meter.Reset(ctx); err != nil {
		res.State = StateAborted
		res.Err = err
		return res
	}
	if err := s.valves.OpenValve(p.Zone.ID); err != nil {
		res.State = StateAborted
		res.Err = err
		return res
	}
	s.metrics.SetValveOpen(p.Zone.ID, true)

	res.State = StateWatering
	maxDur := s.maxWateringTime(p)
	log.Printf("scheduler: zone %s watering, target %.0f liters, bound %s",
		p.Zone.ID, p.TargetLiters, maxDur.Round(time.Second))

	started := time.Now()
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			res.State = StateAborted
			res.Err = ctx.Err()
			res.Liters = meter.SessionLiters()
			return res
		case <-ticker.C:
			delta, err := meter.Delta(ctx)
			if err != nil {
				// Retry budget already spent inside the meter.
				res.State = StateAborted
				res.Err = err
				res.Liters = meter.SessionLiters()
				return res
			}
			s.metrics.AddLiters(p.Zone.ID, delta)

			if meter.SessionLiters() >= p.TargetLiters {
				res.State = StateCompleted
				res.Liters = meter.SessionLiters()
				return res
			}
			if time.Since(started) > maxDur {
				log.Printf("scheduler: zone %s exceeded %s, stopping at %.1f of %.0f liters",
					p.Zone.ID, maxDur.Round(time.Second), meter.SessionLiters(), p.TargetLiters)
				res.State = StateTimedOut
				res.Liters = meter.SessionLiters()
				return res
			}
		}
	}
}

// maxWateringTime derives the per-zone safety bound from target and
// nominal capacity, so completion under nominal flow always fits.
func (s *Scheduler) maxWateringTime(p ZonePlan) time.Duration {
	capacity := p.Zone.FlowCapacityLpm
	if capacity <= 0 {
		capacity = 1 // pessimistic floor, 1 l/min
	}
	nominal := time.Duration(p.TargetLiters / capacity * float64(time.Minute))
	return time.Duration(float64(nominal)*s.cfg.SafetyFactor) + s.cfg.DurationMargin
}

func outcomeFor(st ZoneState) model.Outcome {
	switch st {
	case StateCompleted:
		return model.OutcomeCompleted
	case StateTimedOut:
		return model.OutcomeTimedOut
	default:
		return model.OutcomeAborted
	}
}

// AnyFailed reports whether some zone did not complete (exit status 2).
func AnyFailed(results []ZoneResult) bool {
	for _, r := range results {
		if r.State != StateCompleted {
			return true
		}
	}
	return false
}

// TotalLiters sums the water actually delivered by the run.
func TotalLiters(results []ZoneResult) float64 {
	var sum float64
	for _, r := range results {
		sum += r.Liters
	}
	return sum
}
