package messages

import "time"

// Outcome says how a zone's watering session ended.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeTimedOut  Outcome = "timed_out"
	OutcomeAborted   Outcome = "aborted"
)

// WateringEvent records one zone's watering session. Written exactly once
// per zone per run, append-only, never mutated after write. A timed-out or
// aborted session still records the liters actually delivered.
type WateringEvent struct {
	ID           string    `json:"id"`
	ZoneID       string    `json:"zone_id"`
	Timestamp    time.Time `json:"timestamp"`
	Liters       float64   `json:"liters_delivered"`
	MMEquivalent float64   `json:"mm_equivalent"` // liters / zone area
	DurationS    float64   `json:"duration_s"`
	Outcome      Outcome   `json:"outcome"`
}
