package entities

// DeliveryType tells how a zone physically puts water on the ground.
type DeliveryType string

const (
	DeliveryDrip      DeliveryType = "drip"
	DeliverySprinkler DeliveryType = "sprinkler"
)

// Zone represents a single irrigated area together with its valve and
// flow-meter wiring. Static configuration, loaded once per run.
type Zone struct {
	ID              string       `json:"id"`
	Name            string       `json:"name,omitempty"`
	AreaM2          float64      `json:"area_m2"`
	ShadowFraction  float64      `json:"shadow_fraction"` // 0 = full sun, 1 = full shade
	Delivery        DeliveryType `json:"delivery_type"`
	FlowCapacityLpm float64      `json:"flow_capacity_lpm"` // nominal flow under full pressure [l/min]
	SourceID        string       `json:"source_id"`
	ValveChannel    int          `json:"valve_channel"`
	FlowChannel     int          `json:"flow_channel"`
	PulsesPerLiter  float64      `json:"pulses_per_liter,omitempty"`
}

// MMPerMinute is how many mm of water the zone receives per minute at
// nominal flow (1 mm over 1 m^2 = 1 liter).
func (z Zone) MMPerMinute() float64 {
	if z.AreaM2 <= 0 {
		return 0
	}
	return z.FlowCapacityLpm / z.AreaM2
}
