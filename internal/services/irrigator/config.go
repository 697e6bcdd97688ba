package irrigator

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/LeonardoBeccarini/irrigate/internal/model"
	"github.com/LeonardoBeccarini/irrigate/internal/model/entities"
)

// Layout is the static zone/source topology for this installation.
type Layout struct {
	Zones   []model.Zone
	Sources []model.WaterSource
}

// LoadLayout reads the topology JSON. Numeric fields are parsed leniently
// and "flow_capacity_lpm" accepts the legacy "flow_rate" alias.
func LoadLayout(path string) (*Layout, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var doc struct {
		Zones   []map[string]any    `json:"zones"`
		Sources []model.WaterSource `json:"sources"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("layout: parse %s: %w", path, err)
	}

	out := &Layout{Sources: doc.Sources}
	sourceIDs := make(map[string]bool, len(doc.Sources))
	for _, s := range doc.Sources {
		if s.ID == "" {
			return nil, fmt.Errorf("layout: source without id")
		}
		if sourceIDs[s.ID] {
			return nil, fmt.Errorf("layout: duplicate source %s", s.ID)
		}
		sourceIDs[s.ID] = true
	}

	zoneIDs := make(map[string]bool, len(doc.Zones))
	for _, rec := range doc.Zones {
		var z model.Zone
		if v, ok := rec["id"].(string); ok {
			z.ID = v
		}
		if z.ID == "" {
			return nil, fmt.Errorf("layout: zone without id")
		}
		if zoneIDs[z.ID] {
			return nil, fmt.Errorf("layout: duplicate zone %s", z.ID)
		}
		zoneIDs[z.ID] = true

		if v, ok := rec["name"].(string); ok {
			z.Name = v
		}
		if v, ok := rec["delivery_type"].(string); ok {
			z.Delivery = entities.DeliveryType(v)
		}
		if v, ok := rec["source_id"].(string); ok {
			z.SourceID = v
		}
		z.AreaM2 = toF64(rec["area_m2"])
		z.ShadowFraction = toF64(rec["shadow_fraction"])
		z.ValveChannel = int(toF64(rec["valve_channel"]))
		z.FlowChannel = int(toF64(rec["flow_channel"]))
		z.PulsesPerLiter = toF64(rec["pulses_per_liter"])

		// prefer flow_capacity_lpm, fall back to legacy flow_rate
		flow := toF64(rec["flow_capacity_lpm"])
		if flow == 0 {
			flow = toF64(rec["flow_rate"])
		}
		z.FlowCapacityLpm = flow

		if z.AreaM2 <= 0 {
			return nil, fmt.Errorf("layout: zone %s has no area", z.ID)
		}
		if z.ShadowFraction < 0 || z.ShadowFraction > 1 {
			return nil, fmt.Errorf("layout: zone %s shadow_fraction %.2f out of [0,1]", z.ID, z.ShadowFraction)
		}
		if !sourceIDs[z.SourceID] {
			return nil, fmt.Errorf("layout: zone %s references unknown source %q", z.ID, z.SourceID)
		}
		out.Zones = append(out.Zones, z)
	}
	if len(out.Zones) == 0 {
		return nil, fmt.Errorf("layout: no zones configured")
	}
	return out, nil
}

// FilterZones keeps the zones whose id or name contains one of the given
// needles (case-insensitive). An empty filter keeps everything.
func (l *Layout) FilterZones(needles []string) []model.Zone {
	if len(needles) == 0 {
		return l.Zones
	}
	var out []model.Zone
	for _, z := range l.Zones {
		for _, n := range needles {
			n = strings.ToLower(strings.TrimSpace(n))
			if n == "" {
				continue
			}
			if strings.Contains(strings.ToLower(z.ID), n) || strings.Contains(strings.ToLower(z.Name), n) {
				out = append(out, z)
				break
			}
		}
	}
	return out
}

// helper to accept ints/floats/strings for numeric JSON fields
func toF64(v any) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case int:
		return float64(t)
	case string:
		if f, err := strconv.ParseFloat(strings.ReplaceAll(strings.TrimSpace(t), ",", "."), 64); err == nil {
			return f
		}
	}
	return 0
}
