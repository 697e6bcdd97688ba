// Package waterbalance turns window-total evapotranspiration, rainfall and
// prior watering into a per-zone irrigation target.
package waterbalance

import "github.com/LeonardoBeccarini/irrigate/internal/model"

const (
	// Below this deficit a run is not worth the valve cycling.
	defaultMinUsefulMM = 1.0
	// How much water maximally to irrigate per square meter in one run.
	defaultMaxPerRunMM = 10.0
)

type Config struct {
	MinUsefulMM float64
	MaxPerRunMM float64
}

func (c Config) withDefaults() Config {
	if c.MinUsefulMM <= 0 {
		c.MinUsefulMM = defaultMinUsefulMM
	}
	if c.MaxPerRunMM <= 0 {
		c.MaxPerRunMM = defaultMaxPerRunMM
	}
	return c
}

// Result is the watering decision for one zone.
type Result struct {
	ZoneID       string
	DeficitMM    float64
	TargetLiters float64
	Skipped      bool
}

// Compute derives the zone's net water deficit. Shaded zones evaporate
// less, so demand scales with (1 - shadow fraction). Deficit is clamped at
// zero, capped per run, and zones below the minimum-useful threshold are
// skipped. Deterministic, no side effects.
func Compute(cfg Config, zone model.Zone, et0TotalMM, rainTotalMM, wateredTotalMM float64) Result {
	cfg = cfg.withDefaults()

	demand := et0TotalMM * (1 - zone.ShadowFraction)
	deficit := demand - rainTotalMM - wateredTotalMM
	if deficit < 0 {
		deficit = 0
	}
	if deficit < cfg.MinUsefulMM {
		return Result{ZoneID: zone.ID, DeficitMM: deficit, Skipped: true}
	}
	if deficit > cfg.MaxPerRunMM {
		deficit = cfg.MaxPerRunMM
	}

	return Result{
		ZoneID:       zone.ID,
		DeficitMM:    deficit,
		TargetLiters: deficit * zone.AreaM2, // 1 mm over 1 m^2 = 1 liter
	}
}

// Fixed builds a result for a fixed amount of mm, bypassing the weather
// calculation (the -amount command line mode).
func Fixed(zone model.Zone, amountMM float64) Result {
	if amountMM <= 0 {
		return Result{ZoneID: zone.ID, Skipped: true}
	}
	return Result{
		ZoneID:       zone.ID,
		DeficitMM:    amountMM,
		TargetLiters: amountMM * zone.AreaM2,
	}
}
