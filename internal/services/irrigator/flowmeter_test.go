package irrigator

import (
	"context"
	"errors"
	"testing"

	"github.com/LeonardoBeccarini/irrigate/pkg/gpio"
)

func TestFlowMeterDelta(t *testing.T) {
	sim := gpio.NewSim()
	meter := NewFlowMeter(sim, 5, 450)
	ctx := context.Background()

	if err := meter.Reset(ctx); err != nil {
		t.Fatalf("reset: %v", err)
	}

	sim.AddPulses(5, 900)
	got, err := meter.Delta(ctx)
	if err != nil {
		t.Fatalf("delta: %v", err)
	}
	if got != 2.0 {
		t.Errorf("Delta = %.3f L, want 2.000", got)
	}

	// Nothing flowed since: the same pulses must not be counted twice.
	got, err = meter.Delta(ctx)
	if err != nil {
		t.Fatalf("delta: %v", err)
	}
	if got != 0 {
		t.Errorf("second Delta = %.3f L, want 0", got)
	}

	sim.AddPulses(5, 225)
	if _, err := meter.Delta(ctx); err != nil {
		t.Fatal(err)
	}
	if total := meter.SessionLiters(); total != 2.5 {
		t.Errorf("SessionLiters = %.3f, want 2.500", total)
	}
}

func TestFlowMeterResetBaselines(t *testing.T) {
	sim := gpio.NewSim()
	sim.AddPulses(5, 4500) // pulses from an earlier session
	meter := NewFlowMeter(sim, 5, 450)
	ctx := context.Background()

	if err := meter.Reset(ctx); err != nil {
		t.Fatalf("reset: %v", err)
	}
	got, err := meter.Delta(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got != 0 {
		t.Errorf("pre-reset pulses credited to the session: %.3f L", got)
	}
}

func TestFlowMeterFirstDeltaBaselines(t *testing.T) {
	sim := gpio.NewSim()
	sim.AddPulses(5, 900)
	meter := NewFlowMeter(sim, 5, 450)

	// Without a Reset the first Delta only establishes the baseline.
	got, err := meter.Delta(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if got != 0 {
		t.Errorf("unprimed Delta = %.3f L, want 0", got)
	}
}

func TestFlowMeterSensorFailure(t *testing.T) {
	sim := gpio.NewSim()
	sim.FailPulses(5, errors.New("wire loose"))
	meter := NewFlowMeter(sim, 5, 450)

	if _, err := meter.Delta(context.Background()); !errors.Is(err, ErrSensorRead) {
		t.Fatalf("want ErrSensorRead, got %v", err)
	}
}

func TestFlowMeterDefaultPulsesPerLiter(t *testing.T) {
	sim := gpio.NewSim()
	meter := NewFlowMeter(sim, 5, 0)
	ctx := context.Background()

	if err := meter.Reset(ctx); err != nil {
		t.Fatal(err)
	}
	sim.AddPulses(5, 450)
	got, err := meter.Delta(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got != 1.0 {
		t.Errorf("Delta = %.3f L, want 1.000 at the default 450 p/L", got)
	}
}
