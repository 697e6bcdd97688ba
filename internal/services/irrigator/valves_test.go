package irrigator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/LeonardoBeccarini/irrigate/internal/model"
	"github.com/LeonardoBeccarini/irrigate/pkg/gpio"
)

const (
	chValveA = 10
	chValveB = 11
	chBarrel = 20
	chFlowA  = 30
	chFlowB  = 31
)

func testLayout() ([]model.Zone, []model.WaterSource) {
	zones := []model.Zone{
		{ID: "a", Name: "zone a", AreaM2: 20, SourceID: "barrel", ValveChannel: chValveA, FlowChannel: chFlowA, FlowCapacityLpm: 10},
		{ID: "b", Name: "zone b", AreaM2: 30, SourceID: "barrel", ValveChannel: chValveB, FlowChannel: chFlowB, FlowCapacityLpm: 10},
	}
	sources := []model.WaterSource{
		{ID: "barrel", Kind: model.SourceBarrel, RelayChannel: chBarrel, Available: true},
	}
	return zones, sources
}

func TestSourceExclusivity(t *testing.T) {
	sim := gpio.NewSim()
	zones, sources := testLayout()
	vc := NewValveController(sim, zones, sources)
	ctx := context.Background()

	if err := vc.AcquireSource(ctx, "barrel", "a", time.Second); err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	if !sim.Relay(chBarrel) {
		t.Fatal("source relay not driven after acquire")
	}
	if got := vc.Holder("barrel"); got != "a" {
		t.Fatalf("holder = %q, want a", got)
	}

	// Zone b must wait, and time out while a holds the source.
	err := vc.AcquireSource(ctx, "barrel", "b", 50*time.Millisecond)
	if !errors.Is(err, ErrSourceUnavailable) {
		t.Fatalf("want ErrSourceUnavailable, got %v", err)
	}

	if err := vc.ReleaseSource("barrel"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if sim.Relay(chBarrel) {
		t.Fatal("source relay still on after release")
	}

	if err := vc.AcquireSource(ctx, "barrel", "b", 50*time.Millisecond); err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
	if got := vc.Holder("barrel"); got != "b" {
		t.Errorf("holder = %q, want b", got)
	}
}

func TestAcquireUnavailableSource(t *testing.T) {
	sim := gpio.NewSim()
	zones, _ := testLayout()
	sources := []model.WaterSource{
		{ID: "barrel", Kind: model.SourceBarrel, RelayChannel: chBarrel, Available: false},
	}
	vc := NewValveController(sim, zones, sources)

	err := vc.AcquireSource(context.Background(), "barrel", "a", 20*time.Millisecond)
	if !errors.Is(err, ErrSourceUnavailable) {
		t.Fatalf("want ErrSourceUnavailable, got %v", err)
	}
}

func TestAcquireCancelled(t *testing.T) {
	sim := gpio.NewSim()
	zones, sources := testLayout()
	vc := NewValveController(sim, zones, sources)

	if err := vc.AcquireSource(context.Background(), "barrel", "a", time.Second); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := vc.AcquireSource(ctx, "barrel", "b", time.Second); !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}
}

func TestAcquireRelayFailureReturnsToken(t *testing.T) {
	sim := gpio.NewSim()
	zones, sources := testLayout()
	vc := NewValveController(sim, zones, sources)
	ctx := context.Background()

	sim.FailRelay(chBarrel, errors.New("relay stuck"))
	err := vc.AcquireSource(ctx, "barrel", "a", 50*time.Millisecond)
	if !errors.Is(err, ErrSourceUnavailable) {
		t.Fatalf("want ErrSourceUnavailable, got %v", err)
	}
	if got := vc.Holder("barrel"); got != "" {
		t.Fatalf("failed acquire left holder %q", got)
	}

	// The token went back: the next zone can acquire once the relay heals.
	sim.FailRelay(chBarrel, nil)
	if err := vc.AcquireSource(ctx, "barrel", "b", 50*time.Millisecond); err != nil {
		t.Fatalf("acquire after relay failure: %v", err)
	}
}

func TestValveRequiresHeldSource(t *testing.T) {
	sim := gpio.NewSim()
	zones, sources := testLayout()
	vc := NewValveController(sim, zones, sources)
	ctx := context.Background()

	if err := vc.OpenValve("a"); err == nil {
		t.Fatal("valve opened without holding the source")
	}

	if err := vc.AcquireSource(ctx, "barrel", "a", time.Second); err != nil {
		t.Fatal(err)
	}
	// Zone b does not hold the source, only a does.
	if err := vc.OpenValve("b"); err == nil {
		t.Fatal("valve b opened while a holds the source")
	}

	if err := vc.OpenValve("a"); err != nil {
		t.Fatalf("open valve: %v", err)
	}
	if !sim.Relay(chValveA) || !vc.ValveIsOpen("a") {
		t.Fatal("valve a not open")
	}
	// Idempotent open and close.
	if err := vc.OpenValve("a"); err != nil {
		t.Fatalf("re-open: %v", err)
	}
	if err := vc.CloseValve("a"); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := vc.CloseValve("a"); err != nil {
		t.Fatalf("re-close: %v", err)
	}
	if sim.Relay(chValveA) {
		t.Fatal("valve relay still driven after close")
	}
}

func TestCloseAllBestEffort(t *testing.T) {
	sim := gpio.NewSim()
	zones, sources := testLayout()
	vc := NewValveController(sim, zones, sources)
	ctx := context.Background()

	if err := vc.AcquireSource(ctx, "barrel", "a", time.Second); err != nil {
		t.Fatal(err)
	}
	if err := vc.OpenValve("a"); err != nil {
		t.Fatal(err)
	}

	// One stuck valve must not keep the others energized.
	sim.FailRelay(chValveB, errors.New("relay stuck"))
	vc.CloseAll()

	if sim.Relay(chValveA) || sim.Relay(chBarrel) {
		t.Error("healthy relays still driven after CloseAll")
	}
	if got := vc.Holder("barrel"); got != "" {
		t.Errorf("holder = %q after CloseAll, want free", got)
	}

	// The source is free again for the next run.
	if err := vc.AcquireSource(ctx, "barrel", "b", 50*time.Millisecond); err != nil {
		t.Errorf("acquire after CloseAll: %v", err)
	}
}
