package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/LeonardoBeccarini/irrigate/internal/model"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func event(zoneID string, ts time.Time, mm float64) model.WateringEvent {
	return model.WateringEvent{
		ID:           zoneID + ts.Format("20060102T150405"),
		ZoneID:       zoneID,
		Timestamp:    ts,
		Liters:       mm * 50,
		MMEquivalent: mm,
		DurationS:    120,
		Outcome:      model.OutcomeCompleted,
	}
}

func TestAppendAndSum(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	base := time.Date(2024, 6, 10, 6, 0, 0, 0, time.UTC)
	events := []model.WateringEvent{
		event("side", base, 4),
		event("side", base.AddDate(0, 0, 2), 3),
		event("side", base.AddDate(0, 0, 30), 9), // outside the window
		event("front", base.AddDate(0, 0, 1), 7), // other zone
	}
	for _, ev := range events {
		if err := store.Append(ctx, ev); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	tests := []struct {
		name     string
		zoneID   string
		from, to time.Time
		want     float64
	}{
		{
			name:   "full window",
			zoneID: "side",
			from:   base.AddDate(0, 0, -1), to: base.AddDate(0, 0, 21),
			want: 7,
		},
		{
			name:   "window excludes later events",
			zoneID: "side",
			from:   base.AddDate(0, 0, -1), to: base.AddDate(0, 0, 1),
			want: 4,
		},
		{
			name:   "end of window is exclusive",
			zoneID: "side",
			from:   base.AddDate(0, 0, -1), to: base,
			want: 0,
		},
		{
			name:   "other zones are not counted",
			zoneID: "front",
			from:   base.AddDate(0, 0, -1), to: base.AddDate(0, 0, 21),
			want: 7,
		},
		{
			name:   "unknown zone sums to zero",
			zoneID: "nope",
			from:   base.AddDate(0, 0, -1), to: base.AddDate(0, 0, 21),
			want: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := store.SumWateredMM(ctx, tt.zoneID, tt.from, tt.to)
			if err != nil {
				t.Fatalf("sum: %v", err)
			}
			if got != tt.want {
				t.Errorf("SumWateredMM = %.2f, want %.2f", got, tt.want)
			}
		})
	}
}

func TestPing(t *testing.T) {
	store := openTestStore(t)
	if err := store.Ping(context.Background()); err != nil {
		t.Fatalf("ping: %v", err)
	}
}
