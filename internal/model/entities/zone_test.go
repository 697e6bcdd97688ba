package entities

import "testing"

func TestMMPerMinute(t *testing.T) {
	tests := []struct {
		name string
		zone Zone
		want float64
	}{
		{name: "nominal", zone: Zone{AreaM2: 50, FlowCapacityLpm: 10}, want: 0.2},
		{name: "small dense zone", zone: Zone{AreaM2: 4, FlowCapacityLpm: 8}, want: 2},
		{name: "missing area", zone: Zone{FlowCapacityLpm: 10}, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.zone.MMPerMinute(); got != tt.want {
				t.Errorf("MMPerMinute = %.3f, want %.3f", got, tt.want)
			}
		})
	}
}
