package evaporation

import (
	"errors"
	"testing"
	"time"

	"github.com/LeonardoBeccarini/irrigate/internal/model"
)

func sample(day int, tempC, radiationWm2, rainMM float64) model.WeatherSample {
	return model.WeatherSample{
		Date:              time.Date(2024, 6, day, 0, 0, 0, 0, time.UTC),
		MeanTempC:         tempC,
		SolarRadiationWm2: radiationWm2,
		RainfallMM:        rainMM,
	}
}

func TestDaily(t *testing.T) {
	calc := NewCalculator()

	tests := []struct {
		name     string
		sample   model.WeatherSample
		min, max float64
	}{
		{
			// 20 C and 200 W/m2 mean is a bright Dutch summer day;
			// Makkink should land around 3 mm.
			name:   "summer day",
			sample: sample(1, 20, 200, 0),
			min:    2.5, max: 3.7,
		},
		{
			name:   "no radiation means no evaporation",
			sample: sample(2, 15, 0, 0),
			min:    0, max: 0,
		},
		{
			name:   "freezing day uses the ice branch",
			sample: sample(3, -5, 50, 0),
			min:    0.05, max: 1.0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := calc.Daily(tt.sample)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got < tt.min || got > tt.max {
				t.Errorf("ET0 = %.3f mm, want within [%.2f, %.2f]", got, tt.min, tt.max)
			}
		})
	}
}

func TestDailyMoreRadiationMoreEvaporation(t *testing.T) {
	calc := NewCalculator()
	low, err := calc.Daily(sample(1, 18, 100, 0))
	if err != nil {
		t.Fatal(err)
	}
	high, err := calc.Daily(sample(1, 18, 300, 0))
	if err != nil {
		t.Fatal(err)
	}
	if high <= low {
		t.Errorf("ET0 should grow with radiation: low=%.3f high=%.3f", low, high)
	}
}

func TestDailyInvalidSamples(t *testing.T) {
	calc := NewCalculator()

	tests := []struct {
		name   string
		sample model.WeatherSample
	}{
		{name: "negative radiation", sample: sample(1, 20, -5, 0)},
		{name: "temperature too cold", sample: sample(1, -60, 100, 0)},
		{name: "temperature too hot", sample: sample(1, 70, 100, 0)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := calc.Daily(tt.sample)
			var inv *InvalidSampleError
			if !errors.As(err, &inv) {
				t.Fatalf("want InvalidSampleError, got %v", err)
			}
		})
	}
}

func TestWindow(t *testing.T) {
	calc := NewCalculator()
	calc.MinSamples = 3

	samples := []model.WeatherSample{
		sample(1, 18, 150, 0),
		sample(2, 20, 220, 2),
		sample(3, 22, 260, 0),
		sample(4, 17, 90, 5),
	}

	perDay, total, err := calc.Window(samples)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(perDay) != len(samples) {
		t.Fatalf("got %d per-day values, want %d", len(perDay), len(samples))
	}
	var sum float64
	for _, v := range perDay {
		if v < 0 {
			t.Errorf("negative daily ET0 %.3f", v)
		}
		sum += v
	}
	if diff := total - sum; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("window total %.6f != sum of dailies %.6f", total, sum)
	}
}

func TestWindowInsufficientData(t *testing.T) {
	calc := NewCalculator()
	calc.MinSamples = 7

	_, _, err := calc.Window([]model.WeatherSample{sample(1, 20, 200, 0)})
	if !errors.Is(err, ErrInsufficientData) {
		t.Fatalf("want ErrInsufficientData, got %v", err)
	}
}

func TestWindowPropagatesInvalidSample(t *testing.T) {
	calc := NewCalculator()
	calc.MinSamples = 2

	_, _, err := calc.Window([]model.WeatherSample{
		sample(1, 20, 200, 0),
		sample(2, 20, -1, 0),
	})
	var inv *InvalidSampleError
	if !errors.As(err, &inv) {
		t.Fatalf("want InvalidSampleError, got %v", err)
	}
}

func TestRainfall(t *testing.T) {
	got := Rainfall([]model.WeatherSample{
		sample(1, 20, 200, 1.5),
		sample(2, 20, 200, 0),
		sample(3, 20, 200, 2.5),
	})
	if got != 4.0 {
		t.Errorf("Rainfall = %.2f, want 4.00", got)
	}
}
