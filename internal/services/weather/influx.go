// Package weather reads daily weather aggregates from the InfluxDB bucket
// the station writes into.
package weather

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/sony/gobreaker"

	"github.com/LeonardoBeccarini/irrigate/internal/model"
)

// ErrUnavailable is returned on connectivity loss. The engine treats it as
// fatal to the whole run: no valve ever opens without a valid target.
var ErrUnavailable = errors.New("weather: data source unavailable")

type Config struct {
	InfluxURL    string
	InfluxToken  string
	InfluxOrg    string
	InfluxBucket string
	Measurement  string // defaults to "weather"
}

// Source queries the station archive. Queries run behind a circuit breaker
// so a flapping store fails fast instead of hanging the run.
type Source struct {
	client      influxdb2.Client
	query       api.QueryAPI
	bucket      string
	measurement string
	cb          *gobreaker.CircuitBreaker
}

func NewSource(cfg Config) (*Source, error) {
	if cfg.InfluxURL == "" || cfg.InfluxToken == "" || cfg.InfluxOrg == "" || cfg.InfluxBucket == "" {
		return nil, fmt.Errorf("weather: influx config incomplete")
	}
	if cfg.Measurement == "" {
		cfg.Measurement = "weather"
	}

	client := influxdb2.NewClient(cfg.InfluxURL, cfg.InfluxToken)
	return &Source{
		client:      client,
		query:       client.QueryAPI(cfg.InfluxOrg),
		bucket:      cfg.InfluxBucket,
		measurement: cfg.Measurement,
		cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "weather-influx",
			Timeout: 15 * time.Second,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= 3
			},
		}),
	}, nil
}

func (s *Source) Close() {
	s.client.Close()
}

// Samples returns one WeatherSample per day in [from, to), ordered by date
// ascending. Days with missing temperature or radiation are dropped, the
// way the station archive leaves holes when it loses its sensors.
func (s *Source) Samples(ctx context.Context, from, to time.Time) ([]model.WeatherSample, error) {
	res, err := s.cb.Execute(func() (any, error) {
		return s.fetch(ctx, from, to)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return res.([]model.WeatherSample), nil
}

type daily struct {
	temp, radiation, rain float64
	hasTemp, hasRadiation bool
}

func (s *Source) fetch(ctx context.Context, from, to time.Time) ([]model.WeatherSample, error) {
	days := make(map[time.Time]*daily)

	// Temperature and radiation want the daily mean, rain the daily sum.
	meanFlux := fmt.Sprintf(`from(bucket: %q)
  |> range(start: %s, stop: %s)
  |> filter(fn: (r) => r._measurement == %q and (r._field == "temperature" or r._field == "radiation"))
  |> aggregateWindow(every: 1d, fn: mean, createEmpty: false)`,
		s.bucket, from.UTC().Format(time.RFC3339), to.UTC().Format(time.RFC3339), s.measurement)
	if err := s.collect(ctx, meanFlux, days); err != nil {
		return nil, err
	}

	sumFlux := fmt.Sprintf(`from(bucket: %q)
  |> range(start: %s, stop: %s)
  |> filter(fn: (r) => r._measurement == %q and r._field == "rain")
  |> aggregateWindow(every: 1d, fn: sum, createEmpty: false)`,
		s.bucket, from.UTC().Format(time.RFC3339), to.UTC().Format(time.RFC3339), s.measurement)
	if err := s.collect(ctx, sumFlux, days); err != nil {
		return nil, err
	}

	out := make([]model.WeatherSample, 0, len(days))
	for day, d := range days {
		if !d.hasTemp || !d.hasRadiation {
			log.Printf("weather: dropping %s, incomplete day", day.Format("2006-01-02"))
			continue
		}
		out = append(out, model.WeatherSample{
			Date:              day,
			MeanTempC:         d.temp,
			SolarRadiationWm2: d.radiation,
			RainfallMM:        d.rain,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

func (s *Source) collect(ctx context.Context, flux string, days map[time.Time]*daily) error {
	result, err := s.query.Query(ctx, flux)
	if err != nil {
		return err
	}
	for result.Next() {
		rec := result.Record()
		v, ok := rec.Value().(float64)
		if !ok {
			continue
		}
		// aggregateWindow stamps the window stop; shift back into the day.
		day := rec.Time().Add(-time.Nanosecond).UTC().Truncate(24 * time.Hour)
		d := days[day]
		if d == nil {
			d = &daily{}
			days[day] = d
		}
		switch rec.Field() {
		case "temperature":
			d.temp = v
			d.hasTemp = true
		case "radiation":
			d.radiation = v
			d.hasRadiation = true
		case "rain":
			d.rain = v
		}
	}
	return result.Err()
}
