package irrigator

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/LeonardoBeccarini/irrigate/internal/model"
)

// Metrics exposes run counters on /metrics for the duration of a run.
// A nil *Metrics is valid and does nothing.
type Metrics struct {
	registry  *prometheus.Registry
	liters    *prometheus.CounterVec
	outcomes  *prometheus.CounterVec
	valveOpen *prometheus.GaugeVec
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		liters: f.NewCounterVec(prometheus.CounterOpts{
			Name: "irrigate_liters_delivered_total",
			Help: "Water delivered per zone, in liters.",
		}, []string{"zone"}),
		outcomes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "irrigate_zone_outcomes_total",
			Help: "Zone sessions by outcome.",
		}, []string{"outcome"}),
		valveOpen: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "irrigate_valve_open",
			Help: "1 while the zone valve is open.",
		}, []string{"zone"}),
	}
}

func (m *Metrics) AddLiters(zone string, liters float64) {
	if m == nil || liters <= 0 {
		return
	}
	m.liters.WithLabelValues(zone).Add(liters)
}

func (m *Metrics) SetValveOpen(zone string, open bool) {
	if m == nil {
		return
	}
	v := 0.0
	if open {
		v = 1.0
	}
	m.valveOpen.WithLabelValues(zone).Set(v)
}

func (m *Metrics) ObserveOutcome(ev model.WateringEvent) {
	if m == nil {
		return
	}
	m.outcomes.WithLabelValues(string(ev.Outcome)).Inc()
}

// Pinger is what /healthz needs from the history store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// StartOpsServer serves /metrics and /healthz while the run lasts and
// shuts down when ctx is cancelled. mqttClient may be nil.
func StartOpsServer(ctx context.Context, addr string, m *Metrics, store Pinger, mqttClient mqtt.Client) {
	mux := http.NewServeMux()
	if m != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	}
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		type status struct {
			Status        string `json:"status"`
			StoreOK       bool   `json:"store_ok"`
			MQTTConnected bool   `json:"mqtt_connected"`
		}
		pctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		st := status{
			StoreOK:       store != nil && store.Ping(pctx) == nil,
			MQTTConnected: mqttClient != nil && mqttClient.IsConnectionOpen(),
		}
		if st.StoreOK {
			st.Status = "ok"
		} else {
			st.Status = "degraded"
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(st)
	})

	hs := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := hs.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("ops: http server: %v", err)
		}
	}()
	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = hs.Shutdown(sctx)
	}()
}
