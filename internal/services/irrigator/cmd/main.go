package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/LeonardoBeccarini/irrigate/internal/model"
	"github.com/LeonardoBeccarini/irrigate/internal/services/evaporation"
	"github.com/LeonardoBeccarini/irrigate/internal/services/history"
	"github.com/LeonardoBeccarini/irrigate/internal/services/irrigator"
	"github.com/LeonardoBeccarini/irrigate/internal/services/waterbalance"
	"github.com/LeonardoBeccarini/irrigate/internal/services/weather"
	"github.com/LeonardoBeccarini/irrigate/pkg/gpio"
	"github.com/LeonardoBeccarini/irrigate/pkg/rabbitmq"
)

// Exit codes: 0 run completed, 1 fatal setup failure (no actuation),
// 2 at least one zone aborted or timed out.
const (
	exitOK    = 0
	exitFatal = 1
	exitZones = 2
)

const defaultLookbackDays = 21

func env(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func main() {
	os.Exit(run())
}

func run() int {
	logLevel := flag.String("log", "none", "logging level: none, error, warning, info, debug")
	logFile := flag.String("logfile", "stdout", "log output: stdout or a file path")
	days := flag.Int("days", defaultLookbackDays, "how many days of weather to look back (exclusive with -amount)")
	amount := flag.Float64("amount", 0, "fixed mm to irrigate, bypassing the weather calculation")
	zonesFlag := flag.String("zones", "", "comma-separated zone filter, default all")
	info := flag.Bool("info", false, "only show what would be done, no actuation")
	emulate := flag.Bool("emulate", false, "use the simulated board instead of real GPIO")
	concurrent := flag.Bool("concurrent", false, "water zones on distinct sources in parallel")
	flag.Parse()

	daysSet := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "days" {
			daysSet = true
		}
	})
	if err := checkFlagExclusion(daysSet, *amount); err != nil {
		fmt.Fprintln(os.Stderr, err)
		flag.Usage()
		return exitFatal
	}

	if err := setupLogging(*logLevel, *logFile); err != nil {
		fmt.Fprintf(os.Stderr, "logging setup: %v\n", err)
		return exitFatal
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	layout, err := irrigator.LoadLayout(env("LAYOUT_PATH", "/etc/irrigate/layout.json"))
	if err != nil {
		log.Printf("main: layout: %v", err)
		return exitFatal
	}
	zones := layout.FilterZones(splitList(*zonesFlag))
	if len(zones) == 0 {
		log.Printf("main: no zones match filter %q", *zonesFlag)
		return exitFatal
	}

	store, err := history.Open(env("HISTORY_DB_PATH", "irrigation.db"))
	if err != nil {
		log.Printf("main: history store: %v", err)
		return exitFatal
	}
	defer store.Close()

	plan, code := buildPlan(ctx, zones, store, *days, *amount)
	if code != exitOK {
		return code
	}
	for _, p := range plan {
		eta := ""
		if rate := p.Zone.MMPerMinute(); rate > 0 {
			eta = fmt.Sprintf(", ~%.0f min at nominal flow", p.DeficitMM/rate)
		}
		log.Printf("main: zone %s needs %.1f mm (%.0f liters on %.0f m2%s)",
			p.Zone.ID, p.DeficitMM, p.TargetLiters, p.Zone.AreaM2, eta)
	}
	if *info {
		for _, p := range plan {
			fmt.Printf("Would irrigate zone %s with %.0f liters on the %.0f m2 area\n",
				p.Zone.ID, p.TargetLiters, p.Zone.AreaM2)
		}
		return exitOK
	}
	if len(plan) == 0 {
		fmt.Println("No irrigation needed")
		return exitOK
	}

	board, err := openBoard(*emulate, layout)
	if err != nil {
		log.Printf("main: board: %v", err)
		return exitFatal
	}
	defer board.Close()

	valves := irrigator.NewValveController(board, layout.Zones, layout.Sources)
	sched := irrigator.NewScheduler(irrigator.Config{
		PollInterval:   2 * time.Second,
		SourceWait:     time.Duration(envInt("SOURCE_WAIT_S", 300)) * time.Second,
		DurationMargin: 5 * time.Minute,
		Concurrent:     *concurrent,
	}, board, valves, store)

	metrics := irrigator.NewMetrics()
	sched.SetMetrics(metrics)

	// Result events over MQTT when a broker is configured.
	if host := env("RABBITMQ_HOST", ""); host != "" {
		cfg := &rabbitmq.Config{
			Host:     host,
			Port:     envInt("RABBITMQ_PORT", 1883),
			User:     env("RABBITMQ_USER", "guest"),
			Password: env("RABBITMQ_PASSWORD", "guest"),
			ClientID: fmt.Sprintf("Irrigator-%s", env("HOSTNAME", "local")),
		}
		if client, err := rabbitmq.Connect(ctx, cfg); err != nil {
			log.Printf("main: mqtt unavailable, continuing without notifications: %v", err)
		} else {
			sched.SetNotifier(irrigator.NewMQTTNotifier(rabbitmq.NewPublisher(client), env("RESULT_TOPIC", "")))
			irrigator.StartOpsServer(ctx, env("OPS_ADDR", ":8080"), metrics, store, client)
		}
	} else {
		irrigator.StartOpsServer(ctx, env("OPS_ADDR", ":8080"), metrics, store, nil)
	}

	results := sched.Run(ctx, plan)

	fmt.Printf("Ended irrigation having watered %.0f liters\n", irrigator.TotalLiters(results))
	if irrigator.AnyFailed(results) {
		return exitZones
	}
	return exitOK
}

// buildPlan turns weather history plus watering history into per-zone
// targets. A second return value other than exitOK aborts the run before
// any valve opens.
func buildPlan(ctx context.Context, zones []model.Zone, store *history.Store, days int, amount float64) ([]irrigator.ZonePlan, int) {
	var plan []irrigator.ZonePlan

	if amount > 0 {
		for _, z := range zones {
			r := waterbalance.Fixed(z, amount)
			plan = append(plan, irrigator.ZonePlan{Zone: z, DeficitMM: r.DeficitMM, TargetLiters: r.TargetLiters})
		}
		return plan, exitOK
	}

	src, err := weather.NewSource(weather.Config{
		InfluxURL:    env("INFLUX_URL", "http://localhost:8086"),
		InfluxToken:  os.Getenv("INFLUX_TOKEN"),
		InfluxOrg:    env("INFLUX_ORG", "home"),
		InfluxBucket: env("INFLUX_BUCKET", "weewx"),
		Measurement:  env("WEATHER_MEASUREMENT", "weather"),
	})
	if err != nil {
		log.Printf("main: weather source: %v", err)
		return nil, exitFatal
	}
	defer src.Close()

	to := time.Now().UTC()
	from := to.AddDate(0, 0, -days)
	samples, err := src.Samples(ctx, from, to)
	if err != nil {
		// Never open a valve without a valid target.
		log.Printf("main: weather history: %v", err)
		return nil, exitFatal
	}

	calc := evaporation.NewCalculator()
	_, et0Total, err := calc.Window(samples)
	if err != nil {
		log.Printf("main: evapotranspiration: %v", err)
		return nil, exitFatal
	}
	rainTotal := evaporation.Rainfall(samples)
	log.Printf("main: evaporation %.1f mm, rainfall %.1f mm in last %d days", et0Total, rainTotal, days)

	if rainTotal >= et0Total {
		fmt.Printf("No irrigation needed (%.1f mm more rainfall than evaporation)\n", rainTotal-et0Total)
		return nil, exitOK
	}

	for _, z := range zones {
		watered, err := store.SumWateredMM(ctx, z.ID, from, to)
		if err != nil {
			// Zone-scoped: skip this zone, keep the run going.
			log.Printf("main: watering history for zone %s: %v (zone skipped)", z.ID, err)
			continue
		}
		r := waterbalance.Compute(waterbalance.Config{}, z, et0Total, rainTotal, watered)
		if r.Skipped {
			log.Printf("main: zone %s deficit %.1f mm below threshold, skipped", z.ID, r.DeficitMM)
			continue
		}
		plan = append(plan, irrigator.ZonePlan{Zone: z, DeficitMM: r.DeficitMM, TargetLiters: r.TargetLiters})
	}
	return plan, exitOK
}

func openBoard(emulate bool, layout *irrigator.Layout) (gpio.Board, error) {
	if emulate {
		sim := gpio.NewSim()
		// Emulated flow: every zone delivers at nominal capacity while
		// its valve is open.
		for _, z := range layout.Zones {
			pulsesPerLiter := z.PulsesPerLiter
			if pulsesPerLiter <= 0 {
				pulsesPerLiter = 450
			}
			sim.LinkFlow(z.FlowChannel, z.ValveChannel, z.FlowCapacityLpm/60*pulsesPerLiter)
		}
		return sim, nil
	}

	var relays, flows []int
	for _, s := range layout.Sources {
		relays = append(relays, s.RelayChannel)
	}
	for _, z := range layout.Zones {
		relays = append(relays, z.ValveChannel)
		flows = append(flows, z.FlowChannel)
	}
	return gpio.OpenPi(relays, flows)
}

func setupLogging(level, file string) error {
	if file != "" && file != "stdout" {
		f, err := os.OpenFile(file, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return err
		}
		log.SetOutput(f)
	}
	switch level {
	case "none":
		log.SetOutput(io.Discard)
	case "debug":
		log.SetFlags(log.LstdFlags | log.Lshortfile)
	case "error", "warning", "info":
		// stdlib log has no levels; anything above none logs everything
	default:
		return fmt.Errorf("unknown log level %q", level)
	}
	return nil
}

// checkFlagExclusion rejects -days together with -amount: a fixed amount
// bypasses the weather calculation, so a lookback window makes no sense.
func checkFlagExclusion(daysSet bool, amountMM float64) error {
	if daysSet && amountMM > 0 {
		return fmt.Errorf("-days and -amount are mutually exclusive")
	}
	return nil
}

func splitList(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
