package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"goji.io"
	"goji.io/pat"
	yml "gopkg.in/yaml.v2"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"

	"github.com/y3i12/master-of-muppets-sub001/config"
	"github.com/y3i12/master-of-muppets-sub001/dac"
	"github.com/y3i12/master-of-muppets-sub001/dac/max5825"
	"github.com/y3i12/master-of-muppets-sub001/dac/mcp4728"
	"github.com/y3i12/master-of-muppets-sub001/engine"
	"github.com/y3i12/master-of-muppets-sub001/i2cdma"
	"github.com/y3i12/master-of-muppets-sub001/perf"
	"github.com/y3i12/master-of-muppets-sub001/recovery"
	"github.com/y3i12/master-of-muppets-sub001/sched"
)

var (
	// Version is the version number.  Typically injected via ldflags with git build
	Version = "1"

	// ConfigFileName is what it sounds like
	ConfigFileName = "muppetd.yml"
)

func root() {
	str := `muppetd drives multi-channel I2C DACs from a shared channel buffer and
exposes a diagnostics HTTP interface.  Values written to /channel/:chan land
on the chips through a cooperative scheduler with DMA-style async transfers.

Usage:
	muppetd <command>

Commands:
	run
	bench
	help
	mkconf
	conf
	version`
	fmt.Println(str)
}

func help() {
	str := `muppetd is amenable to configuration via its .yaml file.  For a primer on YAML, see
https://yaml.org/start.html

Without a configuration, the engine runs two MAX5825 chips on the platform
default I2C bus with DMA enabled.

Supported chips and matching "driver" fields:
- Microchip:
	> MCP4728, 4 channels, LDAC strobe pin "mcp4728"
- Maxim:
	> MAX5825, 8 channels, A0 address-select pin "max5825"

Units are listed in unit-index order; global channel numbering follows that
order.  Logical values are 16-bit (0-65535) regardless of chip resolution.

HTTP surface when running:
	POST /channel/:chan      {"value": 32768}
	GET  /health             200 while healthy, 503 otherwise
	GET  /recovery/stats
	GET  /perf/metrics
	GET  /perf/latencies
	GET  /perf/constraints
	GET  /perf/alerts
	POST /perf/benchmark/:unit?n=500
	GET  /metrics            prometheus`
	fmt.Println(str)
}

func mkconf() {
	c := config.Default()
	f, err := os.Create(ConfigFileName)
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()
	err = yml.NewEncoder(f).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func printconf() {
	c, err := config.Load(ConfigFileName)
	if err != nil {
		log.Fatal(err)
	}
	err = yml.NewEncoder(os.Stdout).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func pversion() {
	fmt.Printf("muppetd version %v\n", Version)
}

// buildUnits opens the buses and pins named in the configuration and
// constructs one driver per unit.
func buildUnits(cfg config.Config) ([]engine.Unit, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("host init: %w", err)
	}
	units := make([]engine.Unit, 0, len(cfg.Units))
	for i, u := range cfg.Units {
		bus, err := i2creg.Open(u.Bus)
		if err != nil {
			return nil, fmt.Errorf("unit %d: bus %q: %w", i, u.Bus, err)
		}
		desc := dac.Descriptor{Bus: bus, Addr: u.Addr}
		if u.Pin != "" {
			pin := gpioreg.ByName(u.Pin)
			if pin == nil {
				return nil, fmt.Errorf("unit %d: no pin named %q", i, u.Pin)
			}
			desc.Pin = pin
		}
		var drv dac.Driver
		switch u.Driver {
		case "mcp4728":
			drv = mcp4728.New()
		case "max5825":
			drv = max5825.New()
		default:
			return nil, fmt.Errorf("unit %d: unknown driver %q", i, u.Driver)
		}
		eu := engine.Unit{Driver: drv, Desc: desc}
		if cfg.DMA {
			dev := i2c.Dev{Bus: bus, Addr: u.Addr}
			eu.DMA = i2cdma.New(&dev, cfg.MaxLatency)
		}
		units = append(units, eu)
	}
	return units, nil
}

type valuePayload struct {
	Value uint16 `json:"value"`
}

// setChannel is the HTTP producer entry point
func setChannel(s *engine.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ch, err := strconv.Atoi(pat.Param(r, "chan"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		var p valuePayload
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := s.SetChannel(ch, p.Value); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

func benchHandler(e *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		unit, err := strconv.Atoi(pat.Param(r, "unit"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		n := 500
		if s := r.URL.Query().Get("n"); s != "" {
			n, err = strconv.Atoi(s)
			if err != nil || n < 1 || n > 10000 {
				http.Error(w, "n must be in [1, 10000]", http.StatusBadRequest)
				return
			}
		}
		res, err := e.Bench(unit, n)
		if err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if err := json.NewEncoder(w).Encode(res); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	}
}

func buildMux(e *engine.Engine, rec *recovery.Manager, mon *perf.Monitor, watch *perf.Watch, c perf.Constraints) *goji.Mux {
	mux := goji.NewMux()
	mux.HandleFunc(pat.Post("/channel/:chan"), setChannel(e.Store()))
	mux.HandleFunc(pat.Get("/health"), rec.HTTPHealth)
	mux.HandleFunc(pat.Get("/recovery/stats"), rec.HTTPStats)
	mux.HandleFunc(pat.Get("/perf/metrics"), mon.HTTPMetrics)
	mux.HandleFunc(pat.Get("/perf/latencies"), mon.HTTPLatencies)
	mux.HandleFunc(pat.Get("/perf/constraints"), mon.HTTPConstraints(c))
	mux.HandleFunc(pat.Get("/perf/alerts"), watch.HTTPAlerts)
	mux.HandleFunc(pat.Post("/perf/benchmark/:unit"), benchHandler(e))
	mux.Handle(pat.Get("/metrics"), promhttp.Handler())
	return mux
}

func registerGauges(rec *recovery.Manager, mon *perf.Monitor) {
	if err := prometheus.Register(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Subsystem: "muppetd",
			Name:      "error_rate_pct",
			Help:      "Overall hardware error rate in percent.",
		},
		rec.ErrorRate,
	)); err == nil {
		fmt.Println("GaugeFunc 'error_rate_pct' registered.")
	}

	if err := prometheus.Register(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Subsystem: "muppetd",
			Name:      "ops_per_sec",
			Help:      "Hardware write throughput over the rolling sample window.",
		},
		func() float64 { return mon.Metrics().OpsPerSec },
	)); err == nil {
		fmt.Println("GaugeFunc 'ops_per_sec' registered.")
	}

	if err := prometheus.Register(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Subsystem: "muppetd",
			Name:      "dma_time_saved_seconds",
			Help:      "Cumulative scheduler time freed by the async write path.",
		},
		func() float64 { return mon.Metrics().TimeSaved.Seconds() },
	)); err == nil {
		fmt.Println("GaugeFunc 'dma_time_saved_seconds' registered.")
	}
}

func run() {
	cfg, err := config.Load(ConfigFileName)
	if err != nil {
		log.Fatal(err)
	}
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	units, err := buildUnits(cfg)
	if err != nil {
		log.Fatal(err)
	}
	rec := recovery.New(recovery.Config{
		FallbackAfter:   cfg.FallbackAfter,
		LiftAfter:       cfg.LiftAfter,
		MaxErrorRatePct: cfg.MaxErrorRatePct,
		Events:          64,
	}, len(units))
	mon := perf.NewMonitor(cfg.TimeSlice, 256)
	sch := sched.New(nil)
	e, err := engine.New(units, rec, mon, logger, engine.Options{
		RefreshInterval: cfg.RefreshInterval,
		StuckAfter:      cfg.StuckAfter,
	}, sch)
	if err != nil {
		log.Fatal(err)
	}
	defer e.Close()

	constraints := perf.Constraints{
		MaxLatency:    cfg.MaxLatency,
		MinThroughput: cfg.MinThroughput,
		MaxErrorPPM:   cfg.MaxErrorPPM,
	}
	watch := perf.NewWatch(mon, constraints, rec.Healthy, cfg.MonitorInterval, logger, 32)
	sch.Add(watch)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go sch.Run(ctx)
	go func() {
		select {
		case <-ctx.Done():
		case <-e.RestartRequested():
			logger.Error("recovery escalated to restart, shutting down")
			cancel()
		}
	}()

	mux := buildMux(e, rec, mon, watch, constraints)
	registerGauges(rec, mon)
	srv := &http.Server{Addr: cfg.Addr, Handler: mux}
	go func() {
		<-ctx.Done()
		sctx, c := context.WithTimeout(context.Background(), 5*time.Second)
		defer c()
		srv.Shutdown(sctx)
	}()
	logger.Info("now listening for requests", zap.String("addr", cfg.Addr))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal(err)
	}
	logger.Info("shut down")
}

func bench() {
	cfg, err := config.Load(ConfigFileName)
	if err != nil {
		log.Fatal(err)
	}
	if !cfg.DMA {
		log.Fatal("bench needs dma: true in the configuration")
	}
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	units, err := buildUnits(cfg)
	if err != nil {
		log.Fatal(err)
	}
	rec := recovery.New(recovery.Config{
		FallbackAfter:   cfg.FallbackAfter,
		LiftAfter:       cfg.LiftAfter,
		MaxErrorRatePct: cfg.MaxErrorRatePct,
	}, len(units))
	e, err := engine.New(units, rec, nil, logger, engine.Options{
		RefreshInterval: cfg.RefreshInterval,
		StuckAfter:      cfg.StuckAfter,
	}, nil)
	if err != nil {
		log.Fatal(err)
	}
	defer e.Close()

	for unit := range cfg.Units {
		res, err := e.Bench(unit, 1000)
		if err != nil {
			log.Fatal(err)
		}
		fmt.Printf("unit %d:\n%s", unit, res.Summary())
	}
}

func main() {
	var cmd string
	args := os.Args
	if len(args) == 1 {
		root()
		return
	}
	cmd = args[1]
	cmd = strings.ToLower(cmd)
	switch cmd {
	case "help":
		help()
		return
	case "mkconf":
		mkconf()
		return
	case "conf":
		printconf()
		return
	case "run":
		run()
		return
	case "bench":
		bench()
		return
	case "version":
		pversion()
		return
	default:
		log.Fatal("unknown command")
	}
}
