package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"math/cmplx"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/edp1096/toy-powerflow/internal/config"
	"github.com/edp1096/toy-powerflow/internal/logging"
	"github.com/edp1096/toy-powerflow/internal/observability"
	"github.com/edp1096/toy-powerflow/pkg/cases"
	"github.com/edp1096/toy-powerflow/pkg/network"
	"github.com/edp1096/toy-powerflow/pkg/powerflow"
	"github.com/edp1096/toy-powerflow/pkg/util"
)

func printBuses(snap *network.Snapshot, res *powerflow.Result) {
	fmt.Println("\nBuses:")
	fmt.Println("  #  Name          Type    |V| (pu)  Angle (deg)   Injection")
	fmt.Println("-----------------------------------------------------------------------------")
	sbase := snap.GetBaseMVA()
	for i, bus := range snap.Buses {
		typ := res.BusTypes[i].String()
		if !res.Solved[i] {
			typ = "dead"
		}
		fmt.Printf("%3d  %-12s  %-6s %s  %s  %s\n",
			i, bus.Name, typ,
			util.FormatPU(cmplx.Abs(res.Voltage[i])),
			util.FormatAngle(cmplx.Phase(res.Voltage[i])),
			util.FormatPower(res.Scalc[i], sbase))
	}
}

func printBranches(snap *network.Snapshot, res *powerflow.Result) {
	fmt.Println("\nBranches:")
	fmt.Println("  #  Name          From  To   Sf                           Losses                     Loading  Tap")
	fmt.Println("--------------------------------------------------------------------------------------------------------")
	sbase := snap.GetBaseMVA()
	for k, br := range snap.Branches {
		fmt.Printf("%3d  %-12s  %4d  %-3d  %s  %s  %s  %+d\n",
			k, br.Name, br.From, br.To,
			util.FormatPower(res.Sf[k], sbase),
			util.FormatPower(res.Losses[k], sbase),
			util.FormatPercent(res.Loading[k]),
			res.TapPositions[k])
	}
}

func printReport(res *powerflow.Result) {
	fmt.Println("\nConvergence report:")
	for _, isl := range res.Islands {
		switch {
		case isl.Dead:
			fmt.Printf("island %d: dead (%d buses)\n", isl.Index, len(isl.Buses))
			continue
		case isl.Err != nil:
			fmt.Printf("island %d: %v\n", isl.Index, isl.Err)
			continue
		}
		fmt.Printf("island %d: %s converged=%v error=%.3e iterations=%d rounds=%d\n",
			isl.Index, isl.Kind, isl.Converged, isl.Error, isl.Iterations, isl.Rounds)
		for _, e := range isl.Report {
			fmt.Printf("  %-20s converged=%-5v error=%.3e iterations=%d elapsed=%s\n",
				e.Kind, e.Converged, e.Error, e.Iterations, e.Elapsed)
		}
		for _, e := range isl.Events {
			fmt.Printf("  event: %s\n", e)
		}
		for _, w := range isl.Warnings {
			fmt.Printf("  warning: %v\n", w)
		}
	}
}

func main() {
	caseName := flag.String("case", "fivebus", "built-in case: "+strings.Join(cases.Names(), ", "))
	configPath := flag.String("config", "", "YAML options file")
	solverName := flag.String("solver", "", "solver kind (overrides config)")
	metricsAddr := flag.String("metrics-addr", "", "serve Prometheus metrics on this address and keep running")
	trace := flag.Bool("trace", false, "print OpenTelemetry spans to stdout")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Error loading config: %v", err)
	}
	if *solverName != "" {
		cfg.Solver = *solverName
	}
	if *metricsAddr != "" {
		cfg.MetricsAddr = *metricsAddr
	}
	cfg.Trace = cfg.Trace || *trace

	opts, err := cfg.Options()
	if err != nil {
		log.Fatalf("Error in options: %v", err)
	}

	logger := logging.New(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	opts.Logger = logger

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	shutdown, err := observability.InitTracing(ctx, observability.TracingConfig{Enabled: cfg.Trace}, logger)
	if err != nil {
		log.Fatalf("Error initialising tracing: %v", err)
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdown, logger)

	reg := prometheus.NewRegistry()
	collector, err := observability.NewCollector(reg)
	if err != nil {
		log.Fatalf("Error registering metrics: %v", err)
	}
	opts.Metrics = collector

	snap, err := cases.Get(*caseName)
	if err != nil {
		log.Fatal(err)
	}

	fmt.Printf("Case %s: %d buses, %d branches, %d generators, solver %s\n",
		snap.Name, snap.NumBuses(), snap.NumBranches(), len(snap.Generators), opts.Solver)

	res, err := powerflow.Run(ctx, snap, opts)
	if err != nil {
		log.Fatalf("Power flow failed: %v", err)
	}

	printBuses(snap, res)
	printBranches(snap, res)
	printReport(res)
	for _, w := range res.Warnings() {
		logger.Warn(ctx, "control loop did not settle", logging.Err(w))
	}
	fmt.Printf("\nconverged=%v error=%.3e iterations=%d elapsed=%s run=%s\n",
		res.Converged, res.Error, res.Iterations, res.Elapsed.Round(time.Microsecond), res.RunID)

	if cfg.MetricsAddr == "" {
		return
	}

	srv := &http.Server{Addr: cfg.MetricsAddr, Handler: metricsMux(collector)}
	go func() {
		<-ctx.Done()
		err := srv.Shutdown(context.Background())
		if err != nil {
			logger.Warn(ctx, "metrics server shutdown", logging.Err(err))
		}
	}()
	logger.Info(ctx, "serving metrics", logging.String("addr", cfg.MetricsAddr))
	err = srv.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("Metrics server failed: %v", err)
	}
}

func metricsMux(c *observability.Collector) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	return mux
}
