package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/san-kum/tidesim/internal/config"
	"github.com/san-kum/tidesim/internal/driver"
	"github.com/san-kum/tidesim/internal/experiment"
	"github.com/san-kum/tidesim/internal/logging"
	"github.com/san-kum/tidesim/internal/storage"
	"github.com/san-kum/tidesim/internal/viz"
)

// loadConfig layers preset, config file and flags, in that order.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if preset != "" {
		if cfg = config.GetPreset(preset); cfg == nil {
			return nil, fmt.Errorf("unknown preset: %s (available: %v)", preset, config.ListPresets())
		}
	}
	if configFile != "" {
		if err := config.LoadInto(configFile, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
	}

	flags := cmd.Flags()
	if flags.Changed("id") {
		cfg.Run.ID = runID
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = logLevel
	}
	if flags.Changed("dt") {
		cfg.Time.Dt = dt
	}
	if flags.Changed("end") {
		cfg.Time.End = endTime
	}
	if flags.Changed("export") {
		cfg.Time.Export = exportEvery
	}
	if flags.Changed("restart-dir") {
		cfg.Restart = config.RestartConfig{Dir: restartDir, Step: restartStep}
	}
	if flags.Changed("data") || cfg.Run.Data == "" {
		cfg.Run.Data = dataDir
	}
	return cfg, cfg.Validate()
}

func serveMetrics(addr string, reg *prometheus.Registry, log zerolog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Str("addr", addr).Msg("metrics server")
		}
	}()
	log.Info().Str("addr", addr).Msg("serving metrics")
	return srv
}

func runSimulation(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	log, err := logging.Setup(cfg.Log.Level)
	if err != nil {
		return err
	}
	if live {
		log = log.Level(zerolog.WarnLevel)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	if metricsAddr != "" {
		srv := serveMetrics(metricsAddr, reg, log)
		defer srv.Shutdown(context.Background())
	}

	var (
		prog *tea.Program
		exp  *experiment.Experiment
	)
	opts := experiment.Options{Log: log, Registerer: reg, Preset: preset}
	if live {
		opts.Progress = func(p driver.Progress) {
			prog.Send(viz.ProgressMsg{
				Step:      p.Step,
				Total:     p.Total,
				Time:      p.Time,
				End:       p.End,
				Elevation: exp.LatestElevation(),
			})
		}
	}

	exp, err = experiment.New(cfg, storage.New(cfg.Run.Data), opts)
	if err != nil {
		return err
	}

	started := time.Now()
	var res *driver.Result
	if live {
		lo, hi := exp.Mesh.Bounds()
		domain := viz.DomainMap(40, 12, lo, hi, exp.BoundaryEdges(), exp.DetectorLocations())
		prog = tea.NewProgram(viz.NewModel(exp.RunID, cancel, domain))

		done := make(chan struct{})
		go func() {
			defer close(done)
			res, err = exp.Run(ctx)
			prog.Send(viz.DoneMsg{Err: err})
		}()
		if _, uiErr := prog.Run(); uiErr != nil {
			cancel()
			log.Error().Err(uiErr).Msg("live view")
		}
		<-done
	} else {
		log.Info().Str("run", exp.RunID).Str("dir", exp.RunDir).Msg("running")
		res, err = exp.Run(ctx)
	}

	summary := viz.Summary{
		RunID:   exp.RunID,
		Phase:   exp.Driver.Phase().String(),
		Elapsed: time.Since(started),
		RunDir:  exp.RunDir,
		Err:     err,
	}
	if res != nil {
		summary.Steps = res.Steps
		summary.FinalTime = res.FinalTime
		summary.Exports = len(res.Exports)
		summary.Monitors = res.Monitors
	}
	fmt.Println(summary.Render())
	return err
}
