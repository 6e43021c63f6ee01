package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/guptarohit/asciigraph"
	"github.com/spf13/cobra"

	"github.com/san-kum/tidesim/internal/config"
	"github.com/san-kum/tidesim/internal/detector"
	"github.com/san-kum/tidesim/internal/experiment"
	"github.com/san-kum/tidesim/internal/storage"
)

var (
	dataDir     string
	configFile  string
	preset      string
	runID       string
	logLevel    string
	live        bool
	metricsAddr string
	restartDir  string
	restartStep int
	dt          float64
	endTime     float64
	exportEvery float64

	plotField     string
	plotComponent int
	plotSQLite    bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "tidesim",
		Short:         "tidal shallow-water and suspended-sediment run driver",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&dataDir, "data", "runs", "data directory")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "run a simulation",
		Args:  cobra.NoArgs,
		RunE:  runSimulation,
	}
	runCmd.Flags().StringVar(&configFile, "config", "", "config file path (yaml)")
	runCmd.Flags().StringVar(&preset, "preset", "", "start from a preset configuration")
	runCmd.Flags().StringVar(&runID, "id", "", "run id (generated when empty)")
	runCmd.Flags().StringVar(&logLevel, "log-level", "", "log level (overrides config)")
	runCmd.Flags().BoolVar(&live, "live", false, "show live progress")
	runCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address during the run")
	runCmd.Flags().StringVar(&restartDir, "restart-dir", "", "run directory to restart from")
	runCmd.Flags().IntVar(&restartStep, "restart-step", 0, "checkpoint step to restart from")
	runCmd.Flags().Float64Var(&dt, "dt", 0, "timestep in seconds (overrides config)")
	runCmd.Flags().Float64Var(&endTime, "end", 0, "end time in seconds (overrides config)")
	runCmd.Flags().Float64Var(&exportEvery, "export", 0, "export interval in seconds (overrides config)")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "list runs",
		RunE:  listRuns,
	}

	showCmd := &cobra.Command{
		Use:   "show [run_id]",
		Short: "print run metadata as JSON",
		Args:  cobra.ExactArgs(1),
		RunE:  showRun,
	}

	plotCmd := &cobra.Command{
		Use:   "plot [run_id] [detector...]",
		Short: "plot detector time series",
		Args:  cobra.MinimumNArgs(1),
		RunE:  plotRun,
	}
	plotCmd.Flags().StringVar(&plotField, "field", "elev_2d", "field to plot")
	plotCmd.Flags().IntVar(&plotComponent, "component", 0, "vector component")
	plotCmd.Flags().BoolVar(&plotSQLite, "sqlite", false, "read from the run's SQLite database instead of CSV")

	presetsCmd := &cobra.Command{
		Use:   "presets",
		Short: "list available presets",
		RunE: func(cmd *cobra.Command, args []string) error {
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tDT\tEXPORT\tEND\tSEDIMENT")
			for _, name := range config.ListPresets() {
				cfg := config.GetPreset(name)
				fmt.Fprintf(w, "%s\t%.0fs\t%.0fs\t%.0fs\t%t\n", name, cfg.Time.Dt, cfg.Time.Export, cfg.Time.End, cfg.Physics.Sediment.Enabled)
			}
			return w.Flush()
		},
	}

	initCmd := &cobra.Command{
		Use:   "init-config [path]",
		Short: "write a config file to start from",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.DefaultConfig()
			if preset != "" {
				if cfg = config.GetPreset(preset); cfg == nil {
					return fmt.Errorf("unknown preset: %s (available: %v)", preset, config.ListPresets())
				}
			}
			if err := config.Save(args[0], cfg); err != nil {
				return err
			}
			fmt.Printf("wrote %s\n", args[0])
			return nil
		},
	}
	initCmd.Flags().StringVar(&preset, "preset", "", "preset to write")

	rootCmd.AddCommand(runCmd, listCmd, showCmd, plotCmd, presetsCmd, initCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func listRuns(cmd *cobra.Command, args []string) error {
	runs, err := storage.New(dataDir).List()
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("no runs found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTARTED\tPHASE\tSTEPS\tSIM TIME\tDT\tSEDIMENT\tCOST\tRESTART")
	for _, run := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%.0fs\t%.0fs\t%t\t%s\t%s\n",
			run.ID,
			run.Timestamp.Format("2006-01-02 15:04:05"),
			run.Phase,
			run.Steps,
			run.FinalTime,
			run.Dt,
			run.Sediment,
			(time.Duration(run.Elapsed * float64(time.Second))).Round(time.Millisecond),
			run.RestartFrom,
		)
	}
	return w.Flush()
}

func showRun(cmd *cobra.Command, args []string) error {
	meta, err := storage.New(dataDir).Load(args[0])
	if err != nil {
		return err
	}
	return storage.WriteJSON(os.Stdout, meta)
}

func plotRun(cmd *cobra.Command, args []string) error {
	st := storage.New(dataDir)
	id := args[0]
	meta, err := st.Load(id)
	if err != nil {
		return err
	}

	names := args[1:]
	if len(names) == 0 {
		names, err = detectorNames(st.DetectorDir(id))
		if err != nil {
			return err
		}
	}
	if len(names) == 0 {
		return fmt.Errorf("run %s has no detector output", id)
	}

	var db *detector.SQLiteSink
	if plotSQLite {
		if db, err = detector.OpenSQLite(experiment.SQLitePath(st.RunDir(id))); err != nil {
			return err
		}
		defer db.Close()
	}

	fmt.Printf("run: %s (%s, %d steps)\n\n", meta.ID, meta.Phase, meta.Steps)
	for _, name := range names {
		var values []float64
		if db != nil {
			_, values, err = db.Query(name, plotField, plotComponent)
		} else {
			values, err = csvColumn(filepath.Join(st.DetectorDir(id), name+".csv"), plotField, plotComponent)
		}
		if err != nil {
			return fmt.Errorf("detector %s: %w", name, err)
		}
		if len(values) == 0 {
			fmt.Printf("%s: no samples\n\n", name)
			continue
		}
		graph := asciigraph.Plot(values,
			asciigraph.Height(10),
			asciigraph.Width(80),
			asciigraph.Caption(fmt.Sprintf("%s %s[%d]", name, plotField, plotComponent)),
		)
		fmt.Println(graph)
		fmt.Println()
	}
	return nil
}

func csvColumn(path, field string, component int) ([]float64, error) {
	table, err := detector.LoadCSV(path)
	if err != nil {
		return nil, err
	}
	if values, err := table.Column(field); err == nil && component == 0 {
		return values, nil
	}
	return table.Column(fmt.Sprintf("%s_%d", field, component))
}

func detectorNames(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".csv") {
			names = append(names, strings.TrimSuffix(e.Name(), ".csv"))
		}
	}
	sort.Strings(names)
	return names, nil
}
