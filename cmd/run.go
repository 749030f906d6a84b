package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/signal"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/cwbudde/gpumembench/internal/backend"
	"github.com/cwbudde/gpumembench/internal/bench"
	"github.com/cwbudde/gpumembench/internal/config"
	"github.com/cwbudde/gpumembench/internal/harness"
	"github.com/cwbudde/gpumembench/internal/store"
)

// errKernelsFailed makes the process exit non-zero after the report of a
// run in which some kernel failed has been printed.
var errKernelsFailed = errors.New("one or more kernels failed")

var (
	saveReport bool
	jsonOutput bool
)

var runCmd = &cobra.Command{
	Use:   "run [size]",
	Short: "Run the memory benchmark",
	Long: `Sweeps every selected kernel across work-group sizes 1..256 and prints
the best bandwidth per kernel. The optional size is the number of
elements per buffer; it must be greater than 256 and divisible by 16.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runBenchmark,
}

func init() {
	addRunFlags(runCmd.Flags())
	runCmd.Flags().BoolVar(&saveReport, "save", false, "Save the report and trace to the result store")
	runCmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the report as JSON")
	rootCmd.AddCommand(runCmd)
}

func runBenchmark(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := applyRunFlags(cmd.Flags(), &cfg); err != nil {
		return err
	}
	if len(args) == 1 {
		n, err := config.ParseSize(args[0])
		if err != nil {
			return err
		}
		cfg.Elements = n
	}
	if cmd.Flags().Changed("save") {
		cfg.Save = saveReport
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	report, err := benchmark(ctx, cfg, slog.Default())
	if report != nil {
		if perr := printReport(cmd.OutOrStdout(), report); perr != nil {
			return perr
		}
	}
	if err != nil {
		return err
	}
	if report.Failed() {
		slog.Error("Benchmark finished with failures", "run_id", report.ID, "error", report.Err())
		return errKernelsFailed
	}
	return nil
}

// benchmark opens the configured backend and runs the harness. With
// cfg.Save the trace is written while the run progresses and the report is
// stored at the end.
func benchmark(ctx context.Context, cfg config.Run, log *slog.Logger) (*harness.Report, error) {
	opts := cfg.BackendOptions()
	opts.Logger = log

	dev, err := backend.Open(cfg.Backend, opts)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := dev.Close(); err != nil {
			log.Warn("Failed to release device", "error", err)
		}
	}()

	runID := uuid.New().String()
	var (
		st       *store.FSStore
		observer bench.Observer
	)
	if cfg.Save {
		st, err = store.NewFSStore(cfg.DataDir)
		if err != nil {
			return nil, err
		}
		trace, err := store.NewTraceWriter(st.BaseDir(), runID, false)
		if err != nil {
			return nil, err
		}
		defer func() {
			if err := trace.Close(); err != nil {
				log.Warn("Failed to close trace", "path", trace.Path(), "error", err)
			}
		}()
		observer = trace.Observe
	}

	report, err := harness.Run(ctx, dev, harness.Options{
		ID:            runID,
		Backend:       cfg.Backend,
		Elements:      cfg.Elements,
		Kernels:       cfg.Kernels,
		Repeats:       cfg.Repeats,
		ComputeUnits:  cfg.ComputeUnits,
		WavefrontPool: cfg.WavefrontPool,
		Verify:        cfg.Verify,
		Logger:        log,
		Observer:      observer,
	})
	if err != nil {
		return report, err
	}

	if st != nil {
		if err := st.SaveReport(report); err != nil {
			return report, err
		}
		log.Info("Report saved", "run_id", report.ID, "data_dir", cfg.DataDir)
	}
	return report, nil
}

func printReport(w io.Writer, report *harness.Report) error {
	if jsonOutput {
		return encodeJSON(w, report)
	}
	return harness.WriteTable(w, report)
}
