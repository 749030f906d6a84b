package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/cwbudde/gpumembench/internal/backend"
	"github.com/cwbudde/gpumembench/internal/bench"
	"github.com/cwbudde/gpumembench/internal/config"
	"github.com/cwbudde/gpumembench/internal/kernels"
	"github.com/cwbudde/gpumembench/internal/tune"
)

var (
	tuneKernel     string
	tuneIterations int
	tunePopulation int
	tuneSeed       int64
	tuneMaxPool    uint64
)

var tuneCmd = &cobra.Command{
	Use:   "tune",
	Short: "Search the launch geometry of a strided kernel",
	Long: `Searches the work-group size and the wavefront pool (lanes per compute
unit and work-group) that minimise the dispatch time of a strided kernel,
using the Mayfly optimiser. The best wavefront pool can be passed to
run --wavefront-pool.`,
	RunE: runTune,
}

func init() {
	addRunFlags(tuneCmd.Flags())
	tuneCmd.Flags().StringVar(&tuneKernel, "kernel", "elementwiseFS", "Strided kernel to tune")
	tuneCmd.Flags().IntVar(&tuneIterations, "iters", tune.DefaultIterations, "Optimiser iterations")
	tuneCmd.Flags().IntVar(&tunePopulation, "pop", tune.DefaultPopulation, "Optimiser population (at least 20)")
	tuneCmd.Flags().Int64Var(&tuneSeed, "seed", 42, "Random seed")
	tuneCmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the result as JSON")
	tuneCmd.Flags().Uint64Var(&tuneMaxPool, "max-wavefront-pool", tune.DefaultMaxWavefrontPool, "Largest wavefront pool to try")
	rootCmd.AddCommand(tuneCmd)
}

func runTune(cmd *cobra.Command, args []string) error {
	cfg, err := resolveConfig(cmd.Flags())
	if err != nil {
		return err
	}

	desc, err := kernels.Lookup(tuneKernel)
	if err != nil {
		return err
	}
	if !desc.Strided() {
		return fmt.Errorf("%w: %s", tune.ErrNotStrided, desc.Name)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	res, err := tuneKernelOn(ctx, cfg, desc, slog.Default())
	if err != nil {
		return err
	}
	return writeTuneResult(cmd.OutOrStdout(), desc, cfg, res)
}

func tuneKernelOn(ctx context.Context, cfg config.Run, desc kernels.Descriptor, log *slog.Logger) (res *tune.Result, err error) {
	opts := cfg.BackendOptions()
	opts.Logger = log

	dev, err := backend.Open(cfg.Backend, opts)
	if err != nil {
		return nil, err
	}
	defer func() {
		err = multierr.Append(err, dev.Close())
	}()

	caps := dev.Capability()
	if desc.Precision == kernels.Double && !caps.DoublePrecision {
		return nil, fmt.Errorf("%s needs double precision, which %s lacks", desc.Name, dev.Info().Name)
	}

	buf, err := bench.Sanitize(bench.SizeRequest{
		Name:             desc.Precision.BufferName(),
		RequestedBytes:   bench.RequestBytes(cfg.Elements, desc.Precision.Width()),
		MaxAllocBytes:    caps.MaxAllocBytes,
		TotalMemoryBytes: caps.TotalMemoryBytes,
		ElementWidth:     desc.Precision.Width(),
		Logger:           log,
	})
	if err != nil {
		return nil, err
	}
	if err := dev.Allocate(desc.Precision, buf.Elements); err != nil {
		return nil, err
	}
	if err := dev.Initialise(desc.Precision); err != nil {
		return nil, err
	}

	k, err := dev.Load(desc)
	if err != nil {
		return nil, err
	}
	defer func() {
		err = multierr.Append(err, k.Release())
	}()

	measure, err := tune.KernelMeasure(k, desc.Variant(buf.Elements), cfg.ComputeUnits, cfg.Repeats)
	if err != nil {
		return nil, err
	}

	maxLocal := min(uint64(bench.MaxLocalSize), caps.MaxWorkGroupSize)
	res, err = tune.Tune(ctx, measure, tune.Options{
		Iterations:       tuneIterations,
		Population:       tunePopulation,
		Seed:             tuneSeed,
		MaxLocalSize:     maxLocal,
		MaxWavefrontPool: tuneMaxPool,
		Logger:           log,
	})
	if err != nil {
		return res, err
	}

	if cfg.Verify {
		if err := dev.Verify(desc); err != nil {
			return res, fmt.Errorf("verification of %s failed: %w", desc.Name, err)
		}
	}
	return res, nil
}

func writeTuneResult(out io.Writer, desc kernels.Descriptor, cfg config.Run, res *tune.Result) error {
	if jsonOutput {
		return encodeJSON(out, res)
	}

	fmt.Fprintf(out, "Kernel %s, %d compute units, %d repeats\n", desc.Name, cfg.ComputeUnits, cfg.Repeats)
	fmt.Fprintf(out, "Measured %d distinct points in %d evaluations\n\n", len(res.Evaluations), res.Calls)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "LOCAL\tWAVEFRONT POOL\tGLOBAL\tTIME (s)\tGIB/S\t")
	best := res.Best
	fmt.Fprintf(w, "%d\t%d\t%d\t%.6f\t%.3f\tbest\n",
		best.LocalSize, best.WavefrontPool,
		cfg.ComputeUnits*best.WavefrontPool*best.LocalSize,
		best.Elapsed, best.Bandwidth)
	if err := w.Flush(); err != nil {
		return err
	}

	_, err := fmt.Fprintf(out, "\nSuggested: run --kernels %s --wavefront-pool %d\n", desc.Name, best.WavefrontPool)
	return err
}
