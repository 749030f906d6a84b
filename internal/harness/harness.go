// Package harness runs the benchmark on an opened device: it sizes and
// fills the buffers, sweeps every selected kernel and verifies the output.
package harness

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/cwbudde/gpumembench/internal/backend"
	"github.com/cwbudde/gpumembench/internal/bench"
	"github.com/cwbudde/gpumembench/internal/kernels"
)

// Options configures Run.
type Options struct {
	// ID names the run. Empty generates a new UUID.
	ID      string
	Backend string

	// Elements is the requested element count of every buffer.
	Elements      uint64
	Kernels       []string
	Repeats       int
	ComputeUnits  uint64
	WavefrontPool uint64
	Verify        bool

	Logger   *slog.Logger
	Observer bench.Observer
}

// VerifyError is a kernel whose output did not match the host computation.
type VerifyError struct {
	Kernel string
	Err    error
}

func (e *VerifyError) Error() string {
	return fmt.Sprintf("verification of %s failed: %v", e.Kernel, e.Err)
}

func (e *VerifyError) Unwrap() error { return e.Err }

// Run executes the benchmark. Setup failures abort the run; a kernel that
// cannot be loaded or measured is recorded in its result and the run goes
// on. The returned report is complete even when some kernels failed; use
// Report.Err for the combined failures.
func Run(ctx context.Context, dev backend.Device, opts Options) (*Report, error) {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	selected, err := kernels.Select(opts.Kernels)
	if err != nil {
		return nil, err
	}

	id := opts.ID
	if id == "" {
		id = uuid.New().String()
	}
	info := dev.Info()
	caps := dev.Capability()

	report := &Report{
		ID:        id,
		CreatedAt: time.Now(),
		Backend:   string(backend.NormalizeBackend(opts.Backend)),
		Device:    info,
		Repeats:   opts.Repeats,
	}

	log.Info("Starting benchmark run",
		"run_id", id,
		"device", info.String(),
		"elements", opts.Elements,
		"kernels", len(selected),
	)

	buffers := make(map[kernels.Precision]bench.Buffer)
	for _, p := range kernels.Precisions() {
		if p == kernels.Double && !caps.DoublePrecision {
			log.Warn("Device does not support double precision, skipping double kernels", "device", info.Name)
			continue
		}
		if !uses(selected, p) {
			continue
		}

		buf, err := bench.Sanitize(bench.SizeRequest{
			Name:             p.BufferName(),
			RequestedBytes:   bench.RequestBytes(opts.Elements, p.Width()),
			MaxAllocBytes:    caps.MaxAllocBytes,
			TotalMemoryBytes: caps.TotalMemoryBytes,
			ElementWidth:     p.Width(),
			Logger:           log,
		})
		if err != nil {
			return nil, fmt.Errorf("sizing %s: %w", p.BufferName(), err)
		}
		if err := dev.Allocate(p, buf.Elements); err != nil {
			return nil, fmt.Errorf("allocating %s: %w", p.BufferName(), err)
		}
		if err := dev.Initialise(p); err != nil {
			return nil, fmt.Errorf("initialising %s: %w", p.BufferName(), err)
		}
		buffers[p] = buf
		report.Buffers = append(report.Buffers, buf)
	}

	sweeper := bench.NewSweeper()
	if opts.Repeats > 0 {
		sweeper.Repeats = opts.Repeats
	}
	if opts.ComputeUnits > 0 {
		sweeper.ComputeUnits = opts.ComputeUnits
	}
	if opts.WavefrontPool > 0 {
		sweeper.WavefrontPool = opts.WavefrontPool
	}
	sweeper.Logger = log
	sweeper.Observer = opts.Observer
	report.Repeats = sweeper.Repeats

	for _, desc := range selected {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		kr := KernelResult{Kernel: desc.Name, Precision: desc.Precision}
		buf, ok := buffers[desc.Precision]
		if !ok {
			kr.Skipped = "device lacks double precision"
			report.Results = append(report.Results, kr)
			continue
		}

		res, err := runKernel(ctx, dev, sweeper, desc, buf.Elements, opts.Verify, log)
		kr.Result = res
		switch {
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			report.Results = append(report.Results, kr)
			return report, err
		case err != nil:
			kr.Error = err.Error()
			var vErr *VerifyError
			if errors.As(err, &vErr) {
				kr.Verification = VerificationFailed
			}
			report.errs = multierr.Append(report.errs, err)
		case opts.Verify:
			kr.Verification = VerificationPassed
		}
		report.Results = append(report.Results, kr)
	}

	log.Info("Benchmark run finished", "run_id", id, "kernels", len(report.Results), "failed", len(multierr.Errors(report.errs)))
	return report, nil
}

func runKernel(ctx context.Context, dev backend.Device, s *bench.Sweeper, desc kernels.Descriptor, elements uint64, verify bool, log *slog.Logger) (res *bench.Result, err error) {
	// Each kernel starts from freshly initialised buffers so verification
	// cannot pass on a previous kernel's output.
	if err := dev.Initialise(desc.Precision); err != nil {
		return nil, fmt.Errorf("initialising %s: %w", desc.Precision.BufferName(), err)
	}

	k, err := dev.Load(desc)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", desc.Name, err)
	}
	defer func() {
		err = multierr.Append(err, k.Release())
	}()

	res, err = s.Sweep(ctx, k, desc.Variant(elements))
	if err != nil {
		return res, err
	}

	log.Debug("Kernel swept",
		"kernel", desc.Name,
		"best_local_size", res.BestLocalSize,
		"bandwidth_gib", res.Bandwidth,
		"gflops", res.GFLOPS,
	)

	if verify {
		if err := dev.Verify(desc); err != nil {
			return res, &VerifyError{Kernel: desc.Name, Err: err}
		}
	}
	return res, nil
}

func uses(selected []kernels.Descriptor, p kernels.Precision) bool {
	for _, d := range selected {
		if d.Precision == p {
			return true
		}
	}
	return false
}
