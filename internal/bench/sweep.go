package bench

import (
	"context"
	"fmt"
	"log/slog"
	"math"
)

// Launcher is the kernel invocation capability the sweep needs. Enqueue
// submits one dispatch without waiting for it; Finish blocks until every
// submitted dispatch has completed. Bind rebinds a named scalar argument.
type Launcher interface {
	Enqueue(global, local uint64) error
	Bind(arg string, value uint64) error
	Finish() error
}

// Cost is the per-output-element cost model of a kernel.
type Cost struct {
	MemOps uint64 `json:"memOps" yaml:"mem_ops"`
	Flops  uint64 `json:"flops" yaml:"flops"`
}

// Variant describes one kernel to sweep.
type Variant struct {
	Name        string
	Cost        Cost
	ElementSize uint64
	Elements    uint64

	// StrideArg names the argument receiving the global size of a strided
	// kernel. Empty for kernels that use one lane per element.
	StrideArg string
}

// Strided reports whether the variant runs a fixed lane count that loops
// over the elements.
func (v Variant) Strided() bool {
	return v.StrideArg != ""
}

// Sample is the measurement of a single configuration.
type Sample struct {
	LocalSize  uint64  `json:"localSize"`
	GlobalSize uint64  `json:"globalSize"`
	Elapsed    float64 `json:"elapsed"`
	Bandwidth  float64 `json:"bandwidth"`
	Failure    string  `json:"failure,omitempty"`

	Err error `json:"-"`
}

// Measured reports whether the configuration produced a timing.
func (s Sample) Measured() bool {
	return s.Err == nil && s.Failure == ""
}

// Result aggregates a sweep. Times are seconds per batch of Repeats
// dispatches; Bandwidth (GiB/s) and GFLOPS derive from BestTime.
type Result struct {
	Kernel        string   `json:"kernel"`
	Elements      uint64   `json:"elements"`
	ElementSize   uint64   `json:"elementSize"`
	Repeats       int      `json:"repeats"`
	Strided       bool     `json:"strided"`
	BestLocalSize uint64   `json:"bestLocalSize"`
	BestTime      float64  `json:"bestTime"`
	WorstTime     float64  `json:"worstTime"`
	TotalTime     float64  `json:"totalTime"`
	AvgTime       float64  `json:"avgTime"`
	Bandwidth     float64  `json:"bandwidth"`
	GFLOPS        float64  `json:"gflops"`
	Measured      int      `json:"measured"`
	Samples       []Sample `json:"samples"`
}

// Observer receives every sample as soon as it is taken.
type Observer func(kernel string, s Sample)

// Sweeper times a kernel over the work-group sizes 1..MaxLocalSize.
// Zero fields take the package defaults.
type Sweeper struct {
	Repeats       int
	MaxLocalSize  uint64
	ComputeUnits  uint64
	WavefrontPool uint64
	Clock         Clock
	Logger        *slog.Logger
	Observer      Observer
}

// NewSweeper returns a Sweeper with default settings and a wall clock.
func NewSweeper() *Sweeper {
	return &Sweeper{
		Repeats:       DefaultRepeats,
		MaxLocalSize:  MaxLocalSize,
		ComputeUnits:  DefaultComputeUnits,
		WavefrontPool: DefaultWavefrontPool,
		Clock:         NewWallClock(),
	}
}

// Lanes is the global size of a strided kernel at the given local size.
func (s *Sweeper) Lanes(local uint64) uint64 {
	cu, wfp := s.ComputeUnits, s.WavefrontPool
	if cu == 0 {
		cu = DefaultComputeUnits
	}
	if wfp == 0 {
		wfp = DefaultWavefrontPool
	}
	return cu * wfp * local
}

// Sweep dispatches v through l once per local size and returns the
// aggregated result. A configuration whose bind, enqueue or finish fails is
// recorded with its error and left out of the statistics. If no
// configuration could be measured the partial result is returned together
// with ErrNoMeasurement. ctx is only checked between configurations.
func (s *Sweeper) Sweep(ctx context.Context, l Launcher, v Variant) (*Result, error) {
	log := loggerOrDefault(s.Logger)
	repeats := s.repeats()
	maxLocal := s.MaxLocalSize
	if maxLocal == 0 {
		maxLocal = MaxLocalSize
	}

	res := &Result{
		Kernel:      v.Name,
		Elements:    v.Elements,
		ElementSize: v.ElementSize,
		Repeats:     repeats,
		Strided:     v.Strided(),
		BestTime:    math.MaxFloat64,
	}

	for _, local := range LocalSizes(maxLocal) {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		sample := s.Measure(l, v, local)
		if sample.Measured() {
			if sample.Elapsed < res.BestTime {
				res.BestTime = sample.Elapsed
				res.BestLocalSize = local
			}
			if sample.Elapsed > res.WorstTime {
				res.WorstTime = sample.Elapsed
			}
			res.TotalTime += sample.Elapsed
			res.Measured++
		}

		res.Samples = append(res.Samples, sample)
		if s.Observer != nil {
			s.Observer(v.Name, sample)
		}
	}

	if res.Measured == 0 {
		res.BestTime = 0
		log.Warn("No configuration could be measured", "kernel", v.Name)
		return res, fmt.Errorf("%w: %s", ErrNoMeasurement, v.Name)
	}

	res.AvgTime = res.TotalTime / float64(res.Measured)
	res.Bandwidth = Bandwidth(v.Cost.MemOps, repeats, v.Elements, v.ElementSize, res.BestTime)
	res.GFLOPS = GFLOPS(v.Cost.Flops, repeats, v.Elements, res.BestTime)
	return res, nil
}

// Measure times one configuration of v: Repeats dispatches at the given
// local size followed by a single Finish. A failed configuration is
// returned with Err and Failure set.
func (s *Sweeper) Measure(l Launcher, v Variant, local uint64) Sample {
	log := loggerOrDefault(s.Logger)
	repeats := s.repeats()
	clock := s.Clock
	if clock == nil {
		clock = NewWallClock()
	}

	global := v.Elements
	if v.Strided() {
		global = s.Lanes(local)
	}

	if global%local != 0 {
		log.Warn("Local size does not divide global size",
			"kernel", v.Name,
			"global_size", global,
			"local_size", local,
			"remainder", global%local,
		)
	}

	sample := Sample{LocalSize: local, GlobalSize: global}
	elapsed, err := s.measure(clock, l, v, global, local, repeats)
	if err != nil {
		sample.Err = err
		sample.Failure = err.Error()
		log.Warn("Configuration failed", "kernel", v.Name, "local_size", local, "err", err)
		return sample
	}

	sample.Elapsed = elapsed
	sample.Bandwidth = Bandwidth(v.Cost.MemOps, repeats, v.Elements, v.ElementSize, elapsed)
	log.Debug("Configuration measured",
		"kernel", v.Name,
		"local_size", local,
		"global_size", global,
		"elapsed", elapsed,
		"bandwidth_gib", sample.Bandwidth,
	)
	return sample
}

func (s *Sweeper) repeats() int {
	if s.Repeats <= 0 {
		return DefaultRepeats
	}
	return s.Repeats
}

func (s *Sweeper) measure(clock Clock, l Launcher, v Variant, global, local uint64, repeats int) (float64, error) {
	if v.Strided() {
		if err := l.Bind(v.StrideArg, global); err != nil {
			return 0, &DispatchError{Op: "bind", Kernel: v.Name, LocalSize: local, Err: err}
		}
	}

	start := clock.Now()
	for n := 0; n < repeats; n++ {
		if err := l.Enqueue(global, local); err != nil {
			// Drain the dispatches already submitted so the next
			// configuration starts on an idle queue.
			if ferr := l.Finish(); ferr != nil {
				loggerOrDefault(s.Logger).Debug("Drain after failed enqueue", "kernel", v.Name, "err", ferr)
			}
			return 0, &DispatchError{Op: "enqueue", Kernel: v.Name, LocalSize: local, Err: err}
		}
	}
	if err := l.Finish(); err != nil {
		return 0, &DispatchError{Op: "finish", Kernel: v.Name, LocalSize: local, Err: err}
	}
	return clock.Now() - start, nil
}

// Bandwidth returns GiB/s for memOps accesses of elementSize bytes per
// element over repeats dispatches of elements elements taking seconds.
func Bandwidth(memOps uint64, repeats int, elements, elementSize uint64, seconds float64) float64 {
	if seconds <= 0 {
		return 0
	}
	bytes := float64(memOps) * float64(repeats) * float64(elements) * float64(elementSize)
	return bytes / bytesPerGiB / seconds
}

// GFLOPS returns 10^9 floating-point operations per second.
func GFLOPS(flops uint64, repeats int, elements uint64, seconds float64) float64 {
	if seconds <= 0 {
		return 0
	}
	return float64(flops) * float64(repeats) * float64(elements) / 1.0e9 / seconds
}
