// Package tune searches the launch geometry of a strided kernel: the
// work-group size and the number of lanes per compute unit (the wavefront
// pool) that give the shortest dispatch time.
package tune

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/bits"
	"sort"

	"github.com/cwbudde/gpumembench/internal/bench"
)

// Defaults for Options.
const (
	DefaultIterations       = 30
	DefaultPopulation       = minPopulation
	DefaultMaxWavefrontPool = 64
)

// Point is one launch geometry.
type Point struct {
	LocalSize     uint64 `json:"localSize"`
	WavefrontPool uint64 `json:"wavefrontPool"`
}

// Measure times the kernel at p. Lower is better.
type Measure func(ctx context.Context, p Point) (bench.Sample, error)

// Evaluation is a measured point.
type Evaluation struct {
	Point
	Elapsed   float64 `json:"elapsed"`
	Bandwidth float64 `json:"bandwidth"`
	Failure   string  `json:"failure,omitempty"`
}

// Result is the outcome of a search.
type Result struct {
	Best        Evaluation   `json:"best"`
	Evaluations []Evaluation `json:"evaluations"`

	// Calls counts objective evaluations including cache hits.
	Calls int `json:"calls"`
}

// Options configures Tune. Zero fields take the package defaults.
type Options struct {
	Iterations       int
	Population       int
	Seed             int64
	MaxLocalSize     uint64
	MaxWavefrontPool uint64

	Optimizer Optimizer
	Logger    *slog.Logger
}

// Tune searches the (local size, wavefront pool) grid with a continuous
// optimiser over [0,1]². Positions are snapped to the grid and every grid
// point is measured at most once.
func Tune(ctx context.Context, measure Measure, opts Options) (*Result, error) {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	iterations := opts.Iterations
	if iterations <= 0 {
		iterations = DefaultIterations
	}
	population := opts.Population
	if population <= 0 {
		population = DefaultPopulation
	}
	maxLocal := opts.MaxLocalSize
	if maxLocal == 0 {
		maxLocal = bench.MaxLocalSize
	}
	maxWFP := opts.MaxWavefrontPool
	if maxWFP == 0 {
		maxWFP = DefaultMaxWavefrontPool
	}
	optimizer := opts.Optimizer
	if optimizer == nil {
		optimizer = NewMayfly(iterations, population, opts.Seed)
	}

	grid := newGrid(maxLocal, maxWFP)
	cache := make(map[Point]*Evaluation)
	var order []Point
	res := &Result{}

	objective := func(x []float64) float64 {
		res.Calls++
		p := grid.snap(x)
		if e, ok := cache[p]; ok {
			return cost(e)
		}
		if ctx.Err() != nil {
			return math.MaxFloat64
		}

		e := &Evaluation{Point: p}
		sample, err := measure(ctx, p)
		switch {
		case err != nil:
			e.Failure = err.Error()
		case !sample.Measured():
			e.Failure = sample.Failure
		default:
			e.Elapsed = sample.Elapsed
			e.Bandwidth = sample.Bandwidth
		}
		cache[p] = e
		order = append(order, p)

		log.Debug("Tuning point measured",
			"local_size", p.LocalSize,
			"wavefront_pool", p.WavefrontPool,
			"elapsed", e.Elapsed,
			"bandwidth_gib", e.Bandwidth,
			"failure", e.Failure,
		)
		return cost(e)
	}

	if _, _, err := optimizer.Run(objective, 0, 1, 2); err != nil {
		return nil, fmt.Errorf("optimiser failed: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	for _, p := range order {
		res.Evaluations = append(res.Evaluations, *cache[p])
	}

	measured := make([]Evaluation, 0, len(res.Evaluations))
	for _, e := range res.Evaluations {
		if e.Failure == "" {
			measured = append(measured, e)
		}
	}
	if len(measured) == 0 {
		return res, bench.ErrNoMeasurement
	}
	sort.SliceStable(measured, func(i, j int) bool {
		return measured[i].Elapsed < measured[j].Elapsed
	})
	res.Best = measured[0]

	log.Info("Tuning finished",
		"local_size", res.Best.LocalSize,
		"wavefront_pool", res.Best.WavefrontPool,
		"bandwidth_gib", res.Best.Bandwidth,
		"points", len(res.Evaluations),
		"calls", res.Calls,
	)
	return res, nil
}

func cost(e *Evaluation) float64 {
	if e.Failure != "" {
		return math.MaxFloat64
	}
	return e.Elapsed
}

// grid maps [0,1]² onto power-of-two local sizes and wavefront pools 1..max.
type grid struct {
	maxExp int
	maxWFP uint64
}

func newGrid(maxLocal, maxWFP uint64) grid {
	return grid{maxExp: bits.Len64(maxLocal) - 1, maxWFP: maxWFP}
}

func (g grid) snap(x []float64) Point {
	exp := int(math.Round(clamp01(x[0]) * float64(g.maxExp)))
	wfp := 1 + uint64(math.Round(clamp01(x[1])*float64(g.maxWFP-1)))
	return Point{LocalSize: 1 << exp, WavefrontPool: wfp}
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Min(1, math.Max(0, v))
}
