package tune

import (
	"context"
	"errors"
	"fmt"

	"github.com/cwbudde/gpumembench/internal/bench"
)

// ErrNotStrided is returned for kernels whose global size is the element
// count, which leaves no lane count to tune.
var ErrNotStrided = errors.New("kernel is not strided")

// KernelMeasure returns a Measure timing variant v through l. Each point
// runs repeats dispatches over computeUnits × WavefrontPool × LocalSize
// lanes, the same way a sweep does.
func KernelMeasure(l bench.Launcher, v bench.Variant, computeUnits uint64, repeats int) (Measure, error) {
	if !v.Strided() {
		return nil, fmt.Errorf("%w: %s", ErrNotStrided, v.Name)
	}

	return func(ctx context.Context, p Point) (bench.Sample, error) {
		if err := ctx.Err(); err != nil {
			return bench.Sample{}, err
		}
		s := bench.NewSweeper()
		s.Repeats = repeats
		s.ComputeUnits = computeUnits
		s.WavefrontPool = p.WavefrontPool
		return s.Measure(l, v, p.LocalSize), nil
	}, nil
}
