// Package bench implements the benchmark sweep engine: buffer size
// sanitisation against device memory limits and the work-group size sweep
// that times a kernel and derives bandwidth and throughput figures.
//
// The package has no knowledge of OpenCL or of any concrete device. Kernels
// are driven through the Launcher interface and time is read from a Clock.
package bench

import "log/slog"

const (
	// DefaultRepeats is the number of back-to-back dispatches timed per
	// configuration.
	DefaultRepeats = 50

	// MaxLocalSize is the largest work-group size the sweep tests. Buffer
	// element counts are rounded to a multiple of it.
	MaxLocalSize = 256

	// DefaultComputeUnits and DefaultWavefrontPool describe an AMD MI100 and
	// size the lane count of strided kernels.
	DefaultComputeUnits  = 120
	DefaultWavefrontPool = 40

	// CoResidentBuffers is how many same-typed buffers (two inputs, one
	// output) must fit in device memory at once.
	CoResidentBuffers = 3

	bytesPerGiB = 1024.0 * 1024.0 * 1024.0
)

// LocalSizes returns the work-group sizes tested by a sweep: 1, 2, 4 ... max.
func LocalSizes(max uint64) []uint64 {
	var sizes []uint64
	for local := uint64(1); local <= max; local *= 2 {
		sizes = append(sizes, local)
	}
	return sizes
}

func loggerOrDefault(l *slog.Logger) *slog.Logger {
	if l != nil {
		return l
	}
	return slog.Default()
}
