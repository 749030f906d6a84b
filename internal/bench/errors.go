package bench

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidSize is returned by Sanitize for zero element widths or
	// device memory figures.
	ErrInvalidSize = errors.New("invalid buffer size request")
	// ErrBufferTooSmall is returned when no multiple of MaxLocalSize elements
	// fits the device.
	ErrBufferTooSmall = errors.New("buffer too small for largest work-group size")
	// ErrNoMeasurement is returned by Sweep when every configuration failed.
	ErrNoMeasurement = errors.New("no configuration produced a measurement")
)

// DispatchError reports a failed device operation within one sweep
// configuration.
type DispatchError struct {
	Op        string // "bind", "enqueue" or "finish"
	Kernel    string
	LocalSize uint64
	Err       error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("%s %s (local size %d): %v", e.Op, e.Kernel, e.LocalSize, e.Err)
}

func (e *DispatchError) Unwrap() error {
	return e.Err
}
