// Package backend opens a compute device and runs catalogue kernels on it.
// The host backend emulates an accelerator in Go; the opencl backend drives
// a real device and is only available in builds with the gpu tag.
package backend

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cwbudde/gpumembench/internal/bench"
	"github.com/cwbudde/gpumembench/internal/device"
	"github.com/cwbudde/gpumembench/internal/kernels"
)

// Backend identifies a device implementation.
type Backend string

const (
	BackendHost   Backend = "host"
	BackendOpenCL Backend = "opencl"
)

var (
	// ErrUnknownBackend is returned when the name does not match a known backend.
	ErrUnknownBackend = errors.New("unknown backend")
	// ErrBackendUnavailable indicates the backend is not available in this build.
	ErrBackendUnavailable = errors.New("backend unavailable")
	// ErrNotAllocated is returned when a kernel needs buffers that were never allocated.
	ErrNotAllocated = errors.New("buffers not allocated")
)

// NormalizeBackend maps arbitrary user input to a canonical backend identifier.
func NormalizeBackend(name string) Backend {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "host", "cpu", "go":
		return BackendHost
	case "gpu", "opencl", "cl":
		return BackendOpenCL
	default:
		return Backend(name)
	}
}

// SupportedBackends returns the list of backends understood by the factory.
func SupportedBackends() []Backend {
	return []Backend{BackendHost, BackendOpenCL}
}

// Device is an opened compute device holding three co-resident buffers per
// precision.
type Device interface {
	Info() device.DeviceInfo
	Capability() device.Capability

	// Allocate creates buffers a, b and c of elements elements each.
	Allocate(p kernels.Precision, elements uint64) error
	// Initialise fills a and b with the reference pattern and zeroes c.
	Initialise(p kernels.Precision) error
	// Load validates d and returns a launchable kernel with its buffer and
	// length arguments bound.
	Load(d kernels.Descriptor) (Kernel, error)
	// Verify reads back the buffers and checks c against d's operation.
	Verify(d kernels.Descriptor) error

	Close() error
}

// Kernel is a loaded kernel. Scalar arguments are bound by name.
type Kernel interface {
	bench.Launcher
	Descriptor() kernels.Descriptor
	Release() error
}

// Options configures Open.
type Options struct {
	Selection device.Selection

	// MemoryLimit caps the memory the host backend reports. Zero uses the
	// physical memory of the machine.
	MemoryLimit uint64
	// Workers bounds the host backend's parallelism. Zero uses GOMAXPROCS.
	Workers int

	Logger *slog.Logger
}

// Open constructs the requested backend.
func Open(name string, opts Options) (Device, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	switch NormalizeBackend(name) {
	case BackendHost:
		if !opts.Selection.IsAuto() && (opts.Selection.Platform != 0 || opts.Selection.Device != 0) {
			return nil, fmt.Errorf("%w: host backend has a single device, got %s",
				device.ErrInvalidSelection, opts.Selection)
		}
		return NewHostDevice(opts), nil
	case BackendOpenCL:
		return newOpenCLDevice(opts)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownBackend, name)
	}
}

// Platforms lists the platforms a backend can choose from.
func Platforms(name string, opts Options) ([]device.PlatformInfo, error) {
	switch NormalizeBackend(name) {
	case BackendHost:
		info := hostInfo(opts)
		return []device.PlatformInfo{{
			Name:    "Go host",
			Vendor:  info.Vendor,
			Version: info.Version,
			Devices: []device.DeviceInfo{info},
		}}, nil
	case BackendOpenCL:
		platforms, err := device.EnumeratePlatforms()
		if errors.Is(err, device.ErrNotBuilt) {
			return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
		}
		return platforms, err
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownBackend, name)
	}
}
