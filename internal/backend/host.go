package backend

import (
	"fmt"
	"log/slog"
	"runtime"
	"strings"
	"sync"
	"unsafe"

	"github.com/dustin/go-humanize"
	"golang.org/x/sys/cpu"

	"github.com/cwbudde/gpumembench/internal/device"
	"github.com/cwbudde/gpumembench/internal/kernels"
)

const (
	hostMaxWorkGroupSize = 1024
	hostQueueDepth       = 64
	// Used when the platform cannot report physical memory.
	hostFallbackMemory = 4 << 30
)

// HostDevice runs catalogue kernels on host memory. Dispatches are queued
// and executed in order by a queue goroutine; each dispatch is split into
// chunks of whole work-groups that run in parallel.
type HostDevice struct {
	info    device.DeviceInfo
	workers int
	log     *slog.Logger
	queue   *commandQueue

	mu       sync.Mutex
	closed   bool
	doubles  *hostBuffers[float64]
	floats   *hostBuffers[float32]
	elements map[kernels.Precision]uint64
}

type hostBuffers[T float32 | float64] struct {
	a, b, c []T
}

func newHostBuffers[T float32 | float64](n uint64) *hostBuffers[T] {
	return &hostBuffers[T]{a: make([]T, n), b: make([]T, n), c: make([]T, n)}
}

// NewHostDevice creates the host emulator.
func NewHostDevice(opts Options) *HostDevice {
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	d := &HostDevice{
		info:     hostInfo(opts),
		workers:  workers,
		log:      log,
		queue:    newCommandQueue(hostQueueDepth),
		elements: make(map[kernels.Precision]uint64),
	}

	log.Info("Host backend initialised",
		"device", d.info.Name,
		"workers", workers,
		"memory", humanize.IBytes(d.info.Capability.TotalMemoryBytes),
		"max_alloc", humanize.IBytes(d.info.Capability.MaxAllocBytes),
	)
	return d
}

func hostInfo(opts Options) device.DeviceInfo {
	total := physicalMemory()
	if total == 0 {
		total = hostFallbackMemory
	}
	if opts.MemoryLimit > 0 && opts.MemoryLimit < total {
		total = opts.MemoryLimit
	}

	return device.DeviceInfo{
		Name:    "Go host emulator",
		Vendor:  runtime.GOOS + "/" + runtime.GOARCH,
		Version: runtime.Version() + " " + strings.Join(cpuFeatures(), " "),
		Type:    device.DeviceTypeCPU,
		Capability: device.Capability{
			// OpenCL guarantees at least a quarter of global memory per allocation.
			MaxAllocBytes:    total / 4,
			TotalMemoryBytes: total,
			CacheLineBytes:   uint64(unsafe.Sizeof(cpu.CacheLinePad{})),
			ComputeUnits:     uint64(runtime.NumCPU()),
			MaxWorkGroupSize: hostMaxWorkGroupSize,
			DoublePrecision:  true,
		},
	}
}

func cpuFeatures() []string {
	var features []string
	add := func(ok bool, name string) {
		if ok {
			features = append(features, name)
		}
	}
	add(cpu.X86.HasSSE41, "sse4.1")
	add(cpu.X86.HasAVX, "avx")
	add(cpu.X86.HasAVX2, "avx2")
	add(cpu.X86.HasFMA, "fma")
	add(cpu.X86.HasAVX512F, "avx512f")
	add(cpu.ARM64.HasASIMD, "asimd")
	add(cpu.ARM64.HasSVE, "sve")
	return features
}

// Info returns the emulator's description.
func (d *HostDevice) Info() device.DeviceInfo { return d.info }

// Capability returns the emulator's limits.
func (d *HostDevice) Capability() device.Capability { return d.info.Capability }

// Allocate replaces the buffers of precision p.
func (d *HostDevice) Allocate(p kernels.Precision, elements uint64) error {
	width := p.Width()
	if width == 0 {
		return fmt.Errorf("allocate: unsupported precision %q", p)
	}
	if elements == 0 || elements*width > d.info.Capability.MaxAllocBytes {
		return device.NewStatusError("clCreateBuffer("+p.BufferName()+")", device.CLInvalidBufferSize)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return errDeviceClosed
	}

	switch p {
	case kernels.Double:
		d.doubles = newHostBuffers[float64](elements)
	case kernels.Float:
		d.floats = newHostBuffers[float32](elements)
	}
	d.elements[p] = elements

	d.log.Debug("Buffers allocated", "precision", p, "elements", elements,
		"bytes", humanize.IBytes(3*elements*width))
	return nil
}

// Initialise runs the initialisation kernel of precision p to completion.
func (d *HostDevice) Initialise(p kernels.Precision) error {
	k, err := d.Load(kernels.Initialiser(p))
	if err != nil {
		return err
	}
	defer k.Release()

	elements := d.elementsOf(p)
	if err := k.Enqueue(elements, kernels.InitLocalSize); err != nil {
		return err
	}
	return k.Finish()
}

// Load binds d's buffers and length argument.
func (d *HostDevice) Load(desc kernels.Descriptor) (Kernel, error) {
	if err := desc.Validate(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, errDeviceClosed
	}

	elements := d.elements[desc.Precision]
	if elements == 0 {
		return nil, fmt.Errorf("%w: %s needs %s", ErrNotAllocated, desc.Name, desc.Precision.BufferName())
	}

	var body workItems
	switch desc.Precision {
	case kernels.Double:
		body = program(desc, d.doubles)
	case kernels.Float:
		body = program(desc, d.floats)
	}

	k := &hostKernel{
		dev:      d,
		desc:     desc,
		body:     body,
		elements: elements,
		scalars:  make(map[string]uint64),
	}
	if desc.LengthArg != "" {
		if err := k.Bind(desc.LengthArg, elements); err != nil {
			return nil, err
		}
	}
	return k, nil
}

// Verify checks the output buffer of desc's precision.
func (d *HostDevice) Verify(desc kernels.Descriptor) error {
	if err := d.queue.finish(); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	switch desc.Precision {
	case kernels.Double:
		if d.doubles == nil {
			return fmt.Errorf("%w: %s", ErrNotAllocated, desc.Name)
		}
		return check(desc, d.doubles.a, d.doubles.b, d.doubles.c)
	case kernels.Float:
		if d.floats == nil {
			return fmt.Errorf("%w: %s", ErrNotAllocated, desc.Name)
		}
		return check(desc, d.floats.a, d.floats.b, d.floats.c)
	default:
		return fmt.Errorf("verify: unsupported precision %q", desc.Precision)
	}
}

// Close drains the queue and drops the buffers.
func (d *HostDevice) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.doubles, d.floats = nil, nil
	d.mu.Unlock()

	return d.queue.close()
}

func (d *HostDevice) elementsOf(p kernels.Precision) uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.elements[p]
}

func (d *HostDevice) isClosed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}
